package auth

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleStudent   Role = "student"
	RoleLibrarian Role = "librarian"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoleStudent:
		return RoleStudent, nil
	case RoleLibrarian:
		return RoleLibrarian, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// Profile is either a StudentProfile or a LibrarianProfile. Every user has
// exactly one; it is created together with the user by NewUser.
type Profile interface {
	Role() Role
	isProfile()
}

type StudentProfile struct {
	StudentID string
	Phone     string
}

func (StudentProfile) Role() Role { return RoleStudent }
func (StudentProfile) isProfile() {}

type LibrarianProfile struct {
	Phone string
}

func (LibrarianProfile) Role() Role { return RoleLibrarian }
func (LibrarianProfile) isProfile() {}

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	Email        string
	Profile      Profile
	IsDisabled   bool
	CreatedAt    time.Time
}

func (u *User) Role() Role { return u.Profile.Role() }

func (u *User) IsLibrarian() bool {
	_, ok := u.Profile.(LibrarianProfile)
	return ok
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// NewUserInput carries registration data before hashing.
type NewUserInput struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
	Email     string
	Role      Role
	StudentID string
	Phone     string
}

func newProfile(role Role, studentID, phone string) Profile {
	if role == RoleLibrarian {
		return LibrarianProfile{Phone: phone}
	}
	return StudentProfile{StudentID: studentID, Phone: phone}
}

// NewUser is the single construction path for accounts. It validates the
// input and attaches the role profile; passwordHash must already be hashed.
func NewUser(in NewUserInput, passwordHash string) (*User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || len(username) > 150 {
		return nil, fmt.Errorf("%w: username must be 1..150 characters", ErrInvalidInput)
	}
	if passwordHash == "" {
		return nil, fmt.Errorf("%w: password required", ErrInvalidInput)
	}
	role := in.Role
	if role == "" {
		role = RoleStudent
	}
	if role != RoleStudent && role != RoleLibrarian {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	return &User{
		Username:     username,
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        strings.TrimSpace(in.Email),
		Profile:      newProfile(role, strings.TrimSpace(in.StudentID), strings.TrimSpace(in.Phone)),
	}, nil
}

// profileColumns flattens a profile into the users table columns.
func profileColumns(p Profile) (role Role, studentID, phone string) {
	switch v := p.(type) {
	case StudentProfile:
		return RoleStudent, v.StudentID, v.Phone
	case LibrarianProfile:
		return RoleLibrarian, "", v.Phone
	}
	return RoleStudent, "", ""
}
