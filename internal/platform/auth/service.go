package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAlreadyExists      = errors.New("already exists")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDisabled           = errors.New("account disabled")
)

type Service struct {
	store  AccountStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(store AccountStore, secret []byte, ttl time.Duration) *Service {
	return &Service{store: store, secret: secret, ttl: ttl, now: time.Now}
}

// Register creates a user and its profile in one step.
func (s *Service) Register(ctx context.Context, in NewUserInput) (*User, error) {
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	exists, err := s.store.GetByUsername(ctx, strings.TrimSpace(in.Username))
	if err != nil {
		return nil, err
	}
	if exists != nil {
		return nil, ErrAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u, err := NewUser(in, string(hash))
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (string, *User, error) {
	u, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		return "", nil, err
	}
	if u == nil {
		return "", nil, ErrInvalidCredentials
	}
	if u.IsDisabled {
		return "", nil, ErrDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(u)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// IssueToken signs an HS256 token carrying username, user id and role.
func (s *Service) IssueToken(u *User) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  u.Username,
		"uid":  strconv.FormatInt(u.ID, 10),
		"role": string(u.Role()),
		"iat":  now.Unix(),
		"exp":  now.Add(s.ttl).Unix(),
	})
	return token.SignedString(s.secret)
}

func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

type UpdateProfileInput struct {
	FirstName *string
	LastName  *string
	Email     *string
	StudentID *string
	Phone     *string
}

func (s *Service) UpdateProfile(ctx context.Context, id int64, in UpdateProfileInput) (*User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.FirstName != nil {
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		u.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Email != nil {
		u.Email = strings.TrimSpace(*in.Email)
	}
	switch p := u.Profile.(type) {
	case StudentProfile:
		if in.StudentID != nil {
			p.StudentID = strings.TrimSpace(*in.StudentID)
		}
		if in.Phone != nil {
			p.Phone = strings.TrimSpace(*in.Phone)
		}
		u.Profile = p
	case LibrarianProfile:
		if in.StudentID != nil && *in.StudentID != "" {
			return nil, fmt.Errorf("%w: librarians have no student id", ErrInvalidInput)
		}
		if in.Phone != nil {
			p.Phone = strings.TrimSpace(*in.Phone)
		}
		u.Profile = p
	}
	if err := s.store.UpdateProfile(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
