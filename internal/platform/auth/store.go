package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"steppe-library/internal/platform/db"
)

type AccountStore interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, u *User) error
	UpdateProfile(ctx context.Context, u *User) error
}

type Store struct{ db db.DBTX }

func NewStore(conn db.DBTX) AccountStore {
	return &Store{db: conn}
}

const selectUser = `
SELECT user_id, username, password_hash, first_name, last_name, email, role, student_id, phone, is_disabled, created_at
FROM users
`

func scanUser(row interface{ Scan(dest ...any) error }) (*User, error) {
	var (
		u                User
		isDisabledInt    int
		role, sid, phone string
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Email,
		&role, &sid, &phone, &isDisabledInt, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.IsDisabled = isDisabledInt != 0
	u.Profile = newProfile(Role(role), sid, phone)
	return &u, nil
}

func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, selectUser+`WHERE username = ? LIMIT 1`, username))
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", username, err)
	}
	return u, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, selectUser+`WHERE user_id = ? LIMIT 1`, id))
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

func (s *Store) Create(ctx context.Context, u *User) error {
	const q = `
INSERT INTO users (username, password_hash, first_name, last_name, email, role, student_id, phone, is_disabled, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NOW(6))
`
	role, sid, phone := profileColumns(u.Profile)
	res, err := s.db.ExecContext(ctx, q, u.Username, u.PasswordHash, u.FirstName, u.LastName, u.Email, string(role), sid, phone)
	if err != nil {
		if db.IsDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, u *User) error {
	const q = `
UPDATE users SET first_name = ?, last_name = ?, email = ?, student_id = ?, phone = ?
WHERE user_id = ?
`
	_, sid, phone := profileColumns(u.Profile)
	// RowsAffected is 0 for an unchanged row in MySQL, so it is not a
	// not-found signal here; callers load the user first.
	if _, err := s.db.ExecContext(ctx, q, u.FirstName, u.LastName, u.Email, sid, phone, u.ID); err != nil {
		return fmt.Errorf("update user %d: %w", u.ID, err)
	}
	return nil
}
