// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// User is a registered account. The password hash never leaves the
// store.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// CreateUser registers a new account. Returns ErrEmailTaken if the
// email is already registered.
func (s *Store) CreateUser(ctx context.Context, email, password string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hashing password: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return User{}, err
	}
	defer s.pool.Put(conn)

	user := User{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: s.now(),
	}
	err = sqlitex.Execute(conn,
		"INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{user.ID, user.Email, string(hash), user.CreatedAt.Unix()},
		})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintUnique {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("user created", "user_id", user.ID)
	return user, nil
}

// AuthenticateUser checks an email/password pair. Returns
// ErrBadCredentials for an unknown email or a wrong password; callers
// must not distinguish the two.
func (s *Store) AuthenticateUser(ctx context.Context, email, password string) (User, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return User{}, err
	}
	defer s.pool.Put(conn)

	var user User
	var hash string
	err = sqlitex.Execute(conn,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = ?",
		&sqlitex.ExecOptions{
			Args: []any{email},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				user.ID = stmt.ColumnText(0)
				user.Email = stmt.ColumnText(1)
				hash = stmt.ColumnText(2)
				user.CreatedAt = time.Unix(stmt.ColumnInt64(3), 0)
				return nil
			},
		})
	if err != nil {
		return User{}, fmt.Errorf("querying user: %w", err)
	}
	if user.ID == "" {
		return User{}, ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, ErrBadCredentials
	}
	return user, nil
}
