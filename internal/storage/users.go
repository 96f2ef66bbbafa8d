package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/whisper/dm-server/internal/model"
)

// CreateUser inserts u. It returns ErrConflict when the username is taken,
// compared case-insensitively.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	query := s.rebind("INSERT INTO users (id, username, username_key, password_hash) VALUES (?, ?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Username, strings.ToLower(u.Username), u.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("storage: create user: %w", err)
	}
	return nil
}

// UserByID returns the user with the given id.
func (s *Store) UserByID(ctx context.Context, id string) (*model.User, error) {
	return s.scanUser(ctx, "SELECT id, username, password_hash FROM users WHERE id = ?", id)
}

// UserByName returns the user with the given username, ignoring case.
func (s *Store) UserByName(ctx context.Context, username string) (*model.User, error) {
	return s.scanUser(ctx, "SELECT id, username, password_hash FROM users WHERE username_key = ?", strings.ToLower(username))
}

func (s *Store) scanUser(ctx context.Context, query string, arg string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, s.rebind(query), arg).Scan(&u.ID, &u.Username, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get user: %w", err)
	}
	return &u, nil
}

// UsersByIDs returns the users matching ids in no particular order. Unknown
// ids are skipped.
func (s *Store) UsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := "SELECT id, username, password_hash FROM users WHERE id IN (" + placeholders(len(ids)) + ")"
	rows, err := s.db.QueryContext(ctx, s.rebind(query), stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("storage: list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash); err != nil {
			return nil, fmt.Errorf("storage: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
