// Package auth manages accounts and bearer-token sessions. Passwords are
// stored as bcrypt hashes; sessions live in Redis via package session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/whisper/dm-server/internal/apierror"
	"github.com/whisper/dm-server/internal/idgen"
	"github.com/whisper/dm-server/internal/model"
	"github.com/whisper/dm-server/internal/session"
	"github.com/whisper/dm-server/internal/storage"
)

const (
	MinUsernameLen = 3
	MaxUsernameLen = 32
	MinPasswordLen = 8
	MaxPasswordLen = 72 // bcrypt input limit
	MaxDeviceLen   = 100
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Identity is the authenticated principal behind a token.
type Identity struct {
	SessionID    string
	UserID       string
	Username     string
	PasswordHash string
}

// Service implements signup, login, logout and token validation.
type Service struct {
	users    *storage.Store
	sessions *session.Store
	cost     int
}

// NewService returns a Service. A cost of zero uses bcrypt.DefaultCost.
func NewService(users *storage.Store, sessions *session.Store, cost int) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{users: users, sessions: sessions, cost: cost}
}

// ValidateCredentials checks signup input.
func ValidateCredentials(username, password string) error {
	var fields []apierror.FieldError
	n := utf8.RuneCountInString(username)
	switch {
	case n < MinUsernameLen || n > MaxUsernameLen:
		fields = append(fields, apierror.FieldError{Field: "username", Errors: []string{"Must be at least 3 characters long and at most 32 characters long."}})
	case !usernamePattern.MatchString(username):
		fields = append(fields, apierror.FieldError{Field: "username", Errors: []string{"Must be made up of english alphabets, numbers, hyphens and underscores."}})
	}
	if err := validatePassword(password); err != nil {
		fields = append(fields, *err)
	}
	if len(fields) > 0 {
		return apierror.Validation(fields...)
	}
	return nil
}

// ValidateLogin checks login input.
func ValidateLogin(username, password, device string) error {
	var fields []apierror.FieldError
	if utf8.RuneCountInString(username) > MaxUsernameLen {
		fields = append(fields, apierror.FieldError{Field: "username", Errors: []string{"Must be at most 32 characters long."}})
	}
	if err := validatePassword(password); err != nil {
		fields = append(fields, *err)
	}
	if n := utf8.RuneCountInString(device); device != "" && n > MaxDeviceLen {
		fields = append(fields, apierror.FieldError{Field: "friendlyName", Errors: []string{"Must be between 1 and 100 characters long."}})
	}
	if len(fields) > 0 {
		return apierror.Validation(fields...)
	}
	return nil
}

func validatePassword(password string) *apierror.FieldError {
	switch {
	case len(password) < MinPasswordLen:
		return &apierror.FieldError{Field: "password", Errors: []string{"Must be at least 8 characters long."}}
	case len(password) > MaxPasswordLen:
		return &apierror.FieldError{Field: "password", Errors: []string{"Must be at most 72 bytes long."}}
	}
	return nil
}

// Signup creates an account.
func (s *Service) Signup(ctx context.Context, username, password string) (*model.User, error) {
	if err := ValidateCredentials(username, password); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	u := &model.User{ID: idgen.New(), Username: username, PasswordHash: string(hash)}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, apierror.ErrDuplicateUser
		}
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	return u, nil
}

// Login checks credentials and opens a new session labelled with device.
func (s *Service) Login(ctx context.Context, username, password, device string) (*model.User, *session.Session, error) {
	if err := ValidateLogin(username, password, device); err != nil {
		return nil, nil, err
	}
	u, err := s.users.UserByName(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, apierror.ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("auth: load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, nil, apierror.ErrInvalidCredentials
	}

	sess, err := s.sessions.Create(ctx, u.ID, device)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: create session: %w", err)
	}
	return u, sess, nil
}

// Logout ends the session.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("auth: logout: %w", err)
	}
	return nil
}

// ValidateToken resolves token to its identity and slides the session's
// expiry. Unknown tokens and tokens of deleted users fail with
// apierror.ErrUnauthorized.
func (s *Service) ValidateToken(ctx context.Context, token string) (*Identity, error) {
	sess, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("auth: lookup session: %w", err)
	}
	if sess == nil {
		return nil, apierror.ErrUnauthorized
	}

	u, err := s.users.UserByID(ctx, sess.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apierror.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load user: %w", err)
	}

	if err := s.sessions.Touch(ctx, sess); err != nil {
		log.Printf("auth: touch session=%s: %v", sess.ID, err)
	}
	return &Identity{
		SessionID:    sess.ID,
		UserID:       u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
	}, nil
}
