// Package session stores login sessions in Redis. A session binds an opaque
// bearer token to a user and expires after a sliding period of inactivity.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for session hashes.
	SessionPrefix = "session:"

	// TokenPrefix maps a bearer token to its session id.
	TokenPrefix = "session_token:"

	// DefaultTTL is the sliding expiry of a session.
	DefaultTTL = 30 * 24 * time.Hour

	tokenBytes = 36
)

// Session is a login session stored in Redis.
type Session struct {
	ID         string `redis:"id"`
	UserID     string `redis:"user_id"`
	Token      string `redis:"token"`
	Device     string `redis:"device"`      // optional client label
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages sessions in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a session store connected to Redis at redisAddr.
func NewStore(redisAddr string, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return NewStoreWithClient(client, ttl), nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

// Create issues a new session and token for userID.
func (s *Store) Create(ctx context.Context, userID, device string) (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("session: token: %w", err)
	}
	now := time.Now().Unix()
	sess := &Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		Token:      token,
		Device:     device,
		CreatedAt:  now,
		LastActive: now,
	}

	key := SessionPrefix + sess.ID
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":          sess.ID,
		"user_id":     sess.UserID,
		"token":       sess.Token,
		"device":      sess.Device,
		"created_at":  sess.CreatedAt,
		"last_active": sess.LastActive,
	})
	pipe.Expire(ctx, key, s.ttl)
	pipe.Set(ctx, TokenPrefix+token, sess.ID, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// GetByToken resolves a bearer token. Returns nil if the token is unknown or
// expired.
func (s *Store) GetByToken(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, nil
	}
	id, err := s.client.Get(ctx, TokenPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: lookup token: %w", err)
	}
	sess, err := s.Get(ctx, id)
	if err != nil || sess == nil {
		return nil, err
	}
	if sess.Token != token {
		return nil, nil
	}
	return sess, nil
}

// Get retrieves a session by id. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	if err := s.client.HGetAll(ctx, SessionPrefix+sessionID).Scan(&sess); err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	if sess.ID == "" {
		return nil, nil
	}
	return &sess, nil
}

// Touch slides the expiry of sess and records activity.
func (s *Store) Touch(ctx context.Context, sess *Session) error {
	key := SessionPrefix + sess.ID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, s.ttl)
	pipe.Expire(ctx, TokenPrefix+sess.Token, s.ttl)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("session: touch: %w", err)
	}
	return nil
}

// Delete removes a session and its token mapping.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	keys := []string{SessionPrefix + sessionID}
	if sess != nil && sess.Token != "" {
		keys = append(keys, TokenPrefix+sess.Token)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
