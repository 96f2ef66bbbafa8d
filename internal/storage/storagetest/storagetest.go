// Package storagetest opens throwaway SQLite-backed stores for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/whisper/dm-server/internal/idgen"
	"github.com/whisper/dm-server/internal/model"
	"github.com/whisper/dm-server/internal/storage"
)

// DSN returns a SQLite data source in a fresh temp directory.
func DSN(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dm.db")
	return "file:" + path + "?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on&_journal_mode=WAL"
}

// New opens a migrated store that is closed when the test ends.
func New(t testing.TB) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Config{
		Driver:      storage.DriverSQLite,
		DSN:         DSN(t),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// User inserts a user with a placeholder password hash.
func User(t testing.TB, s *storage.Store, username string) *model.User {
	t.Helper()
	u := &model.User{ID: idgen.New(), Username: username, PasswordHash: "x"}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

// Friends makes a and b mutual friends and returns their direct chat.
func Friends(t testing.TB, s *storage.Store, a, b string) *model.Chat {
	t.Helper()
	var chat *model.Chat
	err := s.WithTx(context.Background(), func(tx *storage.Tx) error {
		ctx := context.Background()
		if err := tx.PutRelation(ctx, a, b, model.RelationFriend); err != nil {
			return err
		}
		if err := tx.PutRelation(ctx, b, a, model.RelationFriend); err != nil {
			return err
		}
		var err error
		chat, err = tx.FindOrCreateDirectChat(ctx, a, b)
		return err
	})
	if err != nil {
		t.Fatalf("befriend %s/%s: %v", a, b, err)
	}
	return chat
}
