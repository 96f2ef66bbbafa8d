package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/whisper/dm-server/internal/model"
)

// Relations returns every relation owned by userID.
func (s *Store) Relations(ctx context.Context, userID string) ([]model.Relation, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT peer_id, status FROM relations WHERE user_id = ? ORDER BY peer_id"), userID)
	if err != nil {
		return nil, fmt.Errorf("storage: list relations: %w", err)
	}
	defer rows.Close()

	var rels []model.Relation
	for rows.Next() {
		var r model.Relation
		if err := rows.Scan(&r.PeerID, &r.Status); err != nil {
			return nil, fmt.Errorf("storage: scan relation: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// FriendIDs returns the ids of userID's friends.
func (s *Store) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT peer_id FROM relations WHERE user_id = ? AND status = ?"), userID, string(model.RelationFriend))
	if err != nil {
		return nil, fmt.Errorf("storage: list friends: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan friend: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RelationStatus returns owner's view of peer outside a transaction.
func (s *Store) RelationStatus(ctx context.Context, ownerID, peerID string) (model.RelationStatus, error) {
	return relationStatus(ctx, s.db, s, ownerID, peerID)
}

// Relation returns owner's view of peer, RelationNone when no row exists.
func (t *Tx) Relation(ctx context.Context, ownerID, peerID string) (model.RelationStatus, error) {
	return relationStatus(ctx, t.tx, t.s, ownerID, peerID)
}

func relationStatus(ctx context.Context, q querier, s *Store, ownerID, peerID string) (model.RelationStatus, error) {
	var status model.RelationStatus
	err := q.QueryRowContext(ctx,
		s.rebind("SELECT status FROM relations WHERE user_id = ? AND peer_id = ?"), ownerID, peerID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RelationNone, nil
	}
	if err != nil {
		return "", fmt.Errorf("storage: get relation: %w", err)
	}
	return status, nil
}

// PutRelation sets owner's view of peer. None is never written; use
// DeleteRelation instead.
func (t *Tx) PutRelation(ctx context.Context, ownerID, peerID string, status model.RelationStatus) error {
	if !status.Valid() {
		return fmt.Errorf("storage: refusing to write relation status %q", status)
	}
	query := t.s.rebind(`INSERT INTO relations (user_id, peer_id, status) VALUES (?, ?, ?)
		ON CONFLICT (user_id, peer_id) DO UPDATE SET status = excluded.status`)
	if _, err := t.tx.ExecContext(ctx, query, ownerID, peerID, string(status)); err != nil {
		return fmt.Errorf("storage: put relation: %w", err)
	}
	return nil
}

// DeleteRelation removes owner's view of peer.
func (t *Tx) DeleteRelation(ctx context.Context, ownerID, peerID string) error {
	query := t.s.rebind("DELETE FROM relations WHERE user_id = ? AND peer_id = ?")
	if _, err := t.tx.ExecContext(ctx, query, ownerID, peerID); err != nil {
		return fmt.Errorf("storage: delete relation: %w", err)
	}
	return nil
}
