package relationship

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/whisper/dm-server/internal/apierror"
	"github.com/whisper/dm-server/internal/model"
	"github.com/whisper/dm-server/internal/storage"
	"github.com/whisper/dm-server/internal/storage/storagetest"
)

// ---------------------------------------------------------------------------
// Transition table
// ---------------------------------------------------------------------------

func TestPlanAdd(t *testing.T) {
	cases := []struct {
		status model.RelationStatus
		action Action
		err    error
	}{
		{model.RelationNone, ActionRequest, nil},
		{model.RelationOutgoing, ActionAccept, nil},
		{model.RelationFriend, "", apierror.ErrAlreadyFriends},
		{model.RelationIncoming, "", apierror.ErrAlreadySentRequest},
		{model.RelationBlocked, "", apierror.ErrBlockedByOther},
		{model.RelationBlockedByOther, "", apierror.ErrBlockedUser},
	}
	for _, tc := range cases {
		action, err := planAdd(tc.status)
		if action != tc.action {
			t.Errorf("%s: action = %q, want %q", tc.status, action, tc.action)
		}
		if tc.err == nil && err != nil {
			t.Errorf("%s: unexpected error %v", tc.status, err)
		}
		if tc.err != nil && !errors.Is(err, tc.err) {
			t.Errorf("%s: err = %v, want %v", tc.status, err, tc.err)
		}
	}
}

func TestPlanRemove(t *testing.T) {
	cases := []struct {
		status model.RelationStatus
		action Action
		msg    string
		err    error
	}{
		{model.RelationFriend, ActionRemove, MsgFriendRemoved, nil},
		{model.RelationIncoming, ActionCancel, MsgRequestCanceled, nil},
		{model.RelationOutgoing, ActionDecline, MsgRequestDeclined, nil},
		{model.RelationNone, "", "", apierror.ErrUserNotFound},
		{model.RelationBlocked, "", "", apierror.ErrBlockedByOther},
		{model.RelationBlockedByOther, "", "", apierror.ErrBlockedUser},
	}
	for _, tc := range cases {
		action, msg, err := planRemove(tc.status)
		if action != tc.action || msg != tc.msg {
			t.Errorf("%s: got (%q, %q), want (%q, %q)", tc.status, action, msg, tc.action, tc.msg)
		}
		if tc.err != nil && !errors.Is(err, tc.err) {
			t.Errorf("%s: err = %v, want %v", tc.status, err, tc.err)
		}
	}
}

// ---------------------------------------------------------------------------
// Engine against SQLite
// ---------------------------------------------------------------------------

func relation(t *testing.T, s *storage.Store, owner, peer string) model.RelationStatus {
	t.Helper()
	status, err := s.RelationStatus(context.Background(), owner, peer)
	if err != nil {
		t.Fatalf("relation: %v", err)
	}
	return status
}

func TestAddFriend_RequestThenAccept(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)
	alice := storagetest.User(t, s, "alice")
	bob := storagetest.User(t, s, "bob")
	e := NewEngine(s)

	res, err := e.AddFriend(ctx, bob.ID, "Alice", false)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.Accepted() || res.Message != MsgRequestSent || res.User.ID != alice.ID {
		t.Fatalf("unexpected request result: %+v", res)
	}
	if relation(t, s, bob.ID, alice.ID) != model.RelationOutgoing ||
		relation(t, s, alice.ID, bob.ID) != model.RelationIncoming {
		t.Fatal("request must store Outgoing for sender and Incoming for target")
	}

	// Re-sending is rejected and leaves state untouched.
	if _, err := e.AddFriend(ctx, bob.ID, alice.ID, true); !errors.Is(err, apierror.ErrAlreadySentRequest) {
		t.Fatalf("duplicate request: %v", err)
	}

	res, err = e.AddFriend(ctx, alice.ID, bob.ID, true)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !res.Accepted() || res.Chat == nil || res.Message != MsgRequestAccepted {
		t.Fatalf("unexpected accept result: %+v", res)
	}
	if !res.Chat.HasRecipient(alice.ID) || !res.Chat.HasRecipient(bob.ID) || res.Chat.Type != model.ChatDirect {
		t.Fatalf("bad chat: %+v", res.Chat)
	}
	if relation(t, s, bob.ID, alice.ID) != model.RelationFriend ||
		relation(t, s, alice.ID, bob.ID) != model.RelationFriend {
		t.Fatal("accept must make both sides Friend")
	}

	if _, err := e.AddFriend(ctx, alice.ID, bob.ID, true); !errors.Is(err, apierror.ErrAlreadyFriends) {
		t.Fatalf("expected already friends, got %v", err)
	}
}

func TestAddFriend_Rejections(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)
	alice := storagetest.User(t, s, "alice")
	e := NewEngine(s)

	if _, err := e.AddFriend(ctx, alice.ID, alice.ID, true); !errors.Is(err, apierror.ErrCantAddSelf) {
		t.Errorf("self by id: %v", err)
	}
	if _, err := e.AddFriend(ctx, alice.ID, "ALICE", false); !errors.Is(err, apierror.ErrCantAddSelf) {
		t.Errorf("self by name: %v", err)
	}
	if _, err := e.AddFriend(ctx, alice.ID, "nobody", false); !errors.Is(err, apierror.ErrUserNotFound) {
		t.Errorf("unknown user: %v", err)
	}
}

func TestAddFriend_Blocked(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)
	alice := storagetest.User(t, s, "alice")
	bob := storagetest.User(t, s, "bob")
	e := NewEngine(s)

	// alice blocked bob.
	err := s.WithTx(ctx, func(tx *storage.Tx) error {
		if err := tx.PutRelation(ctx, alice.ID, bob.ID, model.RelationBlocked); err != nil {
			return err
		}
		return tx.PutRelation(ctx, bob.ID, alice.ID, model.RelationBlockedByOther)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := e.AddFriend(ctx, bob.ID, alice.ID, true); !errors.Is(err, apierror.ErrBlockedByOther) {
		t.Errorf("bob -> alice: %v", err)
	}
	if _, err := e.AddFriend(ctx, alice.ID, bob.ID, true); !errors.Is(err, apierror.ErrBlockedUser) {
		t.Errorf("alice -> bob: %v", err)
	}
	if _, err := e.RemoveFriend(ctx, alice.ID, bob.ID); !errors.Is(err, apierror.ErrBlockedUser) {
		t.Errorf("remove by blocker: %v", err)
	}
	if relation(t, s, alice.ID, bob.ID) != model.RelationBlocked {
		t.Fatal("block must survive rejected operations")
	}
}

func TestRemoveFriend(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)
	alice := storagetest.User(t, s, "alice")
	bob := storagetest.User(t, s, "bob")
	carol := storagetest.User(t, s, "carol")
	chat := storagetest.Friends(t, s, alice.ID, bob.ID)
	e := NewEngine(s)

	if _, err := e.RemoveFriend(ctx, alice.ID, alice.ID); !errors.Is(err, apierror.ErrCantRemoveSelf) {
		t.Fatalf("self: %v", err)
	}
	if _, err := e.RemoveFriend(ctx, alice.ID, carol.ID); !errors.Is(err, apierror.ErrUserNotFound) {
		t.Fatalf("no relation: %v", err)
	}

	res, err := e.RemoveFriend(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res.Action != ActionRemove || res.ChatID != chat.ID || res.Message != MsgFriendRemoved {
		t.Fatalf("unexpected result: %+v", res)
	}
	if relation(t, s, alice.ID, bob.ID) != model.RelationNone || relation(t, s, bob.ID, alice.ID) != model.RelationNone {
		t.Fatal("both sides must be cleared")
	}
	// The chat and its history survive.
	if _, err := s.Chat(ctx, chat.ID); err != nil {
		t.Fatalf("chat should remain: %v", err)
	}
}

func TestRemoveFriend_CancelAndDecline(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)
	alice := storagetest.User(t, s, "alice")
	bob := storagetest.User(t, s, "bob")
	e := NewEngine(s)

	if _, err := e.AddFriend(ctx, alice.ID, bob.ID, true); err != nil {
		t.Fatalf("request: %v", err)
	}
	res, err := e.RemoveFriend(ctx, alice.ID, bob.ID)
	if err != nil || res.Action != ActionCancel || res.Message != MsgRequestCanceled {
		t.Fatalf("cancel: %+v, %v", res, err)
	}

	if _, err := e.AddFriend(ctx, alice.ID, bob.ID, true); err != nil {
		t.Fatalf("request again: %v", err)
	}
	res, err = e.RemoveFriend(ctx, bob.ID, alice.ID)
	if err != nil || res.Action != ActionDecline || res.Message != MsgRequestDeclined {
		t.Fatalf("decline: %+v, %v", res, err)
	}
	if res.ChatID != "" {
		t.Fatal("declining a request has no chat")
	}
	if relation(t, s, alice.ID, bob.ID) != model.RelationNone {
		t.Fatal("decline must clear the edge")
	}
}

func TestAddFriend_ConcurrentOppositeRequests(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)
	alice := storagetest.User(t, s, "alice")
	bob := storagetest.User(t, s, "bob")
	e := NewEngine(s)

	var (
		wg      sync.WaitGroup
		results [2]*AddResult
		errs    [2]error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], errs[0] = e.AddFriend(ctx, alice.ID, bob.ID, true)
	}()
	go func() {
		defer wg.Done()
		results[1], errs[1] = e.AddFriend(ctx, bob.ID, alice.ID, true)
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if results[0].Accepted() == results[1].Accepted() {
		t.Fatalf("exactly one call should accept: %+v / %+v", results[0], results[1])
	}
	if relation(t, s, alice.ID, bob.ID) != model.RelationFriend || relation(t, s, bob.ID, alice.ID) != model.RelationFriend {
		t.Fatal("serialized opposite requests must end as friends")
	}
}

func TestAddFriend_ConcurrentSameDirection(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)
	alice := storagetest.User(t, s, "alice")
	bob := storagetest.User(t, s, "bob")
	e := NewEngine(s)

	const n = 5
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sent int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.AddFriend(ctx, alice.ID, bob.ID, true)
			switch {
			case err == nil:
				mu.Lock()
				sent++
				mu.Unlock()
			case !errors.Is(err, apierror.ErrAlreadySentRequest):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if sent != 1 {
		t.Fatalf("exactly one request should succeed, got %d", sent)
	}
	rels, err := s.Relations(ctx, alice.ID)
	if err != nil || len(rels) != 1 {
		t.Fatalf("expected a single relation row: %v, %v", rels, err)
	}
}
