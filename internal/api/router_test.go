package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/whisper/dm-server/internal/auth"
	"github.com/whisper/dm-server/internal/dm"
	"github.com/whisper/dm-server/internal/idgen"
	"github.com/whisper/dm-server/internal/model"
	"github.com/whisper/dm-server/internal/presence"
	"github.com/whisper/dm-server/internal/protocol"
	"github.com/whisper/dm-server/internal/ratelimit"
	"github.com/whisper/dm-server/internal/relationship"
	"github.com/whisper/dm-server/internal/session"
	"github.com/whisper/dm-server/internal/storage/storagetest"
)

type testAPI struct {
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := storagetest.New(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := ratelimit.NewLimiter(client)
	authSvc := auth.NewService(store, session.NewStoreWithClient(client, time.Hour), bcrypt.MinCost)
	dmSvc := dm.NewService(store, presence.NewHub(), limiter, nil)
	return &testAPI{router: NewRouter(authSvc, dmSvc, limiter, nil)}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.1:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response (status %d): %v", rec.Code, err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, want, rec.Body.String())
	}
}

type errorBody struct {
	Message          string `json:"message"`
	StatusCode       int    `json:"statusCode"`
	ValidationErrors []struct {
		Field string `json:"field"`
	} `json:"validationErrors"`
}

// account signs up and logs in username, returning its id and token.
func (a *testAPI) account(t *testing.T, username string) (string, string) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/auth/signup", "", map[string]string{"username": username, "password": "password1"})
	expectStatus(t, rec, http.StatusOK)

	rec = a.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": username, "password": "password1"})
	expectStatus(t, rec, http.StatusOK)
	login := decode[loginResponse](t, rec)
	if login.Username != username || login.Session.Token == "" || login.Session.ID == "" {
		t.Fatalf("login response: %+v", login)
	}
	return login.ID, login.Session.Token
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func TestAuthEndpoints(t *testing.T) {
	a := newTestAPI(t)
	id, token := a.account(t, "alice")

	rec := a.do(t, http.MethodGet, "/auth/user", token, nil)
	expectStatus(t, rec, http.StatusOK)
	if u := decode[userResponse](t, rec); u.ID != id || u.Username != "alice" {
		t.Fatalf("current user: %+v", u)
	}

	rec = a.do(t, http.MethodPost, "/auth/signup", "", map[string]string{"username": "alice", "password": "password1"})
	expectStatus(t, rec, http.StatusConflict)

	rec = a.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "wrong-pass"})
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = a.do(t, http.MethodPost, "/auth/signup", "", map[string]string{"username": "a!", "password": "short"})
	expectStatus(t, rec, http.StatusBadRequest)
	if body := decode[errorBody](t, rec); len(body.ValidationErrors) != 2 || body.StatusCode != http.StatusBadRequest {
		t.Fatalf("validation body: %+v", body)
	}

	rec = a.do(t, http.MethodPost, "/auth/signup", "", `{"username":`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = a.do(t, http.MethodDelete, "/auth/logout", token, nil)
	expectStatus(t, rec, http.StatusOK)
	if body := decode[map[string]string](t, rec); body["message"] != "Successfully logged out." {
		t.Fatalf("logout body: %v", body)
	}
	expectStatus(t, a.do(t, http.MethodGet, "/auth/user", token, nil), http.StatusUnauthorized)
}

func TestLoginRateLimited(t *testing.T) {
	a := newTestAPI(t)
	creds := map[string]string{"username": "nobody", "password": "password1"}
	for i := 0; i < ratelimit.RuleLogin.Limit; i++ {
		expectStatus(t, a.do(t, http.MethodPost, "/auth/login", "", creds), http.StatusUnauthorized)
	}
	expectStatus(t, a.do(t, http.MethodPost, "/auth/login", "", creds), http.StatusTooManyRequests)
}

// ---------------------------------------------------------------------------
// Friends and messages
// ---------------------------------------------------------------------------

func TestFriendAndMessageEndpoints(t *testing.T) {
	a := newTestAPI(t)
	aliceID, aliceToken := a.account(t, "alice")
	bobID, bobToken := a.account(t, "bob")
	_, carolToken := a.account(t, "carol")

	expectStatus(t, a.do(t, http.MethodPut, "/users/alice/friend", aliceToken, nil), http.StatusConflict)
	expectStatus(t, a.do(t, http.MethodPut, "/users/nobody/friend", aliceToken, nil), http.StatusNotFound)
	expectStatus(t, a.do(t, http.MethodPut, "/users/bob/friend", "", nil), http.StatusUnauthorized)

	rec := a.do(t, http.MethodPut, "/users/bob/friend", aliceToken, nil)
	expectStatus(t, rec, http.StatusOK)
	if res := decode[addFriendResponse](t, rec); res.User.ID != bobID || res.Chat != nil || res.Message != relationship.MsgRequestSent {
		t.Fatalf("request: %+v", res)
	}
	expectStatus(t, a.do(t, http.MethodPut, "/users/bob/friend", aliceToken, nil), http.StatusConflict)

	rec = a.do(t, http.MethodPut, "/users/"+aliceID+"/friend?type=ID", bobToken, nil)
	expectStatus(t, rec, http.StatusOK)
	accepted := decode[addFriendResponse](t, rec)
	if accepted.Chat == nil || accepted.Message != relationship.MsgRequestAccepted || accepted.User.Username != "alice" {
		t.Fatalf("accept: %+v", accepted)
	}
	chatPath := "/chat/" + accepted.Chat.ID + "/messages"

	ack := idgen.New()
	rec = a.do(t, http.MethodPost, chatPath, bobToken, map[string]string{"content": "  hello  ", "ackId": ack})
	expectStatus(t, rec, http.StatusOK)
	sent := decode[protocol.MessageData](t, rec)
	if sent.AckID != ack || sent.AuthorID != bobID || sent.ChatID != accepted.Chat.ID || sent.Timestamp == 0 {
		t.Fatalf("send: %+v", sent)
	}

	expectStatus(t, a.do(t, http.MethodPost, chatPath, bobToken, map[string]string{"content": ""}), http.StatusBadRequest)
	expectStatus(t, a.do(t, http.MethodPost, chatPath, carolToken, map[string]string{"content": "hi"}), http.StatusForbidden)
	expectStatus(t, a.do(t, http.MethodGet, chatPath, carolToken, nil), http.StatusForbidden)
	expectStatus(t, a.do(t, http.MethodGet, "/chat/"+idgen.New()+"/messages", aliceToken, nil), http.StatusNotFound)
	expectStatus(t, a.do(t, http.MethodGet, chatPath+"?limit=51", aliceToken, nil), http.StatusBadRequest)
	expectStatus(t, a.do(t, http.MethodGet, chatPath+"?before="+ack+"&after="+ack, aliceToken, nil), http.StatusBadRequest)

	rec = a.do(t, http.MethodGet, chatPath+"?limit=10", aliceToken, nil)
	expectStatus(t, rec, http.StatusOK)
	if msgs := decode[[]model.Message](t, rec); len(msgs) != 1 || msgs[0].ID != sent.ID {
		t.Fatalf("history: %+v", msgs)
	}
	rec = a.do(t, http.MethodGet, chatPath+"?after="+sent.ID, aliceToken, nil)
	expectStatus(t, rec, http.StatusOK)
	if body := rec.Body.String(); body != "[]\n" {
		t.Fatalf("empty page should encode as [], got %q", body)
	}

	rec = a.do(t, http.MethodDelete, "/users/"+bobID+"/friend", aliceToken, nil)
	expectStatus(t, rec, http.StatusOK)
	removed := decode[removeFriendResponse](t, rec)
	if removed.User.ID != bobID || removed.Message != relationship.MsgFriendRemoved || removed.ChatID != accepted.Chat.ID {
		t.Fatalf("remove: %+v", removed)
	}
	expectStatus(t, a.do(t, http.MethodPost, chatPath, bobToken, map[string]string{"content": "hi"}), http.StatusForbidden)
	expectStatus(t, a.do(t, http.MethodGet, chatPath, bobToken, nil), http.StatusOK)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)
	expectStatus(t, a.do(t, http.MethodGet, "/health", "", nil), http.StatusOK)
	expectStatus(t, a.do(t, http.MethodGet, "/metrics", "", nil), http.StatusOK)
}
