package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIs_MatchesByKind(t *testing.T) {
	err := fmt.Errorf("relationship: add: %w", &Error{Kind: KindAlreadyFriends})
	if !errors.Is(err, ErrAlreadyFriends) {
		t.Fatal("expected wrapped error to match sentinel")
	}
	if errors.Is(err, ErrBlockedUser) {
		t.Fatal("expected no match against a different kind")
	}
}

func TestStatusMapping(t *testing.T) {
	cases := map[*Error]int{
		ErrUnauthorized:       401,
		ErrInvalidCredentials: 401,
		ErrDuplicateUser:      409,
		ErrCantAddSelf:        409,
		ErrAlreadySentRequest: 409,
		ErrBlockedByOther:     409,
		ErrUserNotFound:       404,
		ErrChatNotFound:       404,
		ErrChatReadDenied:     403,
		ErrChatWriteDenied:    403,
		ErrRateLimited:        429,
		Validation():          400,
		Internal(errors.New("x")): 500,
	}
	for e, want := range cases {
		if got := e.Status(); got != want {
			t.Errorf("kind %d: expected status %d, got %d", e.Kind, want, got)
		}
	}
}

func TestWrite_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/chat/x/messages", nil)

	Write(rec, req, errors.New("pq: connection refused to 10.0.0.3"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.3") {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}

	var b body
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Message != "Unknown error occurred." || b.StatusCode != 500 {
		t.Errorf("unexpected body: %+v", b)
	}
}

func TestWrite_ValidationFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/signup", nil)

	Write(rec, req, Validation(FieldError{Field: "username", Errors: []string{"Too short."}}))

	var b body
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != 400 || len(b.ValidationErrors) != 1 || b.ValidationErrors[0].Field != "username" {
		t.Errorf("unexpected response %d %+v", rec.Code, b)
	}
}
