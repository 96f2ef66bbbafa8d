// Package apierror defines the typed failures returned by the domain layers
// and their rendering at the HTTP boundary. Internal failures are logged with
// full context and flattened to a generic message.
package apierror

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
)

// Kind identifies a failure class with a stable status code.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidJSON
	KindValidation
	KindDuplicateUser
	KindUnauthorized
	KindInvalidCredentials
	KindUserNotFound
	KindCantAddSelf
	KindAlreadyFriends
	KindAlreadySentRequest
	KindBlockedByOther
	KindBlockedUser
	KindCantRemoveSelf
	KindChatNotFound
	KindChatReadDenied
	KindChatWriteDenied
	KindRateLimited
)

var kindInfo = map[Kind]struct {
	status  int
	message string
}{
	KindUnknown:            {http.StatusInternalServerError, "Unknown error occurred."},
	KindInvalidJSON:        {http.StatusBadRequest, "Invalid JSON body."},
	KindValidation:         {http.StatusBadRequest, "Validation failed."},
	KindDuplicateUser:      {http.StatusConflict, "User with this username already exists."},
	KindUnauthorized:       {http.StatusUnauthorized, "Invalid session token."},
	KindInvalidCredentials: {http.StatusUnauthorized, "Invalid username or password."},
	KindUserNotFound:       {http.StatusNotFound, "User not found."},
	KindCantAddSelf:        {http.StatusConflict, "You can't add yourself as a friend."},
	KindAlreadyFriends:     {http.StatusConflict, "You are already friends with this user."},
	KindAlreadySentRequest: {http.StatusConflict, "You have already sent a friend request to this user."},
	KindBlockedByOther:     {http.StatusConflict, "You are blocked by this user."},
	KindBlockedUser:        {http.StatusConflict, "You blocked this user."},
	KindCantRemoveSelf:     {http.StatusConflict, "You can't remove yourself."},
	KindChatNotFound:       {http.StatusNotFound, "Chat not found."},
	KindChatReadDenied:     {http.StatusForbidden, "You don't have permission to read messages of this chat."},
	KindChatWriteDenied:    {http.StatusForbidden, "You don't have permission to send messages in this chat."},
	KindRateLimited:        {http.StatusTooManyRequests, "Too many requests, slow down."},
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrDuplicateUser      = &Error{Kind: KindDuplicateUser}
	ErrUserNotFound       = &Error{Kind: KindUserNotFound}
	ErrCantAddSelf        = &Error{Kind: KindCantAddSelf}
	ErrAlreadyFriends     = &Error{Kind: KindAlreadyFriends}
	ErrAlreadySentRequest = &Error{Kind: KindAlreadySentRequest}
	ErrBlockedByOther     = &Error{Kind: KindBlockedByOther}
	ErrBlockedUser        = &Error{Kind: KindBlockedUser}
	ErrCantRemoveSelf     = &Error{Kind: KindCantRemoveSelf}
	ErrChatNotFound       = &Error{Kind: KindChatNotFound}
	ErrChatReadDenied     = &Error{Kind: KindChatReadDenied}
	ErrChatWriteDenied    = &Error{Kind: KindChatWriteDenied}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrInvalidJSON        = &Error{Kind: KindInvalidJSON}
)

// FieldError lists the human readable problems with one input field.
type FieldError struct {
	Field  string   `json:"field"`
	Errors []string `json:"errors"`
}

// Error is a domain failure.
type Error struct {
	Kind   Kind
	Fields []FieldError
	cause  error
}

// Internal wraps an unexpected failure. The cause is logged, never rendered.
func Internal(err error) *Error {
	return &Error{Kind: KindUnknown, cause: err}
}

// Validation builds a validation failure from per-field messages.
func Validation(fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Fields: fields}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message() + ": " + e.cause.Error()
	}
	return e.Message()
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on Kind so sentinels compare equal to wrapped instances.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Status returns the HTTP status code for the failure.
func (e *Error) Status() int {
	return kindInfo[e.Kind].status
}

// Message returns the client facing message.
func (e *Error) Message() string {
	return kindInfo[e.Kind].message
}

// From converts any error into an *Error, treating untyped errors as internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// IsKind reports whether err is a domain failure of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

type body struct {
	Message          string       `json:"message"`
	StatusCode       int          `json:"statusCode"`
	Error            string       `json:"error"`
	ValidationErrors []FieldError `json:"validationErrors,omitempty"`
}

// Write renders err as the JSON error body.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	e := From(err)
	status := e.Status()
	if e.Kind == KindUnknown {
		log.Printf("api: %s %s: %v", r.Method, r.URL.Path, err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body{
		Message:          e.Message(),
		StatusCode:       status,
		Error:            http.StatusText(status),
		ValidationErrors: e.Fields,
	})
}
