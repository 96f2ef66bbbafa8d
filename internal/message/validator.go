package message

import (
	"strings"
	"unicode/utf8"

	"github.com/whisper/dm-server/internal/apierror"
	"github.com/whisper/dm-server/internal/idgen"
)

const (
	MaxContentChars = 1024
	MaxContentBytes = 4 * MaxContentChars
)

// ValidateContent trims text and checks it meets content requirements. It
// returns the trimmed content that should be stored.
func ValidateContent(text string) (string, error) {
	fail := func(msg string) (string, error) {
		return "", apierror.Validation(apierror.FieldError{Field: "content", Errors: []string{msg}})
	}
	if !utf8.ValidString(text) {
		return fail("Contains invalid UTF-8.")
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fail("Must not be empty.")
	}
	// 1024 runes never exceed 4096 bytes.
	if len(trimmed) > MaxContentBytes || utf8.RuneCountInString(trimmed) > MaxContentChars {
		return fail("Must be at most 1024 characters.")
	}
	return trimmed, nil
}

// ValidateAckID checks the optional client acknowledgement id.
func ValidateAckID(ackID string) error {
	if ackID == "" || idgen.Valid(ackID) {
		return nil
	}
	return apierror.Validation(apierror.FieldError{Field: "ackId", Errors: []string{"Invalid id."}})
}
