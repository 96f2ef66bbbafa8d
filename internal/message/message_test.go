package message

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/whisper/dm-server/internal/apierror"
	"github.com/whisper/dm-server/internal/idgen"
)

// ---------------------------------------------------------------------------
// Pagination parameters
// ---------------------------------------------------------------------------

func TestParsePage_Defaults(t *testing.T) {
	p, err := ParsePage(url.Values{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Limit != DefaultLimit || p.Before != "" || p.After != "" {
		t.Errorf("unexpected page %+v", p)
	}
}

func TestParsePage_LimitBounds(t *testing.T) {
	for _, v := range []string{"0", "51", "-1", "abc"} {
		_, err := ParsePage(url.Values{"limit": {v}})
		if !apierror.IsKind(err, apierror.KindValidation) {
			t.Errorf("limit=%s: expected validation error, got %v", v, err)
		}
	}
	for _, v := range []string{"1", "50"} {
		if _, err := ParsePage(url.Values{"limit": {v}}); err != nil {
			t.Errorf("limit=%s: unexpected error %v", v, err)
		}
	}
}

func TestParsePage_Cursors(t *testing.T) {
	id := idgen.New()

	p, err := ParsePage(url.Values{"before": {id}, "limit": {"3"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Before != id || p.Limit != 3 {
		t.Errorf("unexpected page %+v", p)
	}

	if _, err := ParsePage(url.Values{"before": {id}, "after": {id}}); err == nil {
		t.Error("expected error when both cursors are given")
	}
	if _, err := ParsePage(url.Values{"after": {"not-an-id"}}); err == nil {
		t.Error("expected error for malformed cursor")
	}
	if _, err := ParsePage(url.Values{"before": {strings.ToLower(id)}}); err == nil {
		t.Error("expected error for a lowercase cursor")
	}
}

// ---------------------------------------------------------------------------
// Content
// ---------------------------------------------------------------------------

func TestValidateContent(t *testing.T) {
	got, err := ValidateContent("  hello  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Errorf("expected trimmed content, got %q", got)
	}

	for _, bad := range []string{"", "   ", strings.Repeat("a", 1025), "\xff\xfe"} {
		if _, err := ValidateContent(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}

	if _, err := ValidateContent(strings.Repeat("é", 1024)); err != nil {
		t.Errorf("expected 1024 multibyte characters to pass, got %v", err)
	}

	padded := strings.Repeat(" ", 4000) + strings.Repeat("a", 1000) + strings.Repeat("\n", 200)
	got, err = ValidateContent(padded)
	if err != nil {
		t.Fatalf("whitespace padding should not count against the limit: %v", err)
	}
	if len(got) != 1000 {
		t.Errorf("trimmed length = %d, want 1000", len(got))
	}
}

func TestValidateAckID(t *testing.T) {
	if err := ValidateAckID(""); err != nil {
		t.Errorf("empty ack id should pass: %v", err)
	}
	if err := ValidateAckID(idgen.New()); err != nil {
		t.Errorf("valid ack id should pass: %v", err)
	}
	err := ValidateAckID("xyz")
	var e *apierror.Error
	if !errors.As(err, &e) || e.Fields[0].Field != "ackId" {
		t.Errorf("expected ackId field error, got %v", err)
	}
}
