// Package message implements cursor pagination and content validation for
// chat messages. Message ids come from idgen, so ordering by id is ordering
// by creation time.
package message

import (
	"net/url"
	"strconv"

	"github.com/whisper/dm-server/internal/apierror"
	"github.com/whisper/dm-server/internal/idgen"
)

const (
	DefaultLimit = 50
	MaxLimit     = 50
	MinLimit     = 1
)

// Page selects a slice of a chat's history. At most one of Before and After
// is set; neither means the most recent messages. Results are always newest
// first.
type Page struct {
	Before string
	After  string
	Limit  int
}

// Latest is the default page.
func Latest() Page {
	return Page{Limit: DefaultLimit}
}

// Validate checks the cursor and limit constraints.
func (p Page) Validate() error {
	var fields []apierror.FieldError
	if p.Limit < MinLimit || p.Limit > MaxLimit {
		fields = append(fields, apierror.FieldError{Field: "limit", Errors: []string{"Must be between 1 and 50."}})
	}
	if p.Before != "" && !idgen.Valid(p.Before) {
		fields = append(fields, apierror.FieldError{Field: "before", Errors: []string{"Invalid message id."}})
	}
	if p.After != "" && !idgen.Valid(p.After) {
		fields = append(fields, apierror.FieldError{Field: "after", Errors: []string{"Invalid message id."}})
	}
	if p.Before != "" && p.After != "" {
		fields = append(fields, apierror.FieldError{Field: "before", Errors: []string{"Cannot be combined with after."}})
	}
	if len(fields) > 0 {
		return apierror.Validation(fields...)
	}
	return nil
}

// ParsePage reads before, after and limit from query parameters.
func ParsePage(q url.Values) (Page, error) {
	p := Latest()
	p.Before = q.Get("before")
	p.After = q.Get("after")
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Page{}, apierror.Validation(apierror.FieldError{Field: "limit", Errors: []string{"Must be an integer."}})
		}
		p.Limit = n
	}
	if err := p.Validate(); err != nil {
		return Page{}, err
	}
	return p, nil
}
