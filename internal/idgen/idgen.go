// Package idgen mints time-sortable identifiers. Ids are ULIDs: 26 characters
// of Crockford base32 whose first 48 bits are the creation time in
// milliseconds, so lexical order matches creation order.
package idgen

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Length is the encoded size of every id.
const Length = ulid.EncodedSize

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh id. Ids minted within the same millisecond are strictly
// increasing.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Time recovers the creation time encoded in id.
func Time(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("idgen: parse %q: %w", id, err)
	}
	return ulid.Time(u.Time()), nil
}

// Valid reports whether id is a well-formed identifier in canonical
// uppercase form. Ids are compared bytewise in storage, so a lowercase
// spelling of a real id must not pass.
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}
	u, err := ulid.ParseStrict(id)
	return err == nil && u.String() == id
}
