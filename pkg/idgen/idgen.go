// Package idgen generates sortable random IDs, used for RPC request IDs
// so a failed call can be traced across logs, the audit trail, and
// published events.
package idgen

import (
	"crypto/rand"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new lexicographically sortable ID.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewWithPrefix returns a New ID prefixed with p + "_".
func NewWithPrefix(p string) string {
	return p + "_" + New()
}

// TimestampMillis extracts the millisecond timestamp embedded in an ID
// produced by New, or 0 if id is not a well-formed ULID.
func TimestampMillis(id string) int64 {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return 0
	}
	ms := parsed.Time()
	if ms > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(ms)
}
