package store

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a random id for sets, points, sessions, tangents and
// outcomes.
func NewID() string {
	return uuid.NewString()
}

// NewMessageID returns a ULID for a message created at t. Ids from the same
// process sort in creation order.
func NewMessageID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
