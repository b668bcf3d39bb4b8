package models

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const referencePrefix = "REQ-"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewReference returns the human-facing reference citizens quote to staff.
// References sort by creation time.
func NewReference(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return referencePrefix + ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
