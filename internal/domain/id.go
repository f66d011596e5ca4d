package domain

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	idMu      sync.Mutex
	idEntropy io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptorand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	// Monotonic entropy keeps IDs minted within the same millisecond ordered.
	idEntropy = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// NewOrderID returns a lexicographically time-sortable order identifier.
func NewOrderID(now time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now.UTC()), idEntropy)
	if err != nil {
		// Only possible if the clock runs backwards past the monotonic window
		// or the entropy source fails; fall back to a fresh timestamp.
		id = ulid.MustNew(ulid.Now(), idEntropy)
	}
	return id.String()
}
