package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// InteractionKind tags what produced a record.
type InteractionKind string

const (
	KindMessage InteractionKind = "message"
	KindReply   InteractionKind = "reply"
	KindVoice   InteractionKind = "voice"
)

// Record is one stored interaction. Records are immutable once written;
// they disappear only through EraseAll or a retention sweep.
type Record struct {
	ID         string
	Owner      string // hashed owner, never the raw identifier
	Text       string
	Kind       InteractionKind
	Importance float64 // [0,1]
	Embedding  []float32
	CreatedAt  time.Time
}

func newRecord(owner, text string, kind InteractionKind, importance float64) *Record {
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}
	return &Record{
		ID:         uuid.New().String(),
		Owner:      owner,
		Text:       text,
		Kind:       kind,
		Importance: importance,
	}
}

// HashOwner derives the stable, anonymized owner key used for index
// collections, cache keys, and log fields.
func HashOwner(owner string) string {
	sum := sha256.Sum256([]byte("aria_owner_" + owner))
	return hex.EncodeToString(sum[:])[:16]
}
