package job

import (
	"time"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
)

// Envelope carries the fields the scheduler orders jobs by.
type Envelope struct {
	ID        int64
	Kind      domain.JobKind
	Priority  domain.Priority
	CreatedAt time.Time
}

// EnvelopeOf extracts the envelope of a persisted job.
func EnvelopeOf(j *domain.Job) Envelope {
	return Envelope{ID: j.ID, Kind: j.Kind, Priority: j.Priority, CreatedAt: j.CreatedAt}
}

// Compare returns a negative number when a must run before b, positive when
// after, and zero only for identical envelopes. Higher priority first, then
// older creation time, then lower id.
func Compare(a, b Envelope) int {
	if wa, wb := a.Priority.Weight(), b.Priority.Weight(); wa != wb {
		if wa > wb {
			return -1
		}
		return 1
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

// Less reports whether a runs before b.
func Less(a, b Envelope) bool {
	return Compare(a, b) < 0
}
