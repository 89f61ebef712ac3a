package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// VersionState is the review state of one content revision.
type VersionState string

const (
	VersionStateActive   VersionState = "ACTIVE"
	VersionStatePending  VersionState = "PENDING"
	VersionStateRejected VersionState = "REJECTED"
	VersionStateArchived VersionState = "ARCHIVED"
	VersionStateStale    VersionState = "STALE"
)

// ParseVersionState validates a version state name.
func ParseVersionState(value string) (VersionState, error) {
	switch s := VersionState(value); s {
	case VersionStateActive, VersionStatePending, VersionStateRejected, VersionStateArchived, VersionStateStale:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown version state %q", ErrValidation, value)
	}
}

// Datastream is a named kind of binary content attached to an object.
type Datastream string

const (
	DatastreamALTO    Datastream = "ALTO"
	DatastreamTextOCR Datastream = "TEXT_OCR"
)

// InstanceSet is the set of remote instances in which a version is published.
// It is stored as a JSONB array.
type InstanceSet []string

// Contains reports whether the instance is in the set.
func (s InstanceSet) Contains(instance string) bool {
	return slices.Contains(s, instance)
}

// With returns a sorted set that includes instance.
func (s InstanceSet) With(instance string) InstanceSet {
	if s.Contains(instance) {
		return s
	}
	out := append(slices.Clone(s), instance)
	slices.Sort(out)
	return out
}

// Without returns the set minus instance.
func (s InstanceSet) Without(instance string) InstanceSet {
	out := make(InstanceSet, 0, len(s))
	for _, v := range s {
		if v != instance {
			out = append(out, v)
		}
	}
	return out
}

// Scan implements sql.Scanner.
func (s *InstanceSet) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("unsupported type for InstanceSet")
	}
	if len(data) == 0 {
		*s = InstanceSet{}
		return nil
	}
	return json.Unmarshal(data, s)
}

// Value implements driver.Valuer.
func (s InstanceSet) Value() (driver.Value, error) {
	if len(s) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

// ContentVersion is one numbered revision of a page's ALTO/OCR content.
type ContentVersion struct {
	ID        int64        `db:"id"         json:"id"`
	PID       string       `db:"pid"        json:"pid"`
	Version   int          `db:"version"    json:"version"`
	Owner     string       `db:"owner"      json:"owner"`
	State     VersionState `db:"state"      json:"state"`
	Instances InstanceSet  `db:"instances"  json:"instances"`
	Hash      string       `db:"hash"       json:"hash"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

// VersionWithContent pairs a version with its ALTO bytes.
type VersionWithContent struct {
	Version *ContentVersion
	Content []byte
}

// DigitalObject is a node of the remote library hierarchy mirrored locally.
type DigitalObject struct {
	PID           string    `db:"pid"             json:"pid"`
	ParentPID     string    `db:"parent_pid"      json:"parent_pid,omitempty"`
	Model         string    `db:"model"           json:"model"`
	Title         string    `db:"title"           json:"title"`
	Level         int       `db:"level"           json:"level"`
	IndexInParent int       `db:"index_in_parent" json:"index_in_parent"`
	Instance      string    `db:"instance"        json:"instance"`
	CreatedAt     time.Time `db:"created_at"      json:"created_at"`
}

// ModelPage is the leaf model carrying ALTO content.
const ModelPage = "page"

// IsPage reports whether the object is a leaf page.
func (o *DigitalObject) IsPage() bool {
	return o.Model == ModelPage
}
