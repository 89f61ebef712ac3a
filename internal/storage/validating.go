package storage

import (
	"context"
	"fmt"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/alto"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
)

// ValidatingStore rejects ALTO payloads that fail validation before they
// reach the underlying store.
type ValidatingStore struct {
	Store
}

// NewValidatingStore wraps next.
func NewValidatingStore(next Store) *ValidatingStore {
	return &ValidatingStore{Store: next}
}

func (s *ValidatingStore) Save(ctx context.Context, pid string, ds domain.Datastream, version int, data []byte) error {
	if ds == domain.DatastreamALTO {
		if err := alto.Validate(data); err != nil {
			return fmt.Errorf("alto for %s: %w", pid, err)
		}
	}
	return s.Store.Save(ctx, pid, ds, version, data)
}
