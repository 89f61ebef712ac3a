package job

import (
	"context"
	"fmt"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/search"
)

// reindexBody rebuilds every search index.
type reindexBody struct {
	deps *Deps
}

func (b *reindexBody) Kind() domain.JobKind { return domain.JobKindReindex }

func (b *reindexBody) Run(ctx context.Context, jc *Context) error {
	if b.deps.Indexer == nil {
		return fmt.Errorf("%w: search index is not configured", domain.ErrValidation)
	}
	kinds := b.deps.IndexKinds
	if len(kinds) == 0 {
		kinds = search.Kinds
	}

	if err := jc.Tracker.SetSubstate(ctx, domain.JobSubstateReindexing); err != nil {
		return err
	}
	if err := jc.Tracker.SetEstimated(ctx, len(kinds)); err != nil {
		return err
	}

	for _, kind := range kinds {
		count, err := b.deps.Indexer.Rebuild(ctx, kind)
		if err != nil {
			return err
		}
		jc.Log.Info("Reindexed", logger.String("index_kind", kind), logger.Int("documents", count))
		if err = jc.Tracker.AppendLog(ctx, fmt.Sprintf("%s: %d documents", kind, count)); err != nil {
			return err
		}
		if err = jc.Tracker.IncProcessed(ctx, 1); err != nil {
			return err
		}
	}
	return nil
}
