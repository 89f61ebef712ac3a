package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/kramerius"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
)

// retrieveBody mirrors a remote hierarchy locally, breadth first from the
// job's root, and absorbs the ALTO of every page.
type retrieveBody struct {
	deps *Deps
}

func (b *retrieveBody) Kind() domain.JobKind { return domain.JobKindRetrieveHierarchy }

func (b *retrieveBody) Run(ctx context.Context, jc *Context) error {
	j := jc.Job
	if j.Instance == "" {
		return fmt.Errorf("%w: retrieve requires an instance", domain.ErrValidation)
	}
	if err := jc.Tracker.SetSubstate(ctx, domain.JobSubstateRetrieving); err != nil {
		return err
	}

	root, err := b.deps.Remote.ObjectMetadata(ctx, j.Instance, j.PID)
	if err != nil {
		return fmt.Errorf("metadata of %s: %w", j.PID, err)
	}

	queue := []kramerius.ObjectMetadata{*root}
	visited := 0
	if err = jc.Tracker.SetEstimated(ctx, 1); err != nil {
		return err
	}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if err = b.deps.Objects.Upsert(ctx, node.ToDigitalObject(j.Instance)); err != nil {
			return fmt.Errorf("store %s: %w", node.PID, err)
		}

		if node.IsPage() {
			if err = b.absorb(ctx, jc, node.PID); err != nil {
				return err
			}
		} else {
			children, childErr := b.deps.Remote.Children(ctx, j.Instance, node.PID)
			if childErr != nil {
				return fmt.Errorf("children of %s: %w", node.PID, childErr)
			}
			queue = append(queue, children...)
			if len(children) > 0 {
				if err = jc.Tracker.SetEstimated(ctx, visited+1+len(queue)); err != nil {
					return err
				}
			}
		}

		visited++
		if err = jc.Tracker.IncProcessed(ctx, 1); err != nil {
			return err
		}
	}

	jc.Log.Info("Hierarchy retrieved", logger.Int("objects", visited))
	return nil
}

// absorb syncs a page's remote ALTO. A page without ALTO is skipped.
func (b *retrieveBody) absorb(ctx context.Context, jc *Context, pid string) error {
	instance := jc.Job.Instance
	data, err := b.deps.Remote.Alto(ctx, instance, pid)
	if errors.Is(err, domain.ErrNotFound) {
		return jc.Tracker.AppendLog(ctx, "no ALTO for "+pid)
	}
	if err != nil {
		return fmt.Errorf("alto of %s: %w", pid, err)
	}

	if _, err = b.deps.Versions.SyncRemoteContent(ctx, pid, instance, data); err != nil {
		return fmt.Errorf("sync %s: %w", pid, err)
	}
	return nil
}
