package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/config"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/process"
)

// generateBody runs an engine over one page or every page of a hierarchy
// and submits the results as PENDING versions owned by the engine user.
type generateBody struct {
	kind domain.JobKind
	deps *Deps
}

func (b *generateBody) Kind() domain.JobKind { return b.kind }

func (b *generateBody) Run(ctx context.Context, jc *Context) error {
	j := jc.Job
	engine, ok := b.deps.Engines[j.Engine]
	if !ok {
		return fmt.Errorf("%w: unknown engine %q", domain.ErrValidation, j.Engine)
	}
	if engine.Exec == "" {
		return fmt.Errorf("%w: engine %q has no executable", domain.ErrValidation, j.Engine)
	}

	instance, err := b.instance(ctx, j)
	if err != nil {
		return err
	}

	targets, err := b.targets(ctx, j, instance)
	if err != nil {
		return err
	}
	if err = jc.Tracker.SetEstimated(ctx, len(targets)); err != nil {
		return err
	}
	if len(targets) == 0 {
		return jc.Tracker.AppendLog(ctx, "no pages to generate")
	}

	size := engine.BatchSize
	if size <= 0 {
		size = config.DefaultEngineBatchSize
	}
	for start := 0; start < len(targets); start += size {
		end := min(start+size, len(targets))
		dir := filepath.Join(jc.WorkDir, "chunk-"+strconv.Itoa(start/size))
		if err = b.chunk(ctx, jc, engine, instance, dir, start, targets[start:end]); err != nil {
			return err
		}
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			jc.Log.Warn("Failed to remove chunk directory", logger.String("dir", dir), logger.Error(rmErr))
		}
	}
	return nil
}

// instance is the job's instance or, when unset, the one the object was
// retrieved from.
func (b *generateBody) instance(ctx context.Context, j *domain.Job) (string, error) {
	if j.Instance != "" {
		return j.Instance, nil
	}
	obj, err := b.deps.Objects.Get(ctx, j.PID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: no instance given and %s is not known locally", domain.ErrValidation, j.PID)
		}
		return "", err
	}
	return obj.Instance, nil
}

func (b *generateBody) targets(ctx context.Context, j *domain.Job, instance string) ([]string, error) {
	if b.kind == domain.JobKindGenerateSingle {
		return []string{j.PID}, nil
	}

	pages, err := b.deps.Objects.PageDescendants(ctx, j.PID)
	if err != nil {
		return nil, err
	}
	if len(pages) > 0 {
		return pages, nil
	}
	return b.remotePages(ctx, instance, j.PID)
}

// remotePages walks the remote hierarchy breadth first and collects pages in
// traversal order.
func (b *generateBody) remotePages(ctx context.Context, instance, root string) ([]string, error) {
	meta, err := b.deps.Remote.ObjectMetadata(ctx, instance, root)
	if err != nil {
		return nil, err
	}
	if meta.IsPage() {
		return []string{meta.PID}, nil
	}

	var pages []string
	queue := []string{root}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]

		children, err := b.deps.Remote.Children(ctx, instance, pid)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if child.IsPage() {
				pages = append(pages, child.PID)
			} else {
				queue = append(queue, child.PID)
			}
		}
	}
	return pages, nil
}

func (b *generateBody) chunk(ctx context.Context, jc *Context, engine config.EngineConfig, instance, dir string, offset int, pids []string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create chunk directory: %w", err)
	}
	items := make([]item, len(pids))
	for i, pid := range pids {
		items[i] = newItem(dir, pid, offset+i)
	}

	if err := jc.Tracker.SetSubstate(ctx, domain.JobSubstateDownloading); err != nil {
		return err
	}
	if err := b.download(ctx, instance, items); err != nil {
		return err
	}

	if err := jc.Tracker.SetSubstate(ctx, domain.JobSubstateGenerating); err != nil {
		return err
	}
	if err := b.generate(ctx, jc, engine, dir, items); err != nil {
		return err
	}

	if err := jc.Tracker.SetSubstate(ctx, domain.JobSubstateSaving); err != nil {
		return err
	}
	for _, it := range items {
		if err := b.save(ctx, jc, engine, it); err != nil {
			return err
		}
	}
	return nil
}

func (b *generateBody) download(ctx context.Context, instance string, items []item) error {
	limit := b.deps.DownloadConcurrency
	if limit <= 0 {
		limit = DefaultDownloadConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, it := range items {
		g.Go(func() error {
			data, err := b.deps.Remote.Image(gctx, instance, it.PID)
			if err != nil {
				return fmt.Errorf("download image of %s: %w", it.PID, err)
			}
			if err = os.WriteFile(it.Image, data, 0o600); err != nil {
				return fmt.Errorf("write image of %s: %w", it.PID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *generateBody) generate(ctx context.Context, jc *Context, engine config.EngineConfig, dir string, items []item) error {
	if engine.BatchMode {
		cmd, err := batchCommand(engine, items, dir)
		if err != nil {
			return err
		}
		if err = b.runEngine(ctx, jc, cmd); err != nil {
			return err
		}
		for _, it := range items {
			if err = it.verify(); err != nil {
				return err
			}
		}
		return nil
	}

	for _, it := range items {
		if err := b.runEngine(ctx, jc, singleCommand(engine, it, dir)); err != nil {
			return fmt.Errorf("generate %s: %w", it.PID, err)
		}
		if err := it.verify(); err != nil {
			return err
		}
	}
	return nil
}

// runEngine runs one engine command. A non-zero exit is logged but only
// missing outputs fail the job; a launch failure, kill or timeout fails it.
func (b *generateBody) runEngine(ctx context.Context, jc *Context, cmd process.Command) error {
	start := time.Now()
	result := b.deps.Supervisor.Run(ctx, cmd)
	engine := jc.Job.Engine

	outcome := "ok"
	switch {
	case result.TimedOut:
		outcome = "timeout"
	case result.Killed:
		outcome = "killed"
	case !result.Success():
		outcome = "error"
	}
	if m := b.deps.Metrics; m != nil {
		m.EngineRunsTotal.WithLabelValues(engine, outcome).Inc()
		m.EngineDurationSeconds.WithLabelValues(engine).Observe(time.Since(start).Seconds())
	}

	if outcome != "ok" {
		jc.Log.Warn("Engine run failed",
			logger.String("engine", engine),
			logger.String("command", cmd.String()),
			logger.Int("exit_code", result.ExitCode),
			logger.String("output", result.Output),
		)
		if logErr := jc.Tracker.AppendLog(ctx, cmd.String()+": "+result.Output); logErr != nil {
			jc.Log.Warn("Failed to append engine output", logger.Error(logErr))
		}
	}
	if result.TimedOut || result.Killed || result.ExitCode == process.ExitCodeNotCompleted {
		return fmt.Errorf("%w: %s: %w", domain.ErrProcess, engine, result.Err)
	}
	return nil
}

func (b *generateBody) save(ctx context.Context, jc *Context, engine config.EngineConfig, it item) error {
	altoData, err := os.ReadFile(it.Alto)
	if err != nil {
		return fmt.Errorf("read ALTO of %s: %w", it.PID, err)
	}
	ocr, err := os.ReadFile(it.OCR)
	if err != nil {
		return fmt.Errorf("read OCR of %s: %w", it.PID, err)
	}

	v, err := b.deps.Versions.SubmitEngineContent(ctx, it.PID, engine.User, altoData, ocr)
	if err != nil {
		return fmt.Errorf("save %s: %w", it.PID, err)
	}
	jc.Log.Debug("Saved generated content", logger.PID(it.PID), logger.Int("version", v.Version))
	return jc.Tracker.IncProcessed(ctx, 1)
}
