// Package job holds the job runner skeleton and the job bodies it executes.
package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/database"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/metrics"
)

// RestartedMessage is logged on jobs found RUNNING at startup.
const RestartedMessage = "restarted"

// Body is the kind-specific part of a job.
type Body interface {
	Kind() domain.JobKind
	Run(ctx context.Context, jc *Context) error
}

// BodyFactory selects the body for a job kind.
type BodyFactory func(kind domain.JobKind) (Body, error)

// Context is what a body gets to work with.
type Context struct {
	Job *domain.Job
	// WorkDir is a private scratch directory removed after the body returns.
	WorkDir string
	Tracker *Tracker
	Log     logger.Logger
}

// Tracker records job progress.
type Tracker struct {
	repo database.JobRepositoryInterface
	job  *domain.Job
	log  logger.Logger
}

// NewTracker creates a tracker for j.
func NewTracker(repo database.JobRepositoryInterface, j *domain.Job, log logger.Logger) *Tracker {
	return &Tracker{repo: repo, job: j, log: log}
}

// SetSubstate records the current phase.
func (t *Tracker) SetSubstate(ctx context.Context, substate domain.JobSubstate) error {
	if err := t.repo.UpdateSubstate(ctx, t.job.ID, substate); err != nil {
		return err
	}
	t.job.Substate = substate
	t.log.Debug("Job substate", logger.String("substate", string(substate)))
	return nil
}

// SetEstimated records how many items the job expects to process.
func (t *Tracker) SetEstimated(ctx context.Context, count int) error {
	if err := t.repo.SetEstimated(ctx, t.job.ID, count); err != nil {
		return err
	}
	t.job.EstimatedItemCount = count
	return nil
}

// IncProcessed adds delta to the processed item count.
func (t *Tracker) IncProcessed(ctx context.Context, delta int) error {
	if err := t.repo.IncrementProcessed(ctx, t.job.ID, delta); err != nil {
		return err
	}
	t.job.ProcessedItemCount += delta
	return nil
}

// AppendLog appends a line to the job log.
func (t *Tracker) AppendLog(ctx context.Context, line string) error {
	return t.repo.AppendLog(ctx, t.job.ID, line)
}

// Runner executes jobs with the common skeleton: PLANNED to RUNNING, scratch
// directory, body, then DONE or FAILED with the error text.
type Runner struct {
	repo    database.JobRepositoryInterface
	bodies  BodyFactory
	workDir string
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewRunner creates a runner placing scratch directories under workDir.
func NewRunner(repo database.JobRepositoryInterface, bodies BodyFactory, workDir string, m *metrics.Metrics, log logger.Logger) *Runner {
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{repo: repo, bodies: bodies, workDir: workDir, metrics: m, log: log}
}

// Task adapts a persisted job to the dispatcher.
type Task struct {
	runner *Runner
	job    *domain.Job
}

// Task returns the schedulable form of j.
func (r *Runner) Task(j *domain.Job) Task {
	return Task{runner: r, job: j}
}

func (t Task) Envelope() Envelope { return EnvelopeOf(t.job) }

// Run executes the job. The outcome is recorded on the job, so the returned
// error is informational only.
func (t Task) Run(ctx context.Context) error {
	if state := t.runner.Run(ctx, t.job.ID); state == domain.JobStateFailed {
		return fmt.Errorf("job %d failed", t.job.ID)
	}
	return nil
}

// Run executes job id and returns the state it ended in.
func (r *Runner) Run(ctx context.Context, id int64) domain.JobState {
	start := time.Now()
	log := r.log.With(logger.JobID(id))

	j, err := r.repo.GetByID(ctx, id)
	if err != nil {
		log.Error("Failed to load job", logger.Error(err))
		return domain.JobStateFailed
	}
	log = log.With(logger.String("kind", string(j.Kind)))

	planned := j.State == domain.JobStatePlanned
	state := r.execute(ctx, j, log)
	if planned && state.IsTerminal() {
		r.metrics.JobsFinishedTotal.WithLabelValues(string(j.Kind), string(state)).Inc()
		r.metrics.JobDurationSeconds.WithLabelValues(string(j.Kind)).Observe(time.Since(start).Seconds())
	}
	return state
}

func (r *Runner) execute(ctx context.Context, j *domain.Job, log logger.Logger) (state domain.JobState) {
	if j.State != domain.JobStatePlanned {
		log.Warn("Skipping job that is not planned", logger.String("state", string(j.State)))
		return j.State
	}

	if err := r.repo.UpdateState(ctx, j.ID, domain.JobStatePlanned, domain.JobStateRunning); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			log.Warn("Job was taken over before it started", logger.Error(err))
			return domain.JobStateRunning
		}
		log.Error("Failed to start job", logger.Error(err))
		return domain.JobStatePlanned
	}
	j.State = domain.JobStateRunning
	log.Info("Job started", logger.String("pid", j.PID))

	body, err := r.bodies(j.Kind)
	if err != nil {
		return r.fail(ctx, j, err, log)
	}

	workDir := filepath.Join(r.workDir, "job-"+strconv.FormatInt(j.ID, 10)+"-"+uuid.NewString())
	if err = os.MkdirAll(workDir, 0o750); err != nil {
		return r.fail(ctx, j, fmt.Errorf("create work directory: %w", err), log)
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			log.Warn("Failed to remove work directory", logger.String("dir", workDir), logger.Error(rmErr))
		}
	}()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Job panicked", logger.Any("panic", rec), logger.String("stack", string(debug.Stack())))
			state = r.fail(ctx, j, fmt.Errorf("panic: %v", rec), log)
		}
	}()

	jc := &Context{
		Job:     j,
		WorkDir: workDir,
		Tracker: NewTracker(r.repo, j, log),
		Log:     log,
	}
	if err = body.Run(ctx, jc); err != nil {
		return r.fail(ctx, j, err, log)
	}

	if err = r.repo.UpdateState(context.WithoutCancel(ctx), j.ID, domain.JobStateRunning, domain.JobStateDone); err != nil {
		log.Error("Failed to complete job", logger.Error(err))
		return r.fail(ctx, j, err, log)
	}
	j.State = domain.JobStateDone
	log.Info("Job done", logger.Int("processed", j.ProcessedItemCount))
	return domain.JobStateDone
}

// fail records err on the job. The substate is kept to show where it failed.
func (r *Runner) fail(ctx context.Context, j *domain.Job, cause error, log logger.Logger) domain.JobState {
	log.Warn("Job failed", logger.Error(cause))
	if err := r.repo.SetFailed(context.WithoutCancel(ctx), j.ID, cause.Error()); err != nil {
		log.Error("Failed to record job failure", logger.Error(err))
	}
	j.State = domain.JobStateFailed
	return domain.JobStateFailed
}

// Recover prepares persisted jobs after a restart: RUNNING jobs cannot be
// resumed and are failed with RestartedMessage, PLANNED jobs are handed to
// submit in creation order.
func Recover(ctx context.Context, repo database.JobRepositoryInterface, submit func(*domain.Job) error, log logger.Logger) (failed int64, requeued int, err error) {
	failed, err = repo.FailRunning(ctx, RestartedMessage)
	if err != nil {
		return 0, 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	if failed > 0 {
		log.Warn("Failed jobs interrupted by restart", logger.Int64("count", failed))
	}

	planned, err := repo.ListByState(ctx, domain.JobStatePlanned)
	if err != nil {
		return failed, 0, fmt.Errorf("list planned jobs: %w", err)
	}
	for _, j := range planned {
		if err = submit(j); err != nil {
			return failed, requeued, fmt.Errorf("resubmit job %d: %w", j.ID, err)
		}
		requeued++
	}
	log.Info("Recovered jobs", logger.Int64("failed", failed), logger.Int("requeued", requeued))
	return failed, requeued, nil
}
