package job

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
)

// submitTimeout bounds one scheduled submission.
const submitTimeout = 30 * time.Second

// Scheduler submits jobs on cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	log    logger.Logger
}

// NewScheduler creates a scheduler using standard five-field cron expressions
// and descriptors such as @daily.
func NewScheduler(log logger.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		parser: parser,
		log:    log,
	}
}

// Add registers submit to run on spec. An invalid spec is a validation error.
func (s *Scheduler) Add(spec string, kind domain.JobKind, submit func(ctx context.Context) (*domain.Job, error)) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("%w: schedule %q: %w", domain.ErrValidation, spec, err)
	}

	s.cron.Schedule(schedule, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()

		j, submitErr := submit(ctx)
		if submitErr != nil {
			s.log.Error("Scheduled submission failed", logger.String("kind", string(kind)), logger.Error(submitErr))
			return
		}
		s.log.Info("Scheduled job submitted", logger.JobID(j.ID), logger.String("kind", string(kind)))
	}))

	s.log.Info("Job scheduled",
		logger.String("kind", string(kind)),
		logger.String("schedule", spec),
		logger.Time("next_run", schedule.Next(time.Now())),
	)
	return nil
}

// Len returns the number of registered schedules.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and returns a context done when running submissions finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
