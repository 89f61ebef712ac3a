// Package api is the transport-independent facade over jobs and content
// versions, plus its gin transport.
package api

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/config"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/database"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/dispatcher"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/job"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/kramerius"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
)

// Submitter queues tasks for execution.
type Submitter interface {
	Submit(task dispatcher.Task) error
}

// Versions is the content lifecycle the facade exposes.
type Versions interface {
	SubmitUserContent(ctx context.Context, pid, owner string, alto []byte) (*domain.ContentVersion, error)
	FetchInitialContent(ctx context.Context, pid, instance string) (*domain.VersionWithContent, error)
	Accept(ctx context.Context, versionID int64) (*domain.ContentVersion, error)
	Reject(ctx context.Context, versionID int64) (*domain.ContentVersion, error)
	Archive(ctx context.Context, versionID int64) (*domain.ContentVersion, error)
	Publish(ctx context.Context, versionID int64, instances []string) ([]*kramerius.UploadHandle, error)
	Related(ctx context.Context, pid, owner string) (*domain.VersionWithContent, error)
	Get(ctx context.Context, pid string, number int) (*domain.VersionWithContent, error)
	Versions(ctx context.Context, pid string) ([]*domain.ContentVersion, error)
	OCR(ctx context.Context, versionID int64) ([]byte, error)
}

// Service is the facade used by every transport.
type Service struct {
	jobs      database.JobRepositoryInterface
	submitter Submitter
	runner    *job.Runner
	versions  Versions
	engines   map[string]config.EngineConfig
	instances []string
	log       logger.Logger
}

// Config wires a Service.
type Config struct {
	Jobs      database.JobRepositoryInterface
	Submitter Submitter
	Runner    *job.Runner
	Versions  Versions
	Engines   map[string]config.EngineConfig
	Instances []string
	Logger    logger.Logger
}

// NewService creates the facade.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Service{
		jobs:      cfg.Jobs,
		submitter: cfg.Submitter,
		runner:    cfg.Runner,
		versions:  cfg.Versions,
		engines:   cfg.Engines,
		instances: cfg.Instances,
		log:       cfg.Logger,
	}
}

// GenerateRequest asks an engine to regenerate one page or a whole hierarchy.
type GenerateRequest struct {
	PID      string          `json:"pid"       binding:"required"`
	Engine   string          `json:"engine"    binding:"required"`
	Instance string          `json:"instance"`
	Priority domain.Priority `json:"priority"`
	// Hierarchy selects every page under PID instead of PID itself.
	Hierarchy bool `json:"hierarchy"`
}

// RetrieveRequest asks for a remote hierarchy to be mirrored.
type RetrieveRequest struct {
	PID      string          `json:"pid"      binding:"required"`
	Instance string          `json:"instance" binding:"required"`
	Priority domain.Priority `json:"priority"`
}

// SubmitGenerate plans a generate job.
func (s *Service) SubmitGenerate(ctx context.Context, req GenerateRequest, user string) (*domain.Job, error) {
	if _, ok := s.engines[req.Engine]; !ok {
		return nil, domain.Validationf("unknown engine %q", req.Engine)
	}
	if err := s.checkInstance(req.Instance, false); err != nil {
		return nil, err
	}

	kind := domain.JobKindGenerateSingle
	if req.Hierarchy {
		kind = domain.JobKindGenerateForHierarchy
	}
	j, err := domain.NewJob(kind, req.PID, req.Priority)
	if err != nil {
		return nil, err
	}
	j.Engine = req.Engine
	j.Instance = req.Instance
	j.CreatedBy = user
	return s.submit(ctx, j)
}

// SubmitRetrieveHierarchy plans a retrieve job.
func (s *Service) SubmitRetrieveHierarchy(ctx context.Context, req RetrieveRequest, user string) (*domain.Job, error) {
	if err := s.checkInstance(req.Instance, true); err != nil {
		return nil, err
	}
	j, err := domain.NewJob(domain.JobKindRetrieveHierarchy, req.PID, req.Priority)
	if err != nil {
		return nil, err
	}
	j.Instance = req.Instance
	j.CreatedBy = user
	return s.submit(ctx, j)
}

// SubmitReindex plans a reindex job.
func (s *Service) SubmitReindex(ctx context.Context, priority domain.Priority, user string) (*domain.Job, error) {
	j, err := domain.NewJob(domain.JobKindReindex, "", priority)
	if err != nil {
		return nil, err
	}
	j.CreatedBy = user
	return s.submit(ctx, j)
}

func (s *Service) checkInstance(instance string, required bool) error {
	if instance == "" {
		if required {
			return domain.Validationf("instance is required")
		}
		return nil
	}
	if len(s.instances) > 0 && !slices.Contains(s.instances, instance) {
		return domain.Validationf("unknown instance %q", instance)
	}
	return nil
}

// submit persists j as PLANNED and queues it. A job that cannot be queued
// stays PLANNED and is queued again by recovery on the next start.
func (s *Service) submit(ctx context.Context, j *domain.Job) (*domain.Job, error) {
	if err := s.jobs.Create(ctx, j); err != nil {
		return nil, err
	}
	if err := s.Enqueue(j); err != nil {
		s.log.Warn("Job left planned, queue refused it", logger.JobID(j.ID), logger.Error(err))
		return nil, fmt.Errorf("queue job %d: %w", j.ID, err)
	}

	s.log.Info("Job submitted",
		logger.JobID(j.ID),
		logger.String("kind", string(j.Kind)),
		logger.String("pid", j.PID),
		logger.String("priority", j.Priority.String()),
	)
	return j, nil
}

// Enqueue hands an already persisted job to the dispatcher.
func (s *Service) Enqueue(j *domain.Job) error {
	return s.submitter.Submit(s.runner.Task(j))
}

// GetJob returns one job.
func (s *Service) GetJob(ctx context.Context, id int64) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, id)
}

// ListJobs returns jobs newest first.
func (s *Service) ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	return s.jobs.List(ctx, filter)
}

// EngineInfo describes a configured engine.
type EngineInfo struct {
	Name      string `json:"name"`
	User      string `json:"user"`
	BatchMode bool   `json:"batch_mode"`
	BatchSize int    `json:"batch_size"`
}

// Engines lists configured engines by name.
func (s *Service) Engines() []EngineInfo {
	out := make([]EngineInfo, 0, len(s.engines))
	for name, e := range s.engines {
		out = append(out, EngineInfo{Name: name, User: e.User, BatchMode: e.BatchMode, BatchSize: e.BatchSize})
	}
	slices.SortFunc(out, func(a, b EngineInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Instances lists configured remote instances.
func (s *Service) Instances() []string {
	return s.instances
}

// Related returns the content user should edit.
func (s *Service) Related(ctx context.Context, pid, user string) (*domain.VersionWithContent, error) {
	return s.versions.Related(ctx, pid, user)
}

// CreateOrUpdate stores user's edit of pid.
func (s *Service) CreateOrUpdate(ctx context.Context, pid, user string, alto []byte) (*domain.ContentVersion, error) {
	return s.versions.SubmitUserContent(ctx, pid, user, alto)
}

// FetchInitial loads the first version of pid from instance.
func (s *Service) FetchInitial(ctx context.Context, pid, instance string) (*domain.VersionWithContent, error) {
	if err := s.checkInstance(instance, true); err != nil {
		return nil, err
	}
	return s.versions.FetchInitialContent(ctx, pid, instance)
}

// Versions lists the versions of pid.
func (s *Service) Versions(ctx context.Context, pid string) ([]*domain.ContentVersion, error) {
	return s.versions.Versions(ctx, pid)
}

// Version returns one version of pid with its content.
func (s *Service) Version(ctx context.Context, pid string, number int) (*domain.VersionWithContent, error) {
	return s.versions.Get(ctx, pid, number)
}

// OCR returns the plain text of a version.
func (s *Service) OCR(ctx context.Context, versionID int64) ([]byte, error) {
	return s.versions.OCR(ctx, versionID)
}

// AcceptResult is the outcome of Accept.
type AcceptResult struct {
	Version *domain.ContentVersion    `json:"version"`
	Uploads []*kramerius.UploadHandle `json:"uploads,omitempty"`
}

// Accept publishes a version to the remote instances, unless publish is
// false, and makes it ACTIVE. Nothing is accepted when publishing fails.
func (s *Service) Accept(ctx context.Context, versionID int64, publish bool) (*AcceptResult, error) {
	var handles []*kramerius.UploadHandle
	if publish {
		var err error
		handles, err = s.versions.Publish(ctx, versionID, nil)
		if err != nil {
			return &AcceptResult{Uploads: handles}, err
		}
	}

	v, err := s.versions.Accept(ctx, versionID)
	if err != nil {
		return &AcceptResult{Uploads: handles}, err
	}
	return &AcceptResult{Version: v, Uploads: handles}, nil
}

// Publish uploads a version without changing its state.
func (s *Service) Publish(ctx context.Context, versionID int64, instances []string) ([]*kramerius.UploadHandle, error) {
	for _, instance := range instances {
		if err := s.checkInstance(instance, true); err != nil {
			return nil, err
		}
	}
	return s.versions.Publish(ctx, versionID, instances)
}

// Reject rejects a PENDING version.
func (s *Service) Reject(ctx context.Context, versionID int64) (*domain.ContentVersion, error) {
	return s.versions.Reject(ctx, versionID)
}

// Archive archives a PENDING version.
func (s *Service) Archive(ctx context.Context, versionID int64) (*domain.ContentVersion, error) {
	return s.versions.Archive(ctx, versionID)
}
