package database

import (
	"context"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
)

// JobRepositoryInterface defines the contract for job data access.
type JobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id int64) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error)
	ListByState(ctx context.Context, state domain.JobState) ([]*domain.Job, error)

	// Lifecycle and progress
	UpdateState(ctx context.Context, id int64, from, to domain.JobState) error
	UpdateSubstate(ctx context.Context, id int64, substate domain.JobSubstate) error
	SetFailed(ctx context.Context, id int64, message string) error
	SetEstimated(ctx context.Context, id int64, count int) error
	IncrementProcessed(ctx context.Context, id int64, delta int) error
	AppendLog(ctx context.Context, id int64, line string) error
	FailRunning(ctx context.Context, reason string) (int64, error)
}

// ObjectTx is the transactional view of one object's versions.
type ObjectTx interface {
	Versions(ctx context.Context) ([]*domain.ContentVersion, error)
	Insert(ctx context.Context, v *domain.ContentVersion) error
	Update(ctx context.Context, v *domain.ContentVersion) error
}

// VersionRepositoryInterface defines the contract for content version data access.
type VersionRepositoryInterface interface {
	GetVersion(ctx context.Context, id int64) (*domain.ContentVersion, error)
	ListVersions(ctx context.Context, pid string) ([]*domain.ContentVersion, error)
	EachVersion(ctx context.Context, fn func(*domain.ContentVersion) error) error
	WithObjectTx(ctx context.Context, pid string, fn func(ctx context.Context, tx ObjectTx) error) error
}

// ObjectRepositoryInterface defines the contract for hierarchy data access.
type ObjectRepositoryInterface interface {
	Upsert(ctx context.Context, obj *domain.DigitalObject) error
	Get(ctx context.Context, pid string) (*domain.DigitalObject, error)
	PageDescendants(ctx context.Context, root string) ([]string, error)
	EachObject(ctx context.Context, fn func(*domain.DigitalObject) error) error
}

var (
	_ JobRepositoryInterface     = (*JobRepository)(nil)
	_ VersionRepositoryInterface = (*VersionRepository)(nil)
	_ ObjectRepositoryInterface  = (*ObjectRepository)(nil)
)
