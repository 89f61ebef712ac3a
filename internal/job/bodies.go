package job

import (
	"context"
	"fmt"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/config"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/kramerius"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/metrics"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/process"
)

// ObjectRepository is the local hierarchy mirror.
type ObjectRepository interface {
	Upsert(ctx context.Context, obj *domain.DigitalObject) error
	Get(ctx context.Context, pid string) (*domain.DigitalObject, error)
	PageDescendants(ctx context.Context, root string) ([]string, error)
}

// VersionService absorbs generated and retrieved content.
type VersionService interface {
	SubmitEngineContent(ctx context.Context, pid, owner string, alto, ocr []byte) (*domain.ContentVersion, error)
	SyncRemoteContent(ctx context.Context, pid, instance string, alto []byte) (*domain.ContentVersion, error)
}

// Remote reads from the digital-library instances.
type Remote interface {
	ObjectMetadata(ctx context.Context, instance, pid string) (*kramerius.ObjectMetadata, error)
	Children(ctx context.Context, instance, pid string) ([]kramerius.ObjectMetadata, error)
	Image(ctx context.Context, instance, pid string) ([]byte, error)
	Alto(ctx context.Context, instance, pid string) ([]byte, error)
}

// Indexer rebuilds one search index kind.
type Indexer interface {
	Rebuild(ctx context.Context, kind string) (int, error)
}

// DefaultDownloadConcurrency bounds parallel image downloads of one chunk.
const DefaultDownloadConcurrency = 4

// Deps are the collaborators job bodies use.
type Deps struct {
	Objects    ObjectRepository
	Versions   VersionService
	Remote     Remote
	Supervisor *process.Supervisor
	Engines    map[string]config.EngineConfig
	Indexer    Indexer
	// IndexKinds defaults to every kind the indexer knows.
	IndexKinds          []string
	DownloadConcurrency int
	Metrics             *metrics.Metrics
}

// NewBody selects the body of kind.
func NewBody(kind domain.JobKind, deps *Deps) (Body, error) {
	switch kind {
	case domain.JobKindGenerateSingle, domain.JobKindGenerateForHierarchy:
		return &generateBody{kind: kind, deps: deps}, nil
	case domain.JobKindRetrieveHierarchy:
		return &retrieveBody{deps: deps}, nil
	case domain.JobKindReindex:
		return &reindexBody{deps: deps}, nil
	default:
		return nil, fmt.Errorf("%w: no body for job kind %q", domain.ErrValidation, kind)
	}
}

// Factory binds deps to NewBody.
func (d *Deps) Factory() BodyFactory {
	return func(kind domain.JobKind) (Body, error) {
		return NewBody(kind, d)
	}
}
