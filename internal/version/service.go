// Package version implements the review lifecycle of page content versions:
// ACTIVE, PENDING, REJECTED, ARCHIVED and STALE.
package version

import (
	"context"
	"errors"
	"fmt"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/alto"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/coordination"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/database"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/kramerius"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/metrics"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/storage"
)

// Repository is the persistence the lifecycle needs.
type Repository interface {
	GetVersion(ctx context.Context, id int64) (*domain.ContentVersion, error)
	ListVersions(ctx context.Context, pid string) ([]*domain.ContentVersion, error)
	WithObjectTx(ctx context.Context, pid string, fn func(ctx context.Context, tx database.ObjectTx) error) error
}

// Remote is the part of the digital-library client the lifecycle uses.
type Remote interface {
	Alto(ctx context.Context, instance, pid string) ([]byte, error)
	UploadAltoOcr(ctx context.Context, instance, pid string, alto, ocr []byte) (*kramerius.UploadHandle, error)
}

// Service applies lifecycle transitions. Mutations of one object are
// serialized by the locker and run inside one repository transaction, so
// invariant checks and writes are never interleaved with another mutation.
type Service struct {
	repo        Repository
	locker      coordination.Locker
	store       storage.Store
	remote      Remote
	remoteOwner string
	metrics     *metrics.Metrics
	log         logger.Logger
}

// Config wires a Service.
type Config struct {
	Repository Repository
	Locker     coordination.Locker
	Store      storage.Store
	Remote     Remote
	// RemoteOwner owns versions whose content came from a remote instance.
	RemoteOwner string
	Metrics     *metrics.Metrics
	Logger      logger.Logger
}

// NewService creates a lifecycle service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Repository == nil || cfg.Store == nil {
		return nil, errors.New("version service requires a repository and a store")
	}
	if cfg.Locker == nil {
		cfg.Locker = coordination.NewKeyedMutex()
	}
	if cfg.RemoteOwner == "" {
		cfg.RemoteOwner = "kramerius"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	return &Service{
		repo:        cfg.Repository,
		locker:      cfg.Locker,
		store:       cfg.Store,
		remote:      cfg.Remote,
		remoteOwner: cfg.RemoteOwner,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
	}, nil
}

// mutate runs fn with the object lock held and inside an object transaction.
func (s *Service) mutate(ctx context.Context, pid string, fn func(ctx context.Context, tx database.ObjectTx, versions []*domain.ContentVersion) error) error {
	return s.locker.WithLock(ctx, pid, func(ctx context.Context) error {
		return s.repo.WithObjectTx(ctx, pid, func(ctx context.Context, tx database.ObjectTx) error {
			versions, err := tx.Versions(ctx)
			if err != nil {
				return err
			}
			return fn(ctx, tx, versions)
		})
	})
}

func (s *Service) transitioned(op string, to domain.VersionState) {
	s.metrics.VersionTransitionsTotal.WithLabelValues(op, string(to)).Inc()
}

// saveContent stores the OCR text and then the ALTO it was derived from, so
// the hashed ALTO is always the last write.
func (s *Service) saveContent(ctx context.Context, pid string, version int, altoData, ocr []byte) error {
	if ocr == nil {
		var err error
		if ocr, err = alto.ToOCR(altoData); err != nil {
			return err
		}
	}
	if err := s.store.Save(ctx, pid, domain.DatastreamTextOCR, version, ocr); err != nil {
		return err
	}
	return s.store.Save(ctx, pid, domain.DatastreamALTO, version, altoData)
}

func (s *Service) insert(ctx context.Context, tx database.ObjectTx, op string, v *domain.ContentVersion, altoData, ocr []byte) error {
	if err := s.saveContent(ctx, v.PID, v.Version, altoData, ocr); err != nil {
		return err
	}
	if err := tx.Insert(ctx, v); err != nil {
		return err
	}
	s.transitioned(op, v.State)
	s.log.Info("Created content version",
		logger.PID(v.PID),
		logger.Int("version", v.Version),
		logger.String("state", string(v.State)),
		logger.String("owner", v.Owner))
	return nil
}

func (s *Service) update(ctx context.Context, tx database.ObjectTx, op string, v *domain.ContentVersion, to domain.VersionState) error {
	from := v.State
	v.State = to
	if err := tx.Update(ctx, v); err != nil {
		return err
	}
	if from != to {
		s.transitioned(op, to)
		s.log.Debug("Content version transition",
			logger.PID(v.PID),
			logger.Int("version", v.Version),
			logger.String("from", string(from)),
			logger.String("to", string(to)))
	}
	return nil
}

// SubmitUserContent stores content edited by owner. The owner's PENDING
// version is overwritten in place; otherwise the next version is created as
// PENDING (version 0 for an object without versions).
func (s *Service) SubmitUserContent(ctx context.Context, pid, owner string, altoData []byte) (*domain.ContentVersion, error) {
	if err := checkSubmission(pid, owner, altoData); err != nil {
		return nil, err
	}

	var result *domain.ContentVersion
	err := s.mutate(ctx, pid, func(ctx context.Context, tx database.ObjectTx, versions []*domain.ContentVersion) error {
		v, err := s.submit(ctx, tx, versions, "submit_user", pid, owner, altoData, nil)
		result = v
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("submit content of %s: %w", pid, err)
	}
	return result, nil
}

func (s *Service) submit(ctx context.Context, tx database.ObjectTx, versions []*domain.ContentVersion,
	op, pid, owner string, altoData, ocr []byte,
) (*domain.ContentVersion, error) {
	hash := alto.Hash(altoData)

	if own := ownPending(versions, owner); own != nil {
		// Content is replaced only once the row update went through. A failed
		// write rolls the row back; a failed commit after the write is not undone.
		own.Hash = hash
		if err := s.update(ctx, tx, op, own, domain.VersionStatePending); err != nil {
			return nil, err
		}
		if err := s.saveContent(ctx, pid, own.Version, altoData, ocr); err != nil {
			return nil, err
		}
		return own, nil
	}

	v := &domain.ContentVersion{
		PID:     pid,
		Version: nextVersion(versions),
		Owner:   owner,
		State:   domain.VersionStatePending,
		Hash:    hash,
	}
	if err := s.insert(ctx, tx, op, v, altoData, ocr); err != nil {
		return nil, err
	}
	return v, nil
}

// SubmitEngineContent stores engine output for owner. Content whose hash
// matches one of the owner's ARCHIVED, PENDING or ACTIVE versions reuses that
// version; an ARCHIVED match is resurrected to PENDING and any other PENDING
// version of the owner is archived in its favour. Other content is handled
// like SubmitUserContent.
func (s *Service) SubmitEngineContent(ctx context.Context, pid, owner string, altoData, ocr []byte) (*domain.ContentVersion, error) {
	if err := checkSubmission(pid, owner, altoData); err != nil {
		return nil, err
	}

	hash := alto.Hash(altoData)
	var result *domain.ContentVersion
	err := s.mutate(ctx, pid, func(ctx context.Context, tx database.ObjectTx, versions []*domain.ContentVersion) error {
		match := findOwnByHash(versions, owner, hash)
		if match == nil {
			v, err := s.submit(ctx, tx, versions, "submit_engine", pid, owner, altoData, ocr)
			result = v
			return err
		}

		result = match
		if match.State != domain.VersionStateArchived {
			return nil
		}
		if other := ownPending(versions, owner); other != nil {
			if err := s.update(ctx, tx, "submit_engine", other, domain.VersionStateArchived); err != nil {
				return err
			}
		}
		return s.update(ctx, tx, "submit_engine", match, domain.VersionStatePending)
	})
	if err != nil {
		return nil, fmt.Errorf("submit engine content of %s: %w", pid, err)
	}
	return result, nil
}

// SyncRemoteContent absorbs content observed on a remote instance.
//   - no ACTIVE version: the content becomes ACTIVE
//   - ACTIVE has the same hash: the instance joins its instance set
//   - a STALE version has the same hash: the instance joins that version
//   - otherwise: a new STALE version tagged with the instance
//
// In the last two cases the instance leaves the ACTIVE instance set.
func (s *Service) SyncRemoteContent(ctx context.Context, pid, instance string, altoData []byte) (*domain.ContentVersion, error) {
	if instance == "" {
		return nil, domain.Validationf("instance is required")
	}
	if err := checkSubmission(pid, s.remoteOwner, altoData); err != nil {
		return nil, err
	}

	var result *domain.ContentVersion
	err := s.mutate(ctx, pid, func(ctx context.Context, tx database.ObjectTx, versions []*domain.ContentVersion) error {
		v, err := s.sync(ctx, tx, versions, pid, instance, altoData)
		result = v
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("sync content of %s from %s: %w", pid, instance, err)
	}
	return result, nil
}

func (s *Service) sync(ctx context.Context, tx database.ObjectTx, versions []*domain.ContentVersion,
	pid, instance string, altoData []byte,
) (*domain.ContentVersion, error) {
	const op = "sync_remote"
	hash := alto.Hash(altoData)
	active := findState(versions, domain.VersionStateActive)

	if active == nil {
		v := &domain.ContentVersion{
			PID:       pid,
			Version:   nextVersion(versions),
			Owner:     s.remoteOwner,
			State:     domain.VersionStateActive,
			Instances: domain.InstanceSet{instance},
			Hash:      hash,
		}
		if err := s.insert(ctx, tx, op, v, altoData, nil); err != nil {
			return nil, err
		}
		return v, nil
	}

	if active.Hash == hash {
		if !active.Instances.Contains(instance) {
			active.Instances = active.Instances.With(instance)
			if err := tx.Update(ctx, active); err != nil {
				return nil, err
			}
		}
		return active, nil
	}

	if active.Instances.Contains(instance) {
		active.Instances = active.Instances.Without(instance)
		if err := tx.Update(ctx, active); err != nil {
			return nil, err
		}
	}

	for _, v := range versions {
		if v.State == domain.VersionStateStale && v.Hash == hash {
			if !v.Instances.Contains(instance) {
				v.Instances = v.Instances.With(instance)
				if err := tx.Update(ctx, v); err != nil {
					return nil, err
				}
			}
			return v, nil
		}
	}

	v := &domain.ContentVersion{
		PID:       pid,
		Version:   nextVersion(versions),
		Owner:     s.remoteOwner,
		State:     domain.VersionStateStale,
		Instances: domain.InstanceSet{instance},
		Hash:      hash,
	}
	if err := s.insert(ctx, tx, op, v, altoData, nil); err != nil {
		return nil, err
	}
	return v, nil
}

// FetchInitialContent downloads the ALTO of an object that has no versions
// yet from instance and stores it as ACTIVE version 0. An object that
// already has a version yields ErrConflict.
func (s *Service) FetchInitialContent(ctx context.Context, pid, instance string) (*domain.VersionWithContent, error) {
	if s.remote == nil {
		return nil, errors.New("no remote library configured")
	}

	existing, err := s.repo.ListVersions(ctx, pid)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, domain.Conflictf("object %s already has content", pid)
	}

	altoData, err := s.remote.Alto(ctx, instance, pid)
	if err != nil {
		return nil, err
	}
	if err = alto.Validate(altoData); err != nil {
		return nil, fmt.Errorf("alto of %s on %s: %w", pid, instance, err)
	}

	var result *domain.ContentVersion
	err = s.mutate(ctx, pid, func(ctx context.Context, tx database.ObjectTx, versions []*domain.ContentVersion) error {
		if len(versions) > 0 {
			return domain.Conflictf("object %s already has content", pid)
		}
		v, syncErr := s.sync(ctx, tx, versions, pid, instance, altoData)
		result = v
		return syncErr
	})
	if err != nil {
		return nil, err
	}
	return &domain.VersionWithContent{Version: result, Content: altoData}, nil
}

// Accept makes the version ACTIVE. Any other ACTIVE version and every STALE
// version of the object become ARCHIVED. Accepting the ACTIVE version again
// changes nothing but still resolves STALE versions. The caller publishes
// the content to the remote instances first.
func (s *Service) Accept(ctx context.Context, versionID int64) (*domain.ContentVersion, error) {
	return s.transition(ctx, versionID, "accept", func(ctx context.Context, tx database.ObjectTx, versions []*domain.ContentVersion, target *domain.ContentVersion) error {
		// demote first so the one-ACTIVE constraint holds after every statement
		for _, v := range versions {
			if v.ID == target.ID {
				continue
			}
			if v.State == domain.VersionStateActive || v.State == domain.VersionStateStale {
				if err := s.update(ctx, tx, "accept", v, domain.VersionStateArchived); err != nil {
					return err
				}
			}
		}
		if target.State == domain.VersionStateActive {
			return nil
		}
		return s.update(ctx, tx, "accept", target, domain.VersionStateActive)
	})
}

// Reject moves a PENDING version to REJECTED.
func (s *Service) Reject(ctx context.Context, versionID int64) (*domain.ContentVersion, error) {
	return s.fromPending(ctx, versionID, "reject", domain.VersionStateRejected)
}

// Archive moves a PENDING version to ARCHIVED.
func (s *Service) Archive(ctx context.Context, versionID int64) (*domain.ContentVersion, error) {
	return s.fromPending(ctx, versionID, "archive", domain.VersionStateArchived)
}

func (s *Service) fromPending(ctx context.Context, versionID int64, op string, to domain.VersionState) (*domain.ContentVersion, error) {
	return s.transition(ctx, versionID, op, func(ctx context.Context, tx database.ObjectTx, _ []*domain.ContentVersion, target *domain.ContentVersion) error {
		if target.State != domain.VersionStatePending {
			return fmt.Errorf("%w: cannot %s version %d in state %s", domain.ErrInvalidTransition, op, target.ID, target.State)
		}
		return s.update(ctx, tx, op, target, to)
	})
}

type transitionFunc func(ctx context.Context, tx database.ObjectTx, versions []*domain.ContentVersion, target *domain.ContentVersion) error

func (s *Service) transition(ctx context.Context, versionID int64, op string, fn transitionFunc) (*domain.ContentVersion, error) {
	current, err := s.repo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	var result *domain.ContentVersion
	err = s.mutate(ctx, current.PID, func(ctx context.Context, tx database.ObjectTx, versions []*domain.ContentVersion) error {
		target := findID(versions, versionID)
		if target == nil {
			return domain.NotFoundf("version %d", versionID)
		}
		result = target
		return fn(ctx, tx, versions, target)
	})
	if err != nil {
		return nil, fmt.Errorf("%s version %d: %w", op, versionID, err)
	}
	return result, nil
}

// Related returns the content an editor should see: the owner's latest
// PENDING or ACTIVE version, else the object's ACTIVE version.
func (s *Service) Related(ctx context.Context, pid, owner string) (*domain.VersionWithContent, error) {
	versions, err := s.repo.ListVersions(ctx, pid)
	if err != nil {
		return nil, err
	}

	var chosen *domain.ContentVersion
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		if v.Owner == owner && (v.State == domain.VersionStatePending || v.State == domain.VersionStateActive) {
			chosen = v
			break
		}
	}
	if chosen == nil {
		chosen = findState(versions, domain.VersionStateActive)
	}
	if chosen == nil {
		return nil, domain.NotFoundf("no content for %s", pid)
	}
	return s.withContent(ctx, chosen)
}

// Get returns a version of pid by number.
func (s *Service) Get(ctx context.Context, pid string, number int) (*domain.VersionWithContent, error) {
	versions, err := s.repo.ListVersions(ctx, pid)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.Version == number {
			return s.withContent(ctx, v)
		}
	}
	return nil, domain.NotFoundf("version %d of %s", number, pid)
}

// Active returns the ACTIVE version of pid.
func (s *Service) Active(ctx context.Context, pid string) (*domain.VersionWithContent, error) {
	versions, err := s.repo.ListVersions(ctx, pid)
	if err != nil {
		return nil, err
	}
	active := findState(versions, domain.VersionStateActive)
	if active == nil {
		return nil, domain.NotFoundf("no active content for %s", pid)
	}
	return s.withContent(ctx, active)
}

// Versions lists every version of pid.
func (s *Service) Versions(ctx context.Context, pid string) ([]*domain.ContentVersion, error) {
	return s.repo.ListVersions(ctx, pid)
}

// OCR returns the plain text of a version, derived from its ALTO.
func (s *Service) OCR(ctx context.Context, versionID int64) ([]byte, error) {
	v, err := s.repo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Retrieve(ctx, v.PID, domain.DatastreamALTO, v.Version)
	if err != nil {
		return nil, err
	}
	return alto.ToOCR(data)
}

func (s *Service) withContent(ctx context.Context, v *domain.ContentVersion) (*domain.VersionWithContent, error) {
	data, err := s.store.Retrieve(ctx, v.PID, domain.DatastreamALTO, v.Version)
	if err != nil {
		return nil, err
	}
	return &domain.VersionWithContent{Version: v, Content: data}, nil
}

// Publish uploads the ALTO and OCR of a version to instances, or to every
// instance any version of the object is known in when none are given. The
// version's instance set records each successful upload. The first failing
// upload stops publishing.
func (s *Service) Publish(ctx context.Context, versionID int64, instances []string) ([]*kramerius.UploadHandle, error) {
	if s.remote == nil {
		return nil, errors.New("no remote library configured")
	}

	v, err := s.repo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		versions, listErr := s.repo.ListVersions(ctx, v.PID)
		if listErr != nil {
			return nil, listErr
		}
		instances = knownInstances(versions)
	}
	if len(instances) == 0 {
		return nil, domain.Validationf("object %s is not known in any instance", v.PID)
	}

	altoData, err := s.store.Retrieve(ctx, v.PID, domain.DatastreamALTO, v.Version)
	if err != nil {
		return nil, err
	}
	ocr, err := s.store.Retrieve(ctx, v.PID, domain.DatastreamTextOCR, v.Version)
	if errors.Is(err, domain.ErrNotFound) {
		ocr, err = alto.ToOCR(altoData)
	}
	if err != nil {
		return nil, err
	}

	handles := make([]*kramerius.UploadHandle, 0, len(instances))
	var published []string
	for _, instance := range instances {
		h, uploadErr := s.remote.UploadAltoOcr(ctx, instance, v.PID, altoData, ocr)
		if uploadErr != nil {
			err = uploadErr
			break
		}
		handles = append(handles, h)
		published = append(published, instance)
		s.log.Info("Published content version",
			logger.PID(v.PID),
			logger.Int("version", v.Version),
			logger.String("instance", instance),
			logger.String("process_id", h.ProcessID))
	}

	if len(published) > 0 {
		recordErr := s.mutate(ctx, v.PID, func(ctx context.Context, tx database.ObjectTx, versions []*domain.ContentVersion) error {
			target := findID(versions, versionID)
			if target == nil {
				return domain.NotFoundf("version %d", versionID)
			}
			for _, instance := range published {
				target.Instances = target.Instances.With(instance)
			}
			return tx.Update(ctx, target)
		})
		err = errors.Join(err, recordErr)
	}
	if err != nil {
		return handles, fmt.Errorf("publish version %d: %w", versionID, err)
	}
	return handles, nil
}

func checkSubmission(pid, owner string, altoData []byte) error {
	if pid == "" {
		return domain.Validationf("pid is required")
	}
	if owner == "" {
		return domain.Validationf("owner is required")
	}
	return alto.Validate(altoData)
}
