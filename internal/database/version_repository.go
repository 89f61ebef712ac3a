package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
)

const versionColumns = `id, pid, version, owner, state, instances, hash, created_at, updated_at`

// VersionRepository persists content versions.
type VersionRepository struct {
	db *sqlx.DB
}

// NewVersionRepository creates a new version repository.
func NewVersionRepository(db *sqlx.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

// GetVersion returns one version by id.
func (r *VersionRepository) GetVersion(ctx context.Context, id int64) (*domain.ContentVersion, error) {
	var v domain.ContentVersion
	query := `SELECT ` + versionColumns + ` FROM content_versions WHERE id = $1`

	if err := r.db.GetContext(ctx, &v, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("version %d", id)
		}
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return &v, nil
}

// ListVersions returns all versions of an object ordered by version number.
func (r *VersionRepository) ListVersions(ctx context.Context, pid string) ([]*domain.ContentVersion, error) {
	return listVersions(ctx, r.db, pid, false)
}

// EachVersion streams every version, ordered by id.
func (r *VersionRepository) EachVersion(ctx context.Context, fn func(*domain.ContentVersion) error) error {
	rows, err := r.db.QueryxContext(ctx, `SELECT `+versionColumns+` FROM content_versions ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.ContentVersion
		if err = rows.StructScan(&v); err != nil {
			return fmt.Errorf("failed to scan version: %w", err)
		}
		if err = fn(&v); err != nil {
			return err
		}
	}
	return rows.Err()
}

// WithObjectTx runs fn in a transaction holding a per-object advisory lock,
// so concurrent mutations of the same pid are serialized by the database as
// well. fn's error rolls the transaction back.
func (r *VersionRepository) WithObjectTx(ctx context.Context, pid string, fn func(ctx context.Context, tx ObjectTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, pid); err != nil {
		return fmt.Errorf("failed to lock object %s: %w", pid, err)
	}

	if err = fn(ctx, &VersionTx{tx: tx, pid: pid}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// VersionTx is the transactional view of one object's versions.
type VersionTx struct {
	tx  *sqlx.Tx
	pid string
}

// Versions returns every version of the locked object, ordered by version.
func (t *VersionTx) Versions(ctx context.Context) ([]*domain.ContentVersion, error) {
	return listVersions(ctx, t.tx, t.pid, true)
}

// Insert stores a new version and fills in id and timestamps.
func (t *VersionTx) Insert(ctx context.Context, v *domain.ContentVersion) error {
	if v.PID != t.pid {
		return fmt.Errorf("version of %s inserted in transaction of %s", v.PID, t.pid)
	}

	query := `
		INSERT INTO content_versions (pid, version, owner, state, instances, hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := t.tx.QueryRowxContext(ctx, query, v.PID, v.Version, v.Owner, v.State, v.Instances, v.Hash).
		Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}
	return nil
}

// Update writes the mutable fields of an existing version.
func (t *VersionTx) Update(ctx context.Context, v *domain.ContentVersion) error {
	query := `
		UPDATE content_versions
		SET owner = $1, state = $2, instances = $3, hash = $4, updated_at = NOW()
		WHERE id = $5 AND pid = $6
		RETURNING updated_at
	`
	err := t.tx.QueryRowxContext(ctx, query, v.Owner, v.State, v.Instances, v.Hash, v.ID, t.pid).
		Scan(&v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFoundf("version %d of %s", v.ID, t.pid)
	}
	if err != nil {
		return fmt.Errorf("failed to update version: %w", err)
	}
	return nil
}

func listVersions(ctx context.Context, q sqlx.QueryerContext, pid string, forUpdate bool) ([]*domain.ContentVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM content_versions WHERE pid = $1 ORDER BY version`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	versions := []*domain.ContentVersion{}
	if err := sqlx.SelectContext(ctx, q, &versions, query, pid); err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", pid, err)
	}
	return versions, nil
}
