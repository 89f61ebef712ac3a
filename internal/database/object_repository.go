package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
)

const objectColumns = `pid, parent_pid, model, title, level, index_in_parent, instance, created_at`

// ObjectRepository stores the locally mirrored object hierarchy.
type ObjectRepository struct {
	db *sqlx.DB
}

// NewObjectRepository creates a new object repository.
func NewObjectRepository(db *sqlx.DB) *ObjectRepository {
	return &ObjectRepository{db: db}
}

// Upsert inserts or refreshes an object.
func (r *ObjectRepository) Upsert(ctx context.Context, obj *domain.DigitalObject) error {
	query := `
		INSERT INTO digital_objects (pid, parent_pid, model, title, level, index_in_parent, instance)
		VALUES (:pid, :parent_pid, :model, :title, :level, :index_in_parent, :instance)
		ON CONFLICT (pid) DO UPDATE SET
			parent_pid = EXCLUDED.parent_pid,
			model = EXCLUDED.model,
			title = EXCLUDED.title,
			level = EXCLUDED.level,
			index_in_parent = EXCLUDED.index_in_parent,
			instance = EXCLUDED.instance
	`
	if _, err := r.db.NamedExecContext(ctx, query, obj); err != nil {
		return fmt.Errorf("failed to upsert object %s: %w", obj.PID, err)
	}
	return nil
}

// Get returns one object.
func (r *ObjectRepository) Get(ctx context.Context, pid string) (*domain.DigitalObject, error) {
	var obj domain.DigitalObject
	err := r.db.GetContext(ctx, &obj, `SELECT `+objectColumns+` FROM digital_objects WHERE pid = $1`, pid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("object %s", pid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return &obj, nil
}

// PageDescendants returns the pids of all page objects under root, or root
// itself when it is a page, in hierarchy order.
func (r *ObjectRepository) PageDescendants(ctx context.Context, root string) ([]string, error) {
	query := `
		WITH RECURSIVE tree AS (
			SELECT pid, model, ARRAY[index_in_parent] AS path
			FROM digital_objects WHERE pid = $1
			UNION ALL
			SELECT o.pid, o.model, t.path || o.index_in_parent
			FROM digital_objects o JOIN tree t ON o.parent_pid = t.pid
		)
		SELECT pid FROM tree WHERE model = $2 ORDER BY path
	`

	pids := []string{}
	if err := r.db.SelectContext(ctx, &pids, query, root, domain.ModelPage); err != nil {
		return nil, fmt.Errorf("failed to list pages under %s: %w", root, err)
	}
	return pids, nil
}

// EachObject streams every object, ordered by pid.
func (r *ObjectRepository) EachObject(ctx context.Context, fn func(*domain.DigitalObject) error) error {
	rows, err := r.db.QueryxContext(ctx, `SELECT `+objectColumns+` FROM digital_objects ORDER BY pid`)
	if err != nil {
		return fmt.Errorf("failed to query objects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var obj domain.DigitalObject
		if err = rows.StructScan(&obj); err != nil {
			return fmt.Errorf("failed to scan object: %w", err)
		}
		if err = fn(&obj); err != nil {
			return err
		}
	}
	return rows.Err()
}
