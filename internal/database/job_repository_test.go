package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/database"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
)

var jobColumnNames = []string{
	"id", "kind", "pid", "instance", "engine", "priority", "state", "substate",
	"estimated_item_count", "processed_item_count", "log", "created_by", "created_at", "updated_at",
}

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = mockDB.Close()
	})
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestJobRepository_Create(t *testing.T) {
	t.Parallel()
	db, mock := newMock(t)
	repo := database.NewJobRepository(db)

	job, err := domain.NewJob(domain.JobKindGenerateSingle, "uuid:p1", "")
	require.NoError(t, err)
	job.Engine = "pero"

	now := time.Now()
	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs(domain.JobKindGenerateSingle, "uuid:p1", "", "pero", "MEDIUM", domain.JobStatePlanned, domain.JobSubstateNone, "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(42), now, now))

	require.NoError(t, repo.Create(context.Background(), job))
	assert.Equal(t, int64(42), job.ID)
}

func TestJobRepository_GetByID(t *testing.T) {
	t.Parallel()
	db, mock := newMock(t)
	repo := database.NewJobRepository(db)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).
			AddRow(int64(7), "REINDEX", "", "", "", "LOW", "RUNNING", "REINDEXING", 2, 1, "", "", now, now))

	job, err := repo.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, domain.JobKindReindex, job.Kind)
	assert.Equal(t, domain.PriorityLow, job.Priority)
	assert.Equal(t, domain.JobSubstateReindexing, job.Substate)

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	_, err = repo.GetByID(context.Background(), 8)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepository_UpdateState(t *testing.T) {
	t.Parallel()
	db, mock := newMock(t)
	repo := database.NewJobRepository(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE jobs").
		WithArgs(domain.JobStateRunning, int64(1), domain.JobStatePlanned).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateState(ctx, 1, domain.JobStatePlanned, domain.JobStateRunning))

	mock.ExpectExec("UPDATE jobs").
		WithArgs(domain.JobStateDone, int64(1), domain.JobStateRunning).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.UpdateState(ctx, 1, domain.JobStateRunning, domain.JobStateDone), domain.ErrConflict)

	// illegal transitions never reach the database
	assert.ErrorIs(t, repo.UpdateState(ctx, 1, domain.JobStateDone, domain.JobStateRunning), domain.ErrInvalidTransition)
}

func TestJobRepository_SetFailedAppendsLine(t *testing.T) {
	t.Parallel()
	db, mock := newMock(t)
	repo := database.NewJobRepository(db)

	mock.ExpectExec(`UPDATE jobs SET state = 'FAILED', log = log \|\| \$1, updated_at = NOW\(\) WHERE id = \$2 AND state = 'RUNNING'`).
		WithArgs("engine exited with 3\n", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetFailed(context.Background(), 5, "engine exited with 3"))
}

func TestJobRepository_List(t *testing.T) {
	t.Parallel()
	db, mock := newMock(t)
	repo := database.NewJobRepository(db)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM jobs WHERE state = ANY\(\$1\) AND kind = \$2 ORDER BY created_at DESC, id DESC LIMIT \$3 OFFSET \$4`).
		WithArgs(sqlmock.AnyArg(), domain.JobKindReindex, 10, 0).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).
			AddRow(int64(3), "REINDEX", "", "", "", "MEDIUM", "PLANNED", "", 0, 0, "", "", now, now))

	jobs, err := repo.List(context.Background(), domain.JobFilter{
		States: []domain.JobState{domain.JobStatePlanned, domain.JobStateRunning},
		Kind:   domain.JobKindReindex,
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(3), jobs[0].ID)

	mock.ExpectQuery(`SELECT (.+) FROM jobs ORDER BY created_at DESC, id DESC LIMIT \$1 OFFSET \$2`).
		WithArgs(database.DefaultListLimit, 0).
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	jobs, err = repo.List(context.Background(), domain.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJobRepository_FailRunning(t *testing.T) {
	t.Parallel()
	db, mock := newMock(t)
	repo := database.NewJobRepository(db)

	mock.ExpectExec("UPDATE jobs").
		WithArgs("restarted\n").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.FailRunning(context.Background(), "restarted")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestJobRepository_WrapsDriverErrors(t *testing.T) {
	t.Parallel()
	db, mock := newMock(t)
	repo := database.NewJobRepository(db)
	boom := errors.New("connection lost")

	mock.ExpectExec("UPDATE jobs").WillReturnError(boom)
	assert.ErrorIs(t, repo.AppendLog(context.Background(), 1, "x"), boom)
}
