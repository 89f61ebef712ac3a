package jobs

import (
	"strings"
	"testing"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
)

func TestBuildFilter(t *testing.T) {
	f, err := buildFilter([]string{"running", "FAILED"}, "reindex", 10)
	require.NoError(t, err)
	assert.Equal(t, []domain.JobState{domain.JobStateRunning, domain.JobStateFailed}, f.States)
	assert.Equal(t, domain.JobKindReindex, f.Kind)
	assert.Equal(t, 10, f.Limit)

	_, err = buildFilter([]string{"paused"}, "", 10)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = buildFilter(nil, "crawl", 10)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestRenderJobs(t *testing.T) {
	var out strings.Builder
	tw := table.NewWriter()
	tw.SetOutputMirror(&out)

	renderJobs(tw, []*domain.Job{
		{ID: 2, Kind: domain.JobKindGenerateSingle, PID: "uuid:p", Engine: "pero", State: domain.JobStateRunning,
			Substate: domain.JobSubstateGenerating, EstimatedItemCount: 4, ProcessedItemCount: 1, CreatedAt: time.Now()},
		{ID: 1, Kind: domain.JobKindReindex, State: domain.JobStateDone, Substate: domain.JobSubstateReindexing, CreatedAt: time.Now()},
	})

	s := out.String()
	assert.Contains(t, s, "RUNNING/GENERATING")
	assert.Contains(t, s, "1/4")
	assert.NotContains(t, s, "DONE/")
	assert.Contains(t, s, "MEDIUM")
}
