// Package jobs implements the jobs command.
package jobs

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rrandiak/altoEditorAPI-sub000/cmd/common"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/database"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

// Command inspects persisted jobs.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect jobs",
	}
	cmd.AddCommand(listCommand())
	return cmd
}

func listCommand() *cobra.Command {
	var (
		states []string
		kind   string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(c *cobra.Command, _ []string) error {
			filter, err := buildFilter(states, kind, limit)
			if err != nil {
				return err
			}

			cfg, log, err := common.Setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			db, err := common.OpenDatabase(c.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			list, err := database.NewJobRepository(db).List(c.Context(), filter)
			if err != nil {
				return err
			}

			t := common.NewTable()
			t.SetOutputMirror(c.OutOrStdout())
			renderJobs(t, list)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&states, "state", nil, "filter by state (PLANNED, RUNNING, DONE, FAILED)")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by job kind")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs")
	return cmd
}

func buildFilter(states []string, kind string, limit int) (domain.JobFilter, error) {
	filter := domain.JobFilter{Limit: limit}
	for _, s := range states {
		state, err := domain.ParseJobState(strings.ToUpper(s))
		if err != nil {
			return filter, err
		}
		filter.States = append(filter.States, state)
	}
	if kind != "" {
		k, err := domain.ParseJobKind(strings.ToUpper(kind))
		if err != nil {
			return filter, err
		}
		filter.Kind = k
	}
	return filter, nil
}

func renderJobs(t table.Writer, list []*domain.Job) {
	t.AppendHeader(table.Row{"ID", "Kind", "PID", "Instance", "Engine", "Priority", "State", "Progress", "Created"})
	for _, j := range list {
		state := string(j.State)
		if sub := j.EffectiveSubstate(); sub != domain.JobSubstateNone {
			state += "/" + string(sub)
		}
		t.AppendRow(table.Row{
			j.ID,
			j.Kind,
			j.PID,
			j.Instance,
			j.Engine,
			j.Priority.String(),
			state,
			fmt.Sprintf("%d/%d", j.ProcessedItemCount, j.EstimatedItemCount),
			j.CreatedAt.Local().Format(timeLayout),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "Total", len(list)})
	t.Render()
}
