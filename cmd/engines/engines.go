// Package engines implements the engines command.
package engines

import (
	"slices"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rrandiak/altoEditorAPI-sub000/cmd/common"
)

// Command lists configured generation engines.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List configured ALTO/OCR engines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := common.LoadConfig()
			if err != nil {
				return err
			}

			names := make([]string, 0, len(cfg.Engines))
			for name := range cfg.Engines {
				names = append(names, name)
			}
			slices.Sort(names)

			t := common.NewTable()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Name", "User", "Command", "Mode", "Batch", "Timeout"})
			for _, name := range names {
				e := cfg.Engines[name]
				mode := "single"
				if e.BatchMode {
					mode = "batch"
				}
				t.AppendRow(table.Row{
					name,
					e.User,
					strings.TrimSpace(e.Exec + " " + e.Entry),
					mode,
					strconv.Itoa(e.BatchSize),
					e.Timeout.String(),
				})
			}
			t.Render()
			return nil
		},
	}
}
