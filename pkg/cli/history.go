package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/flumeworks/flume/pkg/history"
)

type historyRow struct {
	RunID    string `json:"run_id"`
	Pipeline string `json:"pipeline"`
	State    string `json:"state"`
	Commit   string `json:"commit"`
	Started  string `json:"started"`
	Duration string `json:"duration"`
}

func NewHistoryCommand(root *RootCommand) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past workflow runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := root.OutputOptions()

			store, err := history.NewStore(root.Config().History.DBPath)
			if err != nil {
				PrintError(err, opts)
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				PrintError(err, opts)
				return err
			}

			rows := make([]historyRow, 0, len(records))
			for _, r := range records {
				rows = append(rows, historyRow{
					RunID:    r.ID,
					Pipeline: r.Pipeline,
					State:    r.State,
					Commit:   r.CommitHash,
					Started:  r.StartedAt.Format(time.RFC3339),
					Duration: r.Duration().Round(time.Second).String(),
				})
			}
			return PrintOutput(rows, opts)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")

	return cmd
}
