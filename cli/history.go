package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"skusync.evalgo.org/config"
	"skusync.evalgo.org/history"
)

func newHistoryCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "list past sync runs",
		Long: `List sync runs recorded in the history database, newest first.
With --sku, show the last recorded outcome of each given identifier instead.
The database path comes from --history-db, SKUSYNC_HISTORY_PATH or
history_path in the configuration file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(EnvPrefix)
			loader.SetConfigDefaults()
			if err := loader.BindFlags(cmd.Flags(), map[string]string{"history-db": "history_path"}); err != nil {
				return err
			}
			var raw config.Config
			if err := loader.Load(*cfgFile, &raw); err != nil {
				return err
			}
			if raw.HistoryPath == "" {
				return fmt.Errorf("%w: history_path is required", config.ErrInvalid)
			}
			path, err := homedir.Expand(raw.HistoryPath)
			if err != nil {
				return err
			}

			limit, _ := cmd.Flags().GetInt("limit")
			store, err := history.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			if ids, _ := cmd.Flags().GetStringSlice("sku"); len(ids) > 0 {
				return printOutcomes(cmd, store, ids)
			}

			runs, err := store.ListRuns(limit)
			if err != nil {
				return err
			}
			return printRuns(cmd, runs)
		},
	}

	cmd.Flags().String("history-db", "", "bbolt file recording run history")
	cmd.Flags().Int("limit", 20, "number of runs to show (0 for all)")
	cmd.Flags().StringSlice("sku", nil, "show the last outcome of these identifiers")
	return cmd
}

func printRuns(cmd *cobra.Command, runs []history.RunRecord) error {
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		_, err := fmt.Fprintln(out, "no runs recorded")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTARTED\tDURATION\tBUCKET\tPREFIX\tTOTAL\tOK\tFAILED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			run.ID,
			humanize.Time(run.StartedAt),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
			run.Bucket,
			run.Prefix,
			run.Total,
			run.Succeeded,
			failedColumn(run.Failed),
		)
	}
	return w.Flush()
}

func printOutcomes(cmd *cobra.Command, store *history.Store, ids []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SKU\tSTATUS\tWHEN\tRUN ID\tPATH")
	for _, id := range ids {
		id = strings.TrimSpace(id)
		rec, found, err := store.LastOutcome(id)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintf(w, "%s\tnever synced\t-\t-\t-\n", id)
			continue
		}
		status, path := "ok", rec.LocalPath
		if !rec.Success {
			status, path = "failed", "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, status, humanize.Time(rec.At), rec.RunID, path)
	}
	return w.Flush()
}

// failedColumn shows up to three failed identifiers and a count of the rest.
func failedColumn(failed []string) string {
	switch {
	case len(failed) == 0:
		return "-"
	case len(failed) <= 3:
		return strings.Join(failed, ",")
	default:
		return fmt.Sprintf("%s +%s more", strings.Join(failed[:3], ","), humanize.Comma(int64(len(failed)-3)))
	}
}
