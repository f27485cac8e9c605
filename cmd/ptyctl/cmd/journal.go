package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/ptyctl/internal/journal"
	"github.com/opensandbox/ptyctl/internal/termtext"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the local command journal",
}

var journalListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent commands or transfers",
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := requireJournal()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		transfers, _ := cmd.Flags().GetBool("transfers")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if transfers {
			entries, err := j.RecentTransfers(limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(entries)
			}
			fmt.Fprintln(w, "TIME\tSESSION\tPATH\tSIZE\tCHUNKS\tSTATE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					e.CreatedAt, e.SessionID, e.RemotePath, e.Size, e.Chunks, e.State)
			}
			return w.Flush()
		}

		entries, err := j.RecentCommands(limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(entries)
		}
		fmt.Fprintln(w, "TIME\tSESSION\tOUTCOME\tEXIT\tDURATION\tCOMMAND")
		for _, e := range entries {
			exit := ""
			if e.ExitCode != nil {
				exit = fmt.Sprint(*e.ExitCode)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.CreatedAt, e.SessionID, e.Outcome, exit,
				(time.Duration(e.DurationMs) * time.Millisecond).String(), termtext.Tail(e.Command, 60))
		}
		return w.Flush()
	},
}

var journalExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export unexported journal events",
	Long: `Write journal events that have not been exported yet as JSON, either to
stdout or, with --archive, to the configured S3 bucket. Exported events are
marked so the next export starts after them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := requireJournal()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		archive, _ := cmd.Flags().GetBool("archive")

		events, err := j.UnexportedEvents(limit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(os.Stderr, "No events to export")
			return nil
		}

		if archive {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			store, err := reportStore(ctx)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(events, "", "  ")
			if err != nil {
				return err
			}
			key := store.ReportKey("journal", "events", time.Now())
			if _, err := store.Put(ctx, key, data, "application/json"); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%d events archived: s3://%s/%s\n", len(events), cfg.S3Bucket, key)
		} else if err := printJSON(events); err != nil {
			return err
		}

		ids := make([]int64, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		return j.MarkEventsExported(ids)
	},
}

func requireJournal() (*journal.Journal, error) {
	if cfg.JournalPath == "" {
		return nil, fmt.Errorf("journal is disabled. Set PTYCTL_JOURNAL or --journal")
	}
	j := openJournal()
	if j == nil {
		return nil, fmt.Errorf("failed to open journal %s", cfg.JournalPath)
	}
	return j, nil
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalListCmd)
	journalCmd.AddCommand(journalExportCmd)

	journalListCmd.Flags().Int("limit", 20, "number of entries")
	journalListCmd.Flags().Bool("transfers", false, "list transfers instead of commands")
	journalListCmd.Flags().Bool("json", false, "Output as JSON")

	journalExportCmd.Flags().Int("limit", 1000, "maximum events to export")
	journalExportCmd.Flags().Bool("archive", false, "upload to the configured S3 bucket instead of stdout")
}
