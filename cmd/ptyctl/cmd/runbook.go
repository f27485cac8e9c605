package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensandbox/ptyctl/internal/config"
	"github.com/opensandbox/ptyctl/internal/runbook"
)

var runbookCmd = &cobra.Command{
	Use:   "runbook",
	Short: "Run declarative YAML runbooks",
}

var runbookApplyCmd = &cobra.Command{
	Use:   "apply <runbook.yaml>",
	Short: "Apply a runbook (defaults to dry-run unless --confirm)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		jsonOut, _ := cmd.Flags().GetBool("json")
		follow, _ := cmd.Flags().GetBool("follow")
		reportPath, _ := cmd.Flags().GetString("report")
		archive, _ := cmd.Flags().GetBool("archive")

		doc, err := runbook.Load(args[0])
		if err != nil {
			return err
		}
		if !confirm {
			runbook.Plan(os.Stdout, doc)
			fmt.Fprintln(os.Stdout, "dry-run: no commands executed (pass --confirm to run)")
			return nil
		}

		ctx, stop := interruptContext()
		defer stop()

		r := newRunner()
		if follow && !jsonOut {
			r.Out = os.Stdout
		}
		report, err := r.Run(ctx, doc)
		if err != nil {
			return err
		}

		if reportPath != "" {
			if err := report.Write(reportPath); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
		}
		if archive {
			store, err := reportStore(ctx)
			if err != nil {
				return err
			}
			key, err := report.Archive(ctx, store)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "report archived: s3://%s/%s\n", cfg.S3Bucket, key)
		}

		if jsonOut {
			if err := printJSON(report); err != nil {
				return err
			}
		} else if report.Success {
			fmt.Fprintf(os.Stderr, "runbook succeeded: %s\n", report.Runbook)
		} else {
			fmt.Fprintf(os.Stderr, "runbook failed: %s\n", report.Runbook)
		}

		if !report.Success {
			return fmt.Errorf("runbook failed")
		}
		return nil
	},
}

var runbookValidateCmd = &cobra.Command{
	Use:   "validate <runbook.yaml>",
	Short: "Check a runbook without contacting the bridge",
	Args:  cobra.ExactArgs(1),
	Annotations: map[string]string{
		"config": "skip",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := runbook.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s: %d steps\n", doc.Metadata.Name, len(doc.Spec.Steps))
		return nil
	},
}

// newRunner builds a runbook runner from the loaded configuration.
func newRunner() *runbook.Runner {
	return &runbook.Runner{
		Client:     newClient(),
		SessionID:  cfg.SessionID,
		Wait:       cfg.WaitOptions(),
		ChunkSize:  cfg.ChunkSize,
		ChunkDelay: cfg.ChunkDelay,
		Journal:    openJournal(),
		Secrets:    config.FetchSecret,
	}
}

// runSteps runs ad-hoc steps as an unnamed runbook against one session and
// fails when any step fails.
func runSteps(ctx context.Context, id, name string, steps ...runbook.Step) (*runbook.Report, error) {
	doc := &runbook.Document{
		APIVersion: runbook.APIVersion,
		Kind:       runbook.Kind,
		Metadata:   runbook.Metadata{Name: name},
		Spec:       runbook.Spec{Session: id, Steps: steps},
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	r := newRunner()
	r.SessionID = id
	report, err := r.Run(ctx, doc)
	if err != nil {
		return nil, err
	}
	for _, s := range report.Steps {
		if !s.Success {
			if s.Output != "" {
				fmt.Fprintln(os.Stderr, s.Output)
			}
			return report, fmt.Errorf("%s: %s", s.Name, s.Error)
		}
	}
	return report, nil
}

func init() {
	rootCmd.AddCommand(runbookCmd)
	runbookCmd.AddCommand(runbookApplyCmd)
	runbookCmd.AddCommand(runbookValidateCmd)

	runbookApplyCmd.Flags().Bool("confirm", false, "execute the runbook (otherwise prints the plan)")
	runbookApplyCmd.Flags().Bool("follow", true, "stream step output to stdout")
	runbookApplyCmd.Flags().Bool("json", false, "emit a JSON report to stdout (disables --follow)")
	runbookApplyCmd.Flags().String("report", "", "write a JSON report to this path")
	runbookApplyCmd.Flags().Bool("archive", false, "upload the report to the configured S3 bucket")
}
