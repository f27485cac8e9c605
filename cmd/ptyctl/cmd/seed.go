package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensandbox/ptyctl/internal/runbook"
	"github.com/opensandbox/ptyctl/internal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed application databases",
	Long: `Apply built-in datasets to a SQLite database, either a local file or a
database on the remote machine through a generated Python script.`,
}

var seedListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List built-in datasets",
	Annotations: map[string]string{
		"config": "skip",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTABLES\tROWS\tDESCRIPTION")
		for _, ds := range seed.Datasets() {
			rows := 0
			for _, t := range ds.Tables {
				rows += len(t.Rows)
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", ds.Name, len(ds.Tables), rows, ds.Description)
		}
		w.Flush()
		return nil
	},
}

var seedApplyCmd = &cobra.Command{
	Use:   "apply <dataset> <db-file>",
	Short: "Apply a dataset to a local SQLite file",
	Args:  cobra.ExactArgs(2),
	Annotations: map[string]string{
		"config": "skip",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, ok := seed.Lookup(args[0])
		if !ok {
			return fmt.Errorf("unknown dataset %q", args[0])
		}
		create, _ := cmd.Flags().GetBool("create-tables")

		db, err := seed.OpenDB(args[1])
		if err != nil {
			return err
		}
		defer db.Close()

		res, err := seed.Apply(context.Background(), db, ds, seed.ApplyOptions{CreateTables: create})
		if err != nil {
			return fmt.Errorf("failed to apply %s: %w", ds.Name, err)
		}
		return printJSON(res)
	},
}

var seedRemoteCmd = &cobra.Command{
	Use:   "remote <session-id> <dataset>",
	Short: "Apply a dataset on the remote machine",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _ := cmd.Flags().GetString("db")
		python, _ := cmd.Flags().GetString("python")
		script, _ := cmd.Flags().GetString("script-path")

		ctx, cancel := interruptContext()
		defer cancel()

		report, err := runSteps(ctx, args[0], "seed-"+args[1], runbook.Step{
			Name:       "seed " + args[1],
			Type:       runbook.StepSeed,
			Dataset:    args[1],
			Database:   db,
			Python:     python,
			ScriptPath: script,
		})
		if err != nil {
			return err
		}
		return printJSON(report.Steps[0].Details)
	},
}

var seedRenderCmd = &cobra.Command{
	Use:   "render <dataset> <remote-db-path>",
	Short: "Print the Python script that applies a dataset",
	Args:  cobra.ExactArgs(2),
	Annotations: map[string]string{
		"config": "skip",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, ok := seed.Lookup(args[0])
		if !ok {
			return fmt.Errorf("unknown dataset %q", args[0])
		}
		script, err := seed.RenderPython(ds, args[1])
		if err != nil {
			return err
		}
		fmt.Print(script)
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit an application database",
}

var auditLocalCmd = &cobra.Command{
	Use:   "local <db-file>",
	Short: "Audit a local SQLite file",
	Args:  cobra.ExactArgs(1),
	Annotations: map[string]string{
		"config": "skip",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := seed.OpenDB(args[0])
		if err != nil {
			return err
		}
		defer db.Close()

		report, err := seed.Audit(context.Background(), db)
		if err != nil {
			return err
		}
		return printAudit(cmd, report)
	},
}

var auditRemoteCmd = &cobra.Command{
	Use:   "remote <session-id>",
	Short: "Audit a database on the remote machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _ := cmd.Flags().GetString("db")
		python, _ := cmd.Flags().GetString("python")

		ctx, cancel := interruptContext()
		defer cancel()

		report, err := runSteps(ctx, args[0], "audit", runbook.Step{
			Name:     "audit " + db,
			Type:     runbook.StepAudit,
			Database: db,
			Python:   python,
		})
		if err != nil {
			return err
		}
		audit, ok := report.Steps[0].Details.(*seed.AuditReport)
		if !ok {
			return fmt.Errorf("audit step returned no report")
		}
		return printAudit(cmd, audit)
	},
}

func printAudit(cmd *cobra.Command, r *seed.AuditReport) error {
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(r)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tROWS")
	for _, t := range r.Tables {
		fmt.Fprintf(w, "%s\t%d\n", t.Name, t.Rows)
	}
	w.Flush()
	fmt.Printf("\nIndexes: %d\n", len(r.Indexes))
	for _, g := range r.Good {
		fmt.Printf("  ✓ %s\n", g)
	}
	for _, g := range r.Gaps {
		fmt.Printf("  ✗ %s\n", g)
	}
	if strict, _ := cmd.Flags().GetBool("strict"); strict && !r.OK() {
		return fmt.Errorf("audit found %d gaps", len(r.Gaps))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(auditCmd)
	seedCmd.AddCommand(seedListCmd)
	seedCmd.AddCommand(seedApplyCmd)
	seedCmd.AddCommand(seedRemoteCmd)
	seedCmd.AddCommand(seedRenderCmd)
	auditCmd.AddCommand(auditLocalCmd)
	auditCmd.AddCommand(auditRemoteCmd)

	seedApplyCmd.Flags().Bool("create-tables", false, "create the dataset's tables first")

	seedRemoteCmd.Flags().String("db", "", "remote database path")
	seedRemoteCmd.Flags().String("python", "", "remote Python interpreter (default per dialect)")
	seedRemoteCmd.Flags().String("script-path", "", "remote path for the generated script")
	seedRemoteCmd.MarkFlagRequired("db")

	auditRemoteCmd.Flags().String("db", "", "remote database path")
	auditRemoteCmd.Flags().String("python", "", "remote Python interpreter (default per dialect)")
	auditRemoteCmd.MarkFlagRequired("db")

	for _, c := range []*cobra.Command{auditLocalCmd, auditRemoteCmd} {
		c.Flags().Bool("json", false, "Output as JSON")
		c.Flags().Bool("strict", false, "exit non-zero when the audit finds gaps")
	}
}
