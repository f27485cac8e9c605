package cmd

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensandbox/ptyctl/internal/journal"
	"github.com/opensandbox/ptyctl/pkg/types"
)

var execCmd = &cobra.Command{
	Use:   "exec <session-id> <command> [args...]",
	Short: "Run a command in a session and wait for it",
	Long: `Run a command in a session, wait for its completion marker and print the
output. The remote exit status becomes ptyctl's exit status.
Example: ptyctl exec abc123 npm run build`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		command := strings.Join(args[1:], " ")

		c := newClient()
		ctx, cancel := commandContext()
		defer cancel()

		result, err := c.Exec(ctx, id, command, cfg.WaitOptions())
		if result != nil {
			if j := openJournal(); j != nil {
				if jerr := j.LogCommand(command, result, journal.OutcomeOf(err)); jerr != nil {
					log.Printf("journal: %v", jerr)
				}
			}
		}
		if err != nil {
			if result != nil && result.Output != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), result.Output)
			}
			return fmt.Errorf("failed to execute command: %w", err)
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		return writeExecResult(cmd.OutOrStdout(), result, jsonOutput)
	},
}

// writeExecResult prints result and turns a nonzero remote exit into an
// ExitError in both output modes.
func writeExecResult(w io.Writer, result *types.CommandResult, asJSON bool) error {
	if asJSON {
		if err := writeJSON(w, result); err != nil {
			return err
		}
	} else if result.Output != "" {
		fmt.Fprintln(w, result.Output)
	}
	if result.ExitCode != 0 {
		return &ExitError{Code: result.ExitCode}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().Bool("json", false, "Output as JSON")
	// Stop parsing flags after the first non-flag arg so that arguments like
	// --version are passed to the remote command, not interpreted by Cobra.
	execCmd.Flags().SetInterspersed(false)
}
