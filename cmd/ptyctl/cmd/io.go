package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <session-id> <command>",
	Short: "Type a command into a session",
	Long: `Type a command followed by the line terminator into a session without
waiting for it to finish. Use - to read the command from stdin.
Example: ptyctl send abc123 "npx tsx src/index.ts"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, command := args[0], args[1]
		if command == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read from stdin: %w", err)
			}
			command = strings.TrimRight(string(data), "\r\n")
		}
		raw, _ := cmd.Flags().GetBool("raw")

		c := newClient()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		var err error
		if raw {
			_, err = c.SendRaw(ctx, id, command)
		} else {
			_, err = c.Send(ctx, id, command)
		}
		if err != nil {
			return fmt.Errorf("failed to send: %w", err)
		}
		if j := openJournal(); j != nil {
			if _, err := j.LogSend(id, command); err != nil {
				log.Printf("journal: %v", err)
			}
		}
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read [session-id]",
	Short: "Print the recent cleaned output of a session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionID(args)
		if err != nil {
			return err
		}
		chars, _ := cmd.Flags().GetInt("chars")

		c := newClient()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		out, err := c.ReadOutput(ctx, id, chars)
		if err != nil {
			return fmt.Errorf("failed to read output: %w", err)
		}
		fmt.Print(out)
		if !strings.HasSuffix(out, "\n") {
			fmt.Println()
		}
		return nil
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait [session-id]",
	Short: "Wait for a session to go quiet",
	Long: `Echo a fresh marker and wait until it shows up in the output, which means
everything typed before it has been processed. With --marker, wait for that
text instead without sending anything.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionID(args)
		if err != nil {
			return err
		}
		marker, _ := cmd.Flags().GetString("marker")

		c := newClient()
		ctx, cancel := commandContext()
		defer cancel()

		opts := cfg.WaitOptions()
		if marker != "" {
			res, err := c.WaitForMarker(ctx, id, marker, opts)
			if err != nil {
				return err
			}
			fmt.Println(res.Output)
			return nil
		}
		res, err := c.Settle(ctx, id, opts)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Settled after %d polls (%s)\n", res.Attempts, res.Elapsed.Round(time.Millisecond))
		return nil
	},
}

var interruptCmd = &cobra.Command{
	Use:   "interrupt [session-id]",
	Short: "Send Ctrl-C to a session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionID(args)
		if err != nil {
			return err
		}

		c := newClient()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		if _, err := c.Interrupt(ctx, id); err != nil {
			return fmt.Errorf("failed to interrupt: %w", err)
		}
		fmt.Printf("✓ Interrupt sent to %s\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(waitCmd)
	rootCmd.AddCommand(interruptCmd)

	sendCmd.Flags().Bool("raw", false, "send the data as-is without a line terminator")
	readCmd.Flags().Int("chars", 0, "characters to return (default: read window)")
	waitCmd.Flags().String("marker", "", "wait for this text instead of a fresh marker")
}
