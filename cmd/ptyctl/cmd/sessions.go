package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/ptyctl/pkg/types"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session", "s"},
	Short:   "Manage PTY sessions",
	Long:    `Create, list, inspect, resize and close terminal sessions on bridge machines.`,
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		machine, _ := cmd.Flags().GetString("machine")

		c := newClient()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		sessions, err := c.ListSessions(ctx, machine)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return printJSON(sessions)
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMACHINE\tCOMMAND\tSTATUS\tCREATED")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.MachineID, s.Command, s.Status, formatTimestamp(s.CreatedAt))
		}
		w.Flush()
		return nil
	},
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session on a machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		machine, _ := cmd.Flags().GetString("machine")
		shell, _ := cmd.Flags().GetString("shell")
		cwd, _ := cmd.Flags().GetString("cwd")
		title, _ := cmd.Flags().GetString("title")
		if machine == "" {
			machine = cfg.MachineID
		}
		if machine == "" {
			return fmt.Errorf("machine is required. Use --machine or set PTYCTL_MACHINE_ID")
		}
		if shell == "" {
			shell = cfg.Shell
		}
		if cwd == "" {
			cwd = cfg.Cwd
		}

		c := newClient()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		sess, err := c.CreateSession(ctx, types.SessionCreateRequest{
			MachineID: machine,
			Command:   shell,
			Cwd:       cwd,
			Title:     title,
		})
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return printJSON(sess)
		}
		fmt.Printf("✓ Session created: %s\n", sess.ID)
		fmt.Printf("  Machine: %s\n", sess.MachineID)
		if sess.Command != "" {
			fmt.Printf("  Command: %s\n", sess.Command)
		}
		if sess.PID != 0 {
			fmt.Printf("  PID: %d\n", sess.PID)
		}
		return nil
	},
}

var sessionsGetCmd = &cobra.Command{
	Use:   "get [session-id]",
	Short: "Get session details",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionID(args)
		if err != nil {
			return err
		}

		c := newClient()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		sess, err := c.GetSession(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return printJSON(sess)
		}
		fmt.Printf("Session: %s\n", sess.ID)
		fmt.Printf("  Machine: %s\n", sess.MachineID)
		fmt.Printf("  Status: %s\n", sess.Status)
		if sess.Command != "" {
			fmt.Printf("  Command: %s\n", sess.Command)
		}
		if sess.Cwd != "" {
			fmt.Printf("  Cwd: %s\n", sess.Cwd)
		}
		if sess.CreatedAt != 0 {
			fmt.Printf("  Created: %s\n", formatTimestamp(sess.CreatedAt))
		}
		fmt.Printf("  Buffer: %d bytes\n", len(sess.Buffer))
		return nil
	},
}

var sessionsCloseCmd = &cobra.Command{
	Use:     "close [session-id]",
	Aliases: []string{"rm", "kill"},
	Short:   "Close a session",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionID(args)
		if err != nil {
			return err
		}

		c := newClient()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		if _, err := c.CloseSession(ctx, id); err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}
		fmt.Printf("✓ Session closed: %s\n", id)
		return nil
	},
}

var sessionsResizeCmd = &cobra.Command{
	Use:   "resize [session-id]",
	Short: "Resize a session's terminal",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionID(args)
		if err != nil {
			return err
		}
		cols, _ := cmd.Flags().GetInt("cols")
		rows, _ := cmd.Flags().GetInt("rows")

		c := newClient()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		if _, err := c.Resize(ctx, id, cols, rows); err != nil {
			return fmt.Errorf("failed to resize session: %w", err)
		}
		fmt.Printf("✓ Session %s resized to %dx%d\n", id, cols, rows)
		return nil
	},
}

var machinesCmd = &cobra.Command{
	Use:     "machines",
	Aliases: []string{"machine", "m"},
	Short:   "List bridge machines",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		machines, err := c.ListMachines(ctx)
		if err != nil {
			return fmt.Errorf("failed to list machines: %w", err)
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return printJSON(machines)
		}
		if len(machines) == 0 {
			fmt.Println("No machines found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tHOSTNAME\tIP\tSTATUS\tLAST SEEN")
		for _, m := range machines {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				m.ID, m.Name, m.Hostname, m.IPAddress, m.Status, formatTimestamp(m.LastSeen))
		}
		w.Flush()
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check bridge health",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		start := time.Now()
		h, err := c.Health(ctx)
		if err != nil {
			return fmt.Errorf("bridge unhealthy: %w", err)
		}
		fmt.Printf("%s: %s (%s)\n", c.BaseURL(), h.Status, time.Since(start).Round(time.Millisecond))
		if h.Mode != "" {
			fmt.Printf("  Mode: %s\n", h.Mode)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(machinesCmd)
	rootCmd.AddCommand(healthCmd)

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCreateCmd)
	sessionsCmd.AddCommand(sessionsGetCmd)
	sessionsCmd.AddCommand(sessionsCloseCmd)
	sessionsCmd.AddCommand(sessionsResizeCmd)

	sessionsListCmd.Flags().String("machine", "", "only list sessions on this machine")
	sessionsListCmd.Flags().Bool("json", false, "Output as JSON")

	sessionsCreateCmd.Flags().String("machine", "", "machine to create the session on")
	sessionsCreateCmd.Flags().String("shell", "", "program to spawn (default from config)")
	sessionsCreateCmd.Flags().String("cwd", "", "working directory")
	sessionsCreateCmd.Flags().String("title", "", "session title")
	sessionsCreateCmd.Flags().Bool("json", false, "Output as JSON")

	sessionsGetCmd.Flags().Bool("json", false, "Output as JSON")

	sessionsResizeCmd.Flags().Int("cols", 120, "terminal columns")
	sessionsResizeCmd.Flags().Int("rows", 40, "terminal rows")

	machinesCmd.Flags().Bool("json", false, "Output as JSON")
}
