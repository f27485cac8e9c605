package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensandbox/ptyctl/internal/config"
	"github.com/opensandbox/ptyctl/internal/crypto"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage bridge contexts",
	Long:  `Contexts store bridge URLs, tokens and session defaults in ~/.ptyctl/config.yaml.`,
}

var configSetContextCmd = &cobra.Command{
	Use:   "set-context <name>",
	Short: "Create or update a context and make it current",
	Long: `Create or update a context and make it current. Only the flags given are
changed. The global --token, --session and --dialect flags set those fields.
When PTYCTL_CONFIG_KEY is set the token is stored sealed.`,
	Example: `  ptyctl config set-context staging --bridge-url http://10.0.0.5:3000 --token $TOKEN --machine win-1`,
	Args:    cobra.ExactArgs(1),
	Annotations: map[string]string{
		"config": "skip",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFilePath()
		f, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		if f == nil {
			f = &config.File{}
		}

		c := &config.Context{}
		if existing, ok := f.Contexts[args[0]]; ok {
			c = existing
		}
		flags := cmd.Flags()
		for name, dst := range map[string]*string{
			"bridge-url": &c.BridgeURL,
			"stream-url": &c.StreamURL,
			"token":      &c.Token,
			"machine":    &c.MachineID,
			"session":    &c.SessionID,
			"shell":      &c.Shell,
			"dialect":    &c.Dialect,
			"cwd":        &c.Cwd,
		} {
			if flags.Changed(name) {
				*dst, _ = flags.GetString(name)
			}
		}
		if flags.Changed("token") {
			key, err := crypto.KeyFromEnv()
			if err != nil {
				return err
			}
			if key != nil {
				if c.Token, err = crypto.Seal(c.Token, key); err != nil {
					return err
				}
			}
		}
		f.SetContext(args[0], c)
		if err := f.Save(path); err != nil {
			return err
		}
		fmt.Printf("✓ Context %s saved to %s\n", args[0], path)
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Switch the current context",
	Args:  cobra.ExactArgs(1),
	Annotations: map[string]string{
		"config": "skip",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFilePath()
		f, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		if _, _, err := f.Resolve(args[0]); err != nil {
			return err
		}
		f.CurrentContext = args[0]
		if err := f.Save(path); err != nil {
			return err
		}
		fmt.Printf("✓ Switched to context %s\n", args[0])
		return nil
	},
}

var configGetContextsCmd = &cobra.Command{
	Use:     "get-contexts",
	Aliases: []string{"contexts"},
	Short:   "List contexts",
	Annotations: map[string]string{
		"config": "skip",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := config.LoadFile(configFilePath())
		if err != nil {
			return err
		}
		if f == nil || len(f.Contexts) == 0 {
			fmt.Println("No contexts found")
			return nil
		}
		names := make([]string, 0, len(f.Contexts))
		for name := range f.Contexts {
			names = append(names, name)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tBRIDGE\tMACHINE\tSESSION\tDIALECT")
		for _, name := range names {
			c := f.Contexts[name]
			current := ""
			if name == f.CurrentContext {
				current = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", current, name, c.BridgeURL, c.MachineID, c.SessionID, c.Dialect)
		}
		return w.Flush()
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		tokenState := "unset"
		if cfg.Token != "" {
			tokenState = "set"
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		rows := [][2]string{
			{"context", cfg.ContextName},
			{"bridge", cfg.BridgeURL},
			{"stream", cfg.StreamURL},
			{"token", tokenState},
			{"machine", cfg.MachineID},
			{"session", cfg.SessionID},
			{"shell", cfg.Shell},
			{"dialect", cfg.Dialect},
			{"poll", fmt.Sprintf("%s x%d (backoff %.2g, max %s)", cfg.PollInterval, cfg.MaxAttempts, cfg.Backoff, cfg.MaxPollInterval)},
			{"budget", cfg.WaitOptions().Budget().String()},
			{"read window", fmt.Sprint(cfg.ReadWindow)},
			{"strip mode", cfg.StripMode},
			{"chunks", fmt.Sprintf("%d chars every %s", cfg.ChunkSize, cfg.ChunkDelay)},
			{"journal", cfg.JournalPath},
			{"report bucket", cfg.S3Bucket},
		}
		for _, r := range rows {
			fmt.Fprintf(w, "%s:\t%s\n", r[0], r[1])
		}
		return w.Flush()
	},
}

func configFilePath() string {
	if p := os.Getenv("PTYCTL_CONFIG"); p != "" {
		return p
	}
	return config.DefaultFile
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configGetContextsCmd)
	configCmd.AddCommand(configViewCmd)

	f := configSetContextCmd.Flags()
	f.String("bridge-url", "", "bridge HTTP base URL")
	f.String("stream-url", "", "bridge WebSocket URL")
	f.String("machine", "", "default machine ID")
	f.String("shell", "", "program spawned for new sessions")
	f.String("cwd", "", "working directory for new sessions")
}
