package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/ptyctl/internal/config"
	"github.com/opensandbox/ptyctl/internal/journal"
	"github.com/opensandbox/ptyctl/internal/metrics"
	"github.com/opensandbox/ptyctl/internal/storage"
	"github.com/opensandbox/ptyctl/pkg/client"
)

var (
	contextName string
	bridgeURL   string
	token       string
	sessionFlag string
	dialectFlag string
	journalFlag string
	metricsFlag string
	verbose     bool

	cfg *config.Config
	jnl *journal.Journal
)

// ExitError carries a remote exit status that should become the process
// exit status without an error message.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command exited with %d", e.Code)
}

var rootCmd = &cobra.Command{
	Use:   "ptyctl",
	Short: "ptyctl - Drive remote terminals through a PTY bridge",
	Long: `ptyctl sends commands to interactive terminal sessions exposed by a PTY
bridge and reads their output back.

It runs commands with completion markers, moves files through the terminal
with chunked base64, seeds and audits application databases, rewrites .env
files and runs declarative YAML runbooks.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !verbose {
			log.SetOutput(io.Discard)
		}
		if cmd.Annotations["config"] == "skip" {
			return nil
		}
		var err error
		cfg, err = config.Load(contextName)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("url") {
			cfg.BridgeURL = bridgeURL
		}
		if flags.Changed("token") {
			cfg.Token = token
		}
		if flags.Changed("session") {
			cfg.SessionID = sessionFlag
		}
		if flags.Changed("dialect") {
			cfg.Dialect = dialectFlag
		}
		if flags.Changed("journal") {
			cfg.JournalPath = journalFlag
		}
		if flags.Changed("metrics-file") {
			cfg.MetricsFile = metricsFlag
		}
		return cfg.Validate()
	},
}

// Execute runs the root command, then flushes metrics and closes the journal.
func Execute() error {
	err := rootCmd.Execute()
	if jnl != nil {
		jnl.Close()
	}
	if cfg != nil && cfg.MetricsFile != "" {
		if merr := metrics.WriteTextfile(cfg.MetricsFile); merr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write metrics: %v\n", merr)
		}
	}
	return err
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&contextName, "context", "", "config context to use (default: currentContext or $PTYCTL_CONTEXT)")
	pf.StringVar(&bridgeURL, "url", "", "PTY bridge base URL")
	pf.StringVar(&token, "token", "", "PTY bridge API token")
	pf.StringVar(&sessionFlag, "session", "", "session ID to use when none is given")
	pf.StringVar(&dialectFlag, "dialect", "", "remote shell dialect (powershell or posix)")
	pf.StringVar(&journalFlag, "journal", "", "journal database path (empty disables)")
	pf.StringVar(&metricsFlag, "metrics-file", "", "write prometheus textfile metrics here on exit")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log bridge requests to stderr")
}

func newClient() *client.Client {
	var opts []client.Option
	if verbose {
		opts = append(opts, client.WithLogger(log.New(os.Stderr, "", log.LstdFlags)))
	}
	return cfg.NewClient(opts...)
}

// sessionID returns the first argument or the configured session.
func sessionID(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if cfg.SessionID != "" {
		return cfg.SessionID, nil
	}
	return "", fmt.Errorf("session ID is required. Pass it as an argument, use --session or set PTYCTL_SESSION_ID")
}

// openJournal opens the journal on first use. A nil journal means journaling
// is disabled or unavailable; commands still run.
func openJournal() *journal.Journal {
	if jnl != nil || cfg.JournalPath == "" {
		return jnl
	}
	path, err := config.ExpandPath(cfg.JournalPath)
	if err != nil {
		log.Printf("journal: %v", err)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		log.Printf("journal: %v", err)
		return nil
	}
	j, err := journal.Open(path)
	if err != nil {
		log.Printf("journal: %v", err)
		return nil
	}
	jnl = j
	return jnl
}

func reportStore(ctx context.Context) (*storage.ReportStore, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("no report bucket configured. Set PTYCTL_S3_BUCKET")
	}
	return storage.NewReportStore(ctx, storage.S3Config{
		Endpoint:        cfg.S3Endpoint,
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Prefix:          cfg.S3Prefix,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		ForcePathStyle:  cfg.S3ForcePathStyle,
	})
}

// commandContext bounds a command by the wait budget plus the HTTP timeout.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cfg.WaitOptions().Budget()+cfg.Timeout)
}

// interruptContext is for multi-step operations whose individual waits are
// already bounded; it ends on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatTimestamp accepts unix seconds or milliseconds.
func formatTimestamp(ts int64) string {
	switch {
	case ts == 0:
		return ""
	case ts > 1e12:
		return time.UnixMilli(ts).Format("2006-01-02 15:04:05")
	default:
		return time.Unix(ts, 0).Format("2006-01-02 15:04:05")
	}
}
