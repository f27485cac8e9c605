package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/opensandbox/ptyctl/internal/crypto"
	"github.com/opensandbox/ptyctl/internal/termtext"
	"github.com/opensandbox/ptyctl/pkg/client"
	"github.com/opensandbox/ptyctl/pkg/payload"
)

// Config holds all configuration for ptyctl.
type Config struct {
	ContextName string
	ConfigPath  string

	// Bridge
	BridgeURL string // HTTP API, e.g. "http://localhost:3000"
	StreamURL string // WebSocket, e.g. "ws://localhost:3001"
	Token     string
	Timeout   time.Duration
	RateLimit int // requests per minute, 0 disables client-side limiting

	// Session defaults
	MachineID string
	SessionID string
	Shell     string // program spawned for new sessions
	Dialect   string // "powershell" or "posix"
	Cwd       string

	// Polling
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	MaxAttempts     int
	Backoff         float64

	// Output
	ReadWindow int
	StripMode  string // "csi" or "full"
	ASCIIOnly  bool

	// Transfers
	ChunkSize  int
	ChunkDelay time.Duration

	// Local state
	JournalPath string // SQLite journal, "" disables
	MetricsFile string // prometheus textfile written on exit, "" disables

	// S3-compatible storage for runbook reports
	S3Endpoint        string
	S3Bucket          string
	S3Region          string
	S3Prefix          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3ForcePathStyle  bool

	// AWS Secrets Manager. If set, the secret is a JSON object whose keys are
	// env var names. Env vars take precedence over secret values.
	SecretsARN string
}

// Load reads configuration in this order, later sources winning: defaults,
// the selected context of the contexts file, AWS Secrets Manager (only for
// keys not already in the environment), environment variables.
func Load(contextName string) (*Config, error) {
	// Fetch secrets from AWS Secrets Manager if configured.
	// This populates the process environment so subsequent os.Getenv calls pick them up.
	if arn := os.Getenv("PTYCTL_SECRETS_ARN"); arn != "" {
		if err := loadSecretsManager(arn); err != nil {
			return nil, fmt.Errorf("failed to load secrets from %s: %w", arn, err)
		}
	}

	cfg := &Config{
		ConfigPath: envOrDefault("PTYCTL_CONFIG", DefaultFile),

		BridgeURL: "http://localhost:3000",
		StreamURL: "ws://localhost:3001",
		Shell:     "powershell",

		JournalPath: "~/.ptyctl/journal.db",
	}

	file, err := LoadFile(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cfg.ConfigPath, err)
	}
	if contextName == "" {
		contextName = os.Getenv("PTYCTL_CONTEXT")
	}
	fctx, name, err := file.Resolve(contextName)
	if err != nil {
		return nil, err
	}
	cfg.ContextName = name
	if fctx != nil {
		if err := cfg.applyContext(fctx); err != nil {
			return nil, fmt.Errorf("context %s: %w", name, err)
		}
	}

	cfg.BridgeURL = strings.TrimRight(envOrDefault("PTYCTL_BRIDGE_URL", cfg.BridgeURL), "/")
	cfg.StreamURL = envOrDefault("PTYCTL_STREAM_URL", cfg.StreamURL)
	cfg.Token = envOrDefault("PTYCTL_API_TOKEN", cfg.Token)
	cfg.MachineID = envOrDefault("PTYCTL_MACHINE_ID", cfg.MachineID)
	cfg.SessionID = envOrDefault("PTYCTL_SESSION_ID", cfg.SessionID)
	cfg.Shell = envOrDefault("PTYCTL_SHELL", cfg.Shell)
	cfg.Dialect = envOrDefault("PTYCTL_DIALECT", cfg.Dialect)
	cfg.Cwd = envOrDefault("PTYCTL_CWD", cfg.Cwd)
	cfg.StripMode = envOrDefault("PTYCTL_STRIP_MODE", termtext.ModeCSI)
	cfg.ASCIIOnly = os.Getenv("PTYCTL_ASCII_ONLY") == "true"
	cfg.JournalPath = envOrDefault("PTYCTL_JOURNAL", cfg.JournalPath)
	cfg.MetricsFile = os.Getenv("PTYCTL_METRICS_FILE")

	cfg.S3Endpoint = os.Getenv("PTYCTL_S3_ENDPOINT")
	cfg.S3Bucket = os.Getenv("PTYCTL_S3_BUCKET")
	cfg.S3Region = envOrDefault("PTYCTL_S3_REGION", "us-east-1")
	cfg.S3Prefix = envOrDefault("PTYCTL_S3_PREFIX", "ptyctl/reports")
	cfg.S3AccessKeyID = os.Getenv("PTYCTL_S3_ACCESS_KEY_ID")
	cfg.S3SecretAccessKey = os.Getenv("PTYCTL_S3_SECRET_ACCESS_KEY")
	cfg.S3ForcePathStyle = os.Getenv("PTYCTL_S3_FORCE_PATH_STYLE") == "true"
	cfg.SecretsARN = os.Getenv("PTYCTL_SECRETS_ARN")

	p := &envParser{}
	cfg.Timeout = p.duration("PTYCTL_TIMEOUT", client.DefaultTimeout)
	cfg.RateLimit = p.int("PTYCTL_RATE_LIMIT", client.DefaultRatePerMinute)
	cfg.PollInterval = p.duration("PTYCTL_POLL_INTERVAL", client.DefaultPollInterval)
	cfg.MaxPollInterval = p.duration("PTYCTL_MAX_POLL_INTERVAL", client.DefaultMaxInterval)
	cfg.MaxAttempts = p.int("PTYCTL_MAX_ATTEMPTS", client.DefaultMaxAttempts)
	cfg.Backoff = p.float("PTYCTL_BACKOFF", client.DefaultBackoff)
	cfg.ReadWindow = p.int("PTYCTL_READ_WINDOW", client.DefaultReadWindow)
	cfg.ChunkSize = p.int("PTYCTL_CHUNK_SIZE", client.DefaultChunkSize)
	cfg.ChunkDelay = p.duration("PTYCTL_CHUNK_DELAY", client.DefaultChunkDelay)
	if p.err != nil {
		return nil, p.err
	}

	if cfg.Dialect == "" {
		cfg.Dialect = dialectForShell(cfg.Shell)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyContext copies the non-empty context fields. A sealed token is opened
// with the key from PTYCTL_CONFIG_KEY.
func (c *Config) applyContext(fctx *Context) error {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	token := fctx.Token
	if crypto.IsSealed(token) {
		key, err := crypto.KeyFromEnv()
		if err != nil {
			return err
		}
		if key == nil {
			return fmt.Errorf("token is sealed but %s is not set", crypto.KeyEnv)
		}
		if token, err = crypto.Open(token, key); err != nil {
			return fmt.Errorf("open token: %w", err)
		}
	}
	set(&c.BridgeURL, fctx.BridgeURL)
	set(&c.StreamURL, fctx.StreamURL)
	set(&c.Token, token)
	set(&c.MachineID, fctx.MachineID)
	set(&c.SessionID, fctx.SessionID)
	set(&c.Shell, fctx.Shell)
	set(&c.Dialect, fctx.Dialect)
	set(&c.Cwd, fctx.Cwd)
	return nil
}

// Validate checks values that cannot be caught while parsing.
func (c *Config) Validate() error {
	if _, err := payload.DialectByName(c.Dialect); err != nil {
		return err
	}
	if !termtext.ValidMode(c.StripMode) {
		return fmt.Errorf("invalid strip mode %q (want %q or %q)", c.StripMode, termtext.ModeCSI, termtext.ModeFull)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be at least 1, got %d", c.ChunkSize)
	}
	if c.Backoff < 1 {
		return fmt.Errorf("backoff must be at least 1, got %v", c.Backoff)
	}
	return nil
}

// ShellDialect returns the dialect named by Dialect.
func (c *Config) ShellDialect() payload.Dialect {
	d, err := payload.DialectByName(c.Dialect)
	if err != nil {
		return payload.PowerShell{}
	}
	return d
}

// WaitOptions builds the polling options for marker waits.
func (c *Config) WaitOptions() client.WaitOptions {
	return client.WaitOptions{
		PollInterval: c.PollInterval,
		MaxAttempts:  c.MaxAttempts,
		Backoff:      c.Backoff,
		MaxInterval:  c.MaxPollInterval,
		Window:       c.ReadWindow,
	}
}

// ClientOptions builds the options for client.NewClient.
func (c *Config) ClientOptions() []client.Option {
	return []client.Option{
		client.WithTimeout(c.Timeout),
		client.WithRateLimit(c.RateLimit, client.DefaultRateBurst),
		client.WithDialect(c.ShellDialect()),
		client.WithStripMode(c.StripMode),
		client.WithASCIIFold(c.ASCIIOnly),
		client.WithReadWindow(c.ReadWindow),
	}
}

// NewClient returns a bridge client for this configuration.
func (c *Config) NewClient(extra ...client.Option) *client.Client {
	return client.NewClient(c.BridgeURL, c.Token, append(c.ClientOptions(), extra...)...)
}

func dialectForShell(shell string) string {
	s := strings.ToLower(shell)
	if strings.Contains(s, "powershell") || strings.Contains(s, "pwsh") {
		return payload.DialectPowerShell
	}
	return payload.DialectPOSIX
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envParser reads typed env vars and keeps the first error.
type envParser struct {
	err error
}

func (p *envParser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" || p.err != nil {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
		return fallback
	}
	return n
}

func (p *envParser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" || p.err != nil {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
		return fallback
	}
	return f
}

func (p *envParser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" || p.err != nil {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
		return fallback
	}
	return d
}

// loadSecretsManager fetches a JSON secret from AWS Secrets Manager and sets
// any values as environment variables (only if not already set, so explicit
// env vars always win). Uses the default AWS credential chain.
func loadSecretsManager(arn string) error {
	secrets, err := FetchSecret(context.Background(), arn)
	if err != nil {
		return err
	}

	applied := 0
	for key, value := range secrets {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
			applied++
		}
	}

	log.Printf("config: loaded %d secrets from Secrets Manager (%d keys in secret, env overrides take precedence)", applied, len(secrets))
	return nil
}

// FetchSecret returns a JSON object secret as a map.
func FetchSecret(ctx context.Context, arn string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Extract region from ARN: arn:aws:secretsmanager:REGION:ACCOUNT:secret:NAME
	var opts []func(*awsconfig.LoadOptions) error
	if parts := strings.Split(arn, ":"); len(parts) >= 4 && parts[3] != "" {
		opts = append(opts, awsconfig.WithRegion(parts[3]))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	sm := secretsmanager.NewFromConfig(awsCfg)
	result, err := sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return nil, fmt.Errorf("GetSecretValue: %w", err)
	}

	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", arn)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return nil, fmt.Errorf("parse secret JSON: %w", err)
	}
	return secrets, nil
}
