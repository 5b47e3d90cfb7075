package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/garmin-go/internal/config"
	"github.com/tonimelisma/garmin-go/internal/garmin"
	"github.com/tonimelisma/garmin-go/internal/session"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagEmail      string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// endpointsForDomain maps the configured domain to SSO and API base URLs.
// Tests point it at an in-process server.
var endpointsForDomain = garmin.EndpointsForDomain

var (
	errNoConsumer = errors.New(
		"no OAuth consumer configured: set consumer_key and consumer_secret in the [garmin] section")
	errNoEmail    = errors.New("no account email: set [account] email, " + config.EnvEmail + " or --email")
	errNoPassword = errors.New("no account password: set " + config.EnvPassword + " or [account] password")
)

// CLIFlags is a snapshot of the persistent flags for one invocation.
type CLIFlags struct {
	ConfigPath string
	Email      string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries the resolved configuration and logger to subcommands.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config
	CfgPath string
	Logger  *slog.Logger
	Handler slog.Handler
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run hook.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext missing; PersistentPreRunE did not run")
	}

	return cc
}

// skipConfigCommands lists commands that must run before a valid config
// file exists. Matched on CommandPath() so a future subcommand with the same
// leaf name is not skipped by accident.
var skipConfigCommands = map[string]bool{
	"garmin-go config init": true,
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "garmin-go",
		Short:   "Garmin Connect upload client",
		Long:    "Sign in to Garmin Connect and upload FIT, GPX and TCX activity files.",
		Version: version,
		// Errors and usage are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			cc, err := loadCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagEmail, "email", "", "Garmin Connect account email")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration from the override
// chain and builds the logger.
func loadCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	flags := CLIFlags{
		ConfigPath: flagConfigPath,
		Email:      flagEmail,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}

	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	// Only pass --email to the resolver if the user explicitly set it.
	if cmd.Flags().Changed("email") {
		cli.Email = &flags.Email
	}

	env := config.ReadEnvOverrides()

	cfg, err := config.Resolve(env, cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	handler := buildHandler(logLevel(cfg, flags))

	return &CLIContext{
		Flags:   flags,
		Cfg:     cfg,
		CfgPath: config.ResolveConfigPath(env, cli),
		Logger:  slog.New(handler),
		Handler: handler,
	}, nil
}

// logLevel picks the log level. The config file provides the baseline;
// --verbose and --quiet override it.
func logLevel(cfg *config.Config, flags CLIFlags) slog.Level {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return level
}

func buildHandler(level slog.Level) slog.Handler {
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
}

// newHTTPClient builds the HTTP client from the [network] section.
func newHTTPClient(n *config.NetworkConfig) *http.Client {
	dialer := &net.Dialer{Timeout: n.ConnectDuration()}

	return &http.Client{
		Timeout: n.DataDuration(),
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: n.ConnectDuration(),
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// newSession builds a Session from the resolved configuration. Its
// diagnostics are forwarded to the CLI log handler.
func newSession(cc *CLIContext) (*session.Session, error) {
	g := &cc.Cfg.Garmin
	if !g.HasConsumer() {
		return nil, errNoConsumer
	}

	sso, api := endpointsForDomain(g.Domain)

	// A configured zero means no retries; garmin.Config reads zero as the
	// default and a negative value as none.
	retries := cc.Cfg.Network.MaxRetries
	if retries == 0 {
		retries = -1
	}

	return session.New(session.Config{
		Client: garmin.Config{
			SSOURL:     sso,
			APIURL:     api,
			UserAgent:  cc.Cfg.Network.UserAgent,
			MaxRetries: retries,
		},
		Consumer:   garmin.Consumer{Key: g.ConsumerKey, Secret: g.ConsumerSecret},
		HTTPClient: newHTTPClient(&cc.Cfg.Network),
		Handler:    cc.Handler,
		Format:     cc.Cfg.Upload.Format,
	})
}

// credentials returns the account identity from the resolved configuration.
func credentials(cc *CLIContext) (garmin.Credentials, error) {
	if cc.Cfg.Account.Email == "" {
		return garmin.Credentials{}, errNoEmail
	}

	if cc.Cfg.Account.Password == "" {
		return garmin.Credentials{}, errNoPassword
	}

	return garmin.Credentials{Identifier: cc.Cfg.Account.Email, Secret: cc.Cfg.Account.Password}, nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
