package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vovakirdan/relaychat/internal/app"
	"github.com/vovakirdan/relaychat/internal/auth"
	"github.com/vovakirdan/relaychat/internal/config"
	"github.com/vovakirdan/relaychat/internal/log"
	transporthttp "github.com/vovakirdan/relaychat/internal/transport/http"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	overrides  config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "relaychat",
		Short:        "Presence and direct message relay server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml")
	bindOverrideFlags(root, &opts.overrides)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	root.AddCommand(serve, newConfigCmd(opts), newTokenCmd(opts))
	return root
}

// bindOverrideFlags registers config overrides as persistent flags so every subcommand sees them.
func bindOverrideFlags(cmd *cobra.Command, o *config.Config) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.Addr, "addr", "", "HTTP listen address")
	f.DurationVar(&o.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	f.DurationVar(&o.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	f.StringVar(&o.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&o.LogFormat, "log-format", "", "log output format (console, json)")
	f.StringVar(&o.StoreDriver, "store", "", "message store driver (sqlite, badger)")
	f.StringVar(&o.DatabasePath, "db", "", "sqlite database path")
	f.StringVar(&o.BadgerDir, "badger-dir", "", "badger data directory")
	f.IntVar(&o.RateLimitPerMinute, "rate-limit", 0, "inbound commands per connection per minute (0 = off)")
	f.StringVar(&o.JWTSecret, "jwt-secret", "", "HMAC secret used to verify tokens")
	f.BoolVar(&o.JWTRequired, "jwt-required", false, "reject connections without a valid token")
}

// loadConfig resolves defaults < file < env < flags.
func loadConfig(opts *options) (config.Config, string, error) {
	bootLogger := log.New("info", log.FormatConsole)
	cfg, path, err := config.Load(bootLogger, opts.configPath)
	if err != nil {
		return cfg, path, err
	}
	cfg.UpdateFrom(opts.overrides)
	if err := cfg.Validate(); err != nil {
		return cfg, path, err
	}
	return cfg, path, nil
}

func runServe(parent context.Context, opts *options) error {
	cfg, path, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info().Str("config", path).Str("store", cfg.StoreDriver).Msg("configuration loaded")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize application")
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting relaychat server")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.JWTSecret != "" {
				cfg.JWTSecret = "***"
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", path, out)
			return nil
		},
	}
}

// newTokenCmd mints a token signed with the configured secret, for local testing.
func newTokenCmd(opts *options) *cobra.Command {
	var (
		userID   string
		userName string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed token for a user id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			jwtCfg := transporthttp.JWTConfigFrom(&cfg)
			if jwtCfg == nil {
				return fmt.Errorf("jwt_secret is not configured")
			}
			if ttl > 0 {
				jwtCfg.TTL = ttl
			}
			token, err := auth.GenerateToken(jwtCfg, userID, userName)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&userName, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to jwt_ttl)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
