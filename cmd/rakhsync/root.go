package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adeilh/rakh-sync/config"
	"github.com/adeilh/rakh-sync/logging"
)

// app carries what PersistentPreRunE resolved for the subcommands.
type app struct {
	configPath string
	baseURL    string
	verbose    bool
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
	level  zap.AtomicLevel
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "rakhsync",
		Short: "Social API server and cache-synchronized client",
		Long: `rakhsync runs the follow/feed API (serve) and offers client commands
that read through a query cache and invalidate it after mutations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.baseURL != "" {
				cfg.API.BaseURL = a.baseURL
			}
			a.cfg = cfg

			a.logger, a.level, err = logging.New(cfg.Logging, a.verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "rakhsync.yaml", "Config file")
	root.PersistentFlags().StringVar(&a.baseURL, "api-base-url", "", "API base URL (overrides api.base_url)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "Client operation timeout")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newClientCmds(a)...)
	return root
}

// commandContext bounds client commands by --timeout.
func (a *app) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
