package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/spf13/cobra"
)

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration tools",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigValidateCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.JSONSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func buildConfigValidateCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file",
		Long: `Load the configuration, resolving includes and environment references, and
report every validation problem. With --watch the file is re-validated each
time it changes until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(configPath)
			out := cmd.OutOrStdout()
			report := func(cfg *config.Config, err error) {
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", path, err)
					return
				}
				fmt.Fprintf(out, "%s: ok (version %d, %d agents)\n", path, cfg.Version, len(cfg.Agents))
			}

			cfg, err := config.Load(path)
			if !watch {
				if err != nil {
					return err
				}
				report(cfg, nil)
				return nil
			}
			report(cfg, err)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			w, err := config.Watch(ctx, path, 0, report)
			if err != nil {
				return err
			}
			defer w.Close()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Re-validate on every change")
	return cmd
}

// watchAgentConfig reloads the configuration in the background, logging
// whether each change is valid. Running commands keep their loaded
// configuration.
func watchAgentConfig(ctx context.Context, rt *runtime) func() {
	path := resolveConfigPath(configPath)
	if _, err := os.Stat(path); err != nil {
		return func() {}
	}
	w, err := config.Watch(ctx, path, 500*time.Millisecond, func(cfg *config.Config, err error) {
		if err != nil {
			rt.logger.Warn("configuration change rejected", "path", path, "error", err)
			return
		}
		rt.logger.Info("configuration changed; restart chat to apply", "path", path, "agents", len(cfg.Agents))
	})
	if err != nil {
		rt.logger.Debug("config watch unavailable", "error", err)
		return func() {}
	}
	return func() { _ = w.Close() }
}
