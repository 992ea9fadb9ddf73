// Package main provides the CLI entry point for agentcore, a runtime that
// drives LLM agents through multi-turn tool-using conversations.
//
// # Basic Usage
//
// Ask one agent a question:
//
//	agentcore run --agent researcher "summarise README.md"
//
// Start an interactive group chat:
//
//	agentcore chat --agent researcher --agent critic
//
// Inspect stored conversations:
//
//	agentcore sessions list
//	agentcore sessions show <conversation-id>
//
// # Environment Variables
//
//   - AGENTCORE_CONFIG: path to the configuration file (default: agentcore.yaml)
//   - OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY, OPENROUTER_API_KEY:
//     provider keys used when the configuration leaves api_key empty
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version    = "dev"
	commit     = "none"
	date       = "unknown"
	configPath string
)

const (
	defaultConfigName = "agentcore.yaml"
	configEnv         = "AGENTCORE_CONFIG"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentcore",
		Short: "agentcore - LLM agent runtime",
		Long: `agentcore runs configured agents against OpenAI, Anthropic, Gemini, Ollama
and OpenRouter models, executing the tools they call until they answer.

Agents in the same conversation hand off to each other by @mention.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 config file (or set "+configEnv+")")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildChatCmd(),
		buildToolsCmd(),
		buildConfigCmd(),
		buildSessionsCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func resolveConfigPath(path string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(configEnv)); p != "" {
		return p
	}
	return defaultConfigName
}

// loadConfig loads the resolved configuration. A missing default file yields
// the built-in defaults so commands work without any setup.
func loadConfig(path string) (*config.Config, error) {
	explicit := strings.TrimSpace(path) != "" || strings.TrimSpace(os.Getenv(configEnv)) != ""
	resolved := resolveConfigPath(path)
	cfg, err := config.Load(resolved)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("failed to load config: %w", err)
}
