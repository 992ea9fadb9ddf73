// Package builtin provides the default tool set: file access, URL fetch,
// shell commands, screen capture, scripting and desktop control. Host
// specific capabilities are reached through small interfaces and report
// not_implemented when none is configured.
package builtin

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/agentcore/internal/media"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Config wires the built-in tools to the host.
type Config struct {
	// Workspace is the root for relative paths. Defaults to ".".
	Workspace string
	// AllowedDirs are extra roots file tools may touch.
	AllowedDirs    []string
	MaxReadBytes   int
	MaxFetchBytes  int
	CommandTimeout time.Duration
	HTTPClient     *http.Client
	Screen         media.Capturer
	Scripter       Scripter
	Desktop        Desktop
}

func (c Config) withDefaults() Config {
	if c.MaxReadBytes <= 0 {
		c.MaxReadBytes = 200_000
	}
	if c.MaxFetchBytes <= 0 {
		c.MaxFetchBytes = 100_000
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 60 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return c
}

// Register adds every built-in tool to catalog.
func Register(catalog *tools.Catalog, cfg Config) error {
	cfg = cfg.withDefaults()
	resolver := Resolver{Root: cfg.Workspace, Allowed: cfg.AllowedDirs}

	defs := []tools.Definition{echoTool()}
	defs = append(defs, fileTools(resolver, cfg.MaxReadBytes)...)
	defs = append(defs,
		fetchTool(cfg.HTTPClient, cfg.MaxFetchBytes),
		commandTool(resolver, cfg.CommandTimeout),
		screenshotTool(cfg.Screen),
		scriptTool(cfg.Scripter),
	)
	defs = append(defs, desktopTools(cfg.Desktop)...)

	for _, def := range defs {
		if err := catalog.Register(def); err != nil {
			return err
		}
	}
	return nil
}

type echoParams struct {
	Text string `json:"text" jsonschema:"description=Text to return unchanged"`
}

func echoTool() tools.Definition {
	return tools.Definition{
		Name:        "echo",
		Description: "Return the given text unchanged.",
		Parameters:  tools.ReflectSchema(&echoParams{}),
		Risk:        models.RiskLow,
		Category:    tools.CategoryGeneral,
		Handler: tools.HandlerFunc(func(_ context.Context, args map[string]string) (string, error) {
			return args["text"], nil
		}),
	}
}

func intArg(args map[string]string, key string, def int) (int, error) {
	raw := strings.TrimSpace(args[key])
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &tools.ToolError{Kind: tools.KindInvalidArguments, Detail: key + " must be an integer"}
	}
	return n, nil
}

func boolArg(args map[string]string, key string) bool {
	v, _ := strconv.ParseBool(strings.TrimSpace(args[key]))
	return v
}

func truncate(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	return s[:limit], true
}
