package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

const maxCommandOutput = 64 * 1024

type commandParams struct {
	Command string `json:"command" jsonschema:"description=Shell command run with /bin/sh -c"`
	Cwd     string `json:"cwd,omitempty" jsonschema:"description=Working directory (relative to the workspace)"`
	Timeout int    `json:"timeout_seconds,omitempty" jsonschema:"description=Override the command timeout in seconds,minimum=1"`
}

func commandTool(resolver Resolver, timeout time.Duration) tools.Definition {
	return tools.Definition{
		Name:        "run_command",
		Description: "Run a shell command in the workspace and return its combined output.",
		Parameters:  tools.ReflectSchema(&commandParams{}),
		Risk:        models.RiskHigh,
		Category:    tools.CategoryRuntime,
		Handler: tools.HandlerFunc(func(ctx context.Context, args map[string]string) (string, error) {
			return runCommand(ctx, resolver, timeout, args)
		}),
	}
}

func runCommand(ctx context.Context, resolver Resolver, timeout time.Duration, args map[string]string) (string, error) {
	command := strings.TrimSpace(args["command"])
	if command == "" {
		return "", &tools.ToolError{Kind: tools.KindInvalidArguments, Detail: "command is required"}
	}
	dir := args["cwd"]
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	cwd, err := resolver.Resolve(dir)
	if err != nil {
		return "", err
	}
	secs, err := intArg(args, "timeout_seconds", 0)
	if err != nil {
		return "", err
	}
	if secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = cwd
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second
	err = cmd.Run()

	output, truncated := truncate(out.String(), maxCommandOutput)
	if truncated {
		output += "\n[output truncated]"
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", tools.CommandFailed(fmt.Sprintf("timed out after %s\n%s", timeout, output))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", tools.CommandFailed(fmt.Sprintf("exit status %d\n%s", exitErr.ExitCode(), strings.TrimSpace(output)))
		}
		return "", tools.CommandFailed(err.Error())
	}
	if strings.TrimSpace(output) == "" {
		return "(no output)", nil
	}
	return output, nil
}
