package builtin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/agentcore/internal/tools"
)

// Resolver maps tool paths onto the workspace and any extra allowed roots.
type Resolver struct {
	Root    string
	Allowed []string
}

// Resolve returns an absolute, cleaned path inside one of the roots.
// Relative paths are joined to Root.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", &tools.ToolError{Kind: tools.KindInvalidArguments, Detail: "path is required"}
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	target := clean
	if strings.HasPrefix(target, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			target = filepath.Join(home, target[2:])
		}
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(rootAbs, target)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	for _, base := range append([]string{rootAbs}, r.Allowed...) {
		baseAbs, err := filepath.Abs(base)
		if err != nil {
			continue
		}
		if within(baseAbs, targetAbs) {
			return targetAbs, nil
		}
	}
	return "", tools.PermissionDenied(fmt.Sprintf("%s is outside the allowed directories", clean))
}

func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
