package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

type readParams struct {
	Path     string `json:"path" jsonschema:"description=Path to the file (relative to the workspace)"`
	Offset   int    `json:"offset,omitempty" jsonschema:"description=Byte offset to start reading from,minimum=0"`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema:"description=Maximum bytes to read,minimum=0"`
}

type writeParams struct {
	Path    string `json:"path" jsonschema:"description=Path to the file (relative to the workspace)"`
	Content string `json:"content" jsonschema:"description=Text to write"`
	Append  bool   `json:"append,omitempty" jsonschema:"description=Append instead of replacing the file"`
}

type listParams struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory to list (defaults to the workspace)"`
}

func fileTools(resolver Resolver, maxRead int) []tools.Definition {
	return []tools.Definition{
		{
			Name:        "read_file",
			Description: "Read a text file with an optional byte offset and limit.",
			Parameters:  tools.ReflectSchema(&readParams{}),
			Risk:        models.RiskLow,
			Category:    tools.CategoryFilesystem,
			Handler: tools.HandlerFunc(func(ctx context.Context, args map[string]string) (string, error) {
				return readFile(resolver, maxRead, args)
			}),
		},
		{
			Name:        "write_file",
			Description: "Create or overwrite a text file, or append to it.",
			Parameters:  tools.ReflectSchema(&writeParams{}),
			Risk:        models.RiskMedium,
			Category:    tools.CategoryFilesystem,
			Handler: tools.HandlerFunc(func(ctx context.Context, args map[string]string) (string, error) {
				return writeFile(resolver, args)
			}),
		},
		{
			Name:        "list_dir",
			Description: "List the entries of a directory.",
			Parameters:  tools.ReflectSchema(&listParams{}),
			Risk:        models.RiskLow,
			Category:    tools.CategoryFilesystem,
			Handler: tools.HandlerFunc(func(ctx context.Context, args map[string]string) (string, error) {
				return listDir(resolver, args)
			}),
		},
	}
}

func readFile(resolver Resolver, maxRead int, args map[string]string) (string, error) {
	path, err := resolver.Resolve(args["path"])
	if err != nil {
		return "", err
	}
	offset, err := intArg(args, "offset", 0)
	if err != nil {
		return "", err
	}
	limit, err := intArg(args, "max_bytes", maxRead)
	if err != nil {
		return "", err
	}
	if limit <= 0 || limit > maxRead {
		limit = maxRead
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fsError(args["path"], err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fsError(args["path"], err)
	}
	if info.IsDir() {
		return "", tools.CommandFailed(args["path"] + " is a directory")
	}
	if offset > 0 {
		if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
			return "", tools.CommandFailed(fmt.Sprintf("seek: %v", err))
		}
	}

	buf, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		return "", tools.CommandFailed(fmt.Sprintf("read: %v", err))
	}
	content, truncated := truncate(string(buf), limit)
	if truncated {
		content += fmt.Sprintf("\n[truncated: file is %d bytes]", info.Size())
	}
	return content, nil
}

func writeFile(resolver Resolver, args map[string]string) (string, error) {
	path, err := resolver.Resolve(args["path"])
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fsError(args["path"], err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if boolArg(args, "append") {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return "", fsError(args["path"], err)
	}
	n, err := f.WriteString(args["content"])
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", tools.CommandFailed(fmt.Sprintf("write %s: %v", args["path"], err))
	}
	return fmt.Sprintf("Wrote %d bytes to %s", n, args["path"]), nil
}

func listDir(resolver Resolver, args map[string]string) (string, error) {
	target := args["path"]
	if strings.TrimSpace(target) == "" {
		target = "."
	}
	path, err := resolver.Resolve(target)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fsError(target, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(names, "\n"), nil
}

func fsError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return tools.FileNotFound(path)
	case errors.Is(err, fs.ErrPermission):
		return tools.PermissionDenied(fmt.Sprintf("%s: %v", path, err))
	default:
		return tools.CommandFailed(err.Error())
	}
}
