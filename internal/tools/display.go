package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Display is a human readable rendering of a tool call.
type Display struct {
	Name   string
	Emoji  string
	Label  string
	Detail string
}

// DisplaySpec configures how calls to one tool are rendered.
type DisplaySpec struct {
	Emoji string
	Label string
	// DetailKeys are argument names tried in order for the detail text.
	DetailKeys []string
}

// MaxDetailLength bounds the detail text of a Display.
const MaxDetailLength = 80

const fallbackEmoji = "🧩"

var displaySpecs = map[string]DisplaySpec{
	"echo":              {Emoji: "💬", Label: "Echoing", DetailKeys: []string{"text"}},
	"read_file":         {Emoji: "📖", Label: "Reading", DetailKeys: []string{"path"}},
	"write_file":        {Emoji: "✏️", Label: "Writing", DetailKeys: []string{"path"}},
	"list_dir":          {Emoji: "📂", Label: "Listing", DetailKeys: []string{"path"}},
	"fetch_url":         {Emoji: "🌐", Label: "Fetching", DetailKeys: []string{"url"}},
	"run_command":       {Emoji: "💻", Label: "Running", DetailKeys: []string{"command"}},
	"take_screenshot":   {Emoji: "📷", Label: "Capturing screen"},
	"run_applescript":   {Emoji: "📜", Label: "Running script", DetailKeys: []string{"script"}},
	"mouse_click":       {Emoji: "🖱️", Label: "Clicking"},
	"mouse_move":        {Emoji: "🖱️", Label: "Moving pointer"},
	"mouse_drag":        {Emoji: "🖱️", Label: "Dragging"},
	"scroll":            {Emoji: "🖱️", Label: "Scrolling", DetailKeys: []string{"direction"}},
	"keyboard_type":     {Emoji: "⌨️", Label: "Typing", DetailKeys: []string{"text"}},
	"keyboard_shortcut": {Emoji: "⌨️", Label: "Pressing", DetailKeys: []string{"keys"}},
	"open_application":  {Emoji: "🚀", Label: "Opening", DetailKeys: []string{"name"}},
}

// Describe renders a tool call for progress output.
func Describe(call models.ToolCall) Display {
	d := Display{Name: call.Name, Emoji: fallbackEmoji, Label: defaultLabel(call.Name)}
	spec, ok := displaySpecs[call.Name]
	if !ok {
		return d
	}
	if spec.Emoji != "" {
		d.Emoji = spec.Emoji
	}
	if spec.Label != "" {
		d.Label = spec.Label
	}

	switch call.Name {
	case "mouse_click", "mouse_move":
		if x, y := call.Arguments["x"], call.Arguments["y"]; x != "" && y != "" {
			d.Detail = fmt.Sprintf("(%s, %s)", x, y)
		}
	case "mouse_drag":
		a := call.Arguments
		if a["from_x"] != "" && a["to_x"] != "" {
			d.Detail = fmt.Sprintf("(%s, %s) → (%s, %s)", a["from_x"], a["from_y"], a["to_x"], a["to_y"])
		}
	default:
		d.Detail = detailFromKeys(call.Arguments, spec.DetailKeys)
	}
	return d
}

// Summary formats d as "emoji label: detail".
func (d Display) Summary() string {
	parts := make([]string, 0, 2)
	if d.Emoji != "" {
		parts = append(parts, d.Emoji)
	}
	if d.Label != "" {
		parts = append(parts, d.Label)
	}
	summary := strings.Join(parts, " ")
	if d.Detail != "" {
		summary += ": " + d.Detail
	}
	return summary
}

func detailFromKeys(args map[string]string, keys []string) string {
	for _, key := range keys {
		value := strings.TrimSpace(args[key])
		if value == "" {
			continue
		}
		if key == "path" {
			value = shortenHomePath(value)
		}
		// Only the first line of multi-line values such as scripts.
		if i := strings.IndexByte(value, '\n'); i >= 0 {
			value = strings.TrimSpace(value[:i]) + " …"
		}
		return trimDetail(value)
	}
	return ""
}

func trimDetail(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxDetailLength {
		return s
	}
	return string(runes[:MaxDetailLength-1]) + "…"
}

// defaultLabel turns "fetch_url" into "Fetch Url".
func defaultLabel(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '-' || r == '.' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func shortenHomePath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	cleanPath := filepath.Clean(path)
	cleanHome := filepath.Clean(home)
	if cleanPath == cleanHome {
		return "~"
	}
	if strings.HasPrefix(cleanPath, cleanHome+string(filepath.Separator)) {
		return "~" + cleanPath[len(cleanHome):]
	}
	return path
}
