// Package tools holds the tool catalog: named capabilities with parameter
// schemas, risk metadata and handlers, plus the filtered views handed to
// model backends.
package tools

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Category groups tools by the kind of capability they expose.
type Category string

const (
	CategoryGeneral        Category = "general"
	CategoryFilesystem     Category = "filesystem"
	CategoryWeb            Category = "web"
	CategoryRuntime        Category = "runtime"
	CategoryScreen         Category = "screen"
	CategoryDesktopControl Category = "desktop_control"
	CategoryAutomation     Category = "automation"
)

// Handler executes a tool. It returns the result text or an error; a
// *ToolError keeps its kind, any other error is reported as command_failed.
type Handler interface {
	Handle(ctx context.Context, args map[string]string) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args map[string]string) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, args map[string]string) (string, error) {
	return f(ctx, args)
}

// Definition describes one tool.
type Definition struct {
	Name        string
	Description string
	// Parameters is a JSON schema object. Empty means no parameters.
	Parameters json.RawMessage
	Risk       models.RiskLevel
	Category   Category
	Handler    Handler
}

// Schema exports the definition in the shape providers advertise.
func (d Definition) Schema() models.ToolSchema {
	params := d.Parameters
	if len(params) == 0 {
		params = json.RawMessage(emptyObjectSchema)
	}
	return models.ToolSchema{Name: d.Name, Description: d.Description, Parameters: slices.Clone(params)}
}

// desktopControlTools drive the pointer, keyboard or app launch. Screen
// capture and scripted automation are deliberately not in this set.
var desktopControlTools = map[string]struct{}{
	"mouse_click":       {},
	"mouse_move":        {},
	"mouse_drag":        {},
	"scroll":            {},
	"keyboard_type":     {},
	"keyboard_shortcut": {},
	"open_application":  {},
}

// IsDesktopControl reports whether name is a desktop-control tool.
func IsDesktopControl(name string) bool {
	_, ok := desktopControlTools[name]
	return ok
}

// DesktopControlTools returns the desktop-control tool names, sorted.
func DesktopControlTools() []string {
	names := make([]string, 0, len(desktopControlTools))
	for name := range desktopControlTools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
