package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// MaxToolNameLength bounds tool names accepted by Register and Invoke.
const MaxToolNameLength = 256

// Catalog is a registry of tool definitions. Lookups are safe for
// concurrent use from many runs.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]*registered
}

type registered struct {
	def      Definition
	contract *argumentContract
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tools: make(map[string]*registered)}
}

// Register adds a tool. Names must be unique and the parameter schema must
// compile.
func (c *Catalog) Register(def Definition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return errors.New("tool name is required")
	}
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("tool name exceeds %d characters", MaxToolNameLength)
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", name)
	}
	if def.Risk == "" {
		def.Risk = models.RiskLow
	}
	if def.Category == "" {
		def.Category = CategoryGeneral
		if IsDesktopControl(name) {
			def.Category = CategoryDesktopControl
		}
	}
	def.Name = name

	contract, err := compileContract(name, def.Parameters)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	c.tools[name] = &registered{def: def, contract: contract}
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (c *Catalog) MustRegister(defs ...Definition) {
	for _, def := range defs {
		if err := c.Register(def); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the definition registered under name.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.tools[name]
	if !ok {
		return Definition{}, false
	}
	return r.def, true
}

// RiskOf returns the declared risk level of a tool.
func (c *Catalog) RiskOf(name string) (models.RiskLevel, bool) {
	def, ok := c.Lookup(name)
	return def.Risk, ok
}

// Names returns all registered names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the definitions selected by enabled, sorted by name.
// An empty enabled list selects every tool. Group references expand.
func (c *Catalog) Definitions(enabled []string) []Definition {
	return c.selectDefs(enabled, false)
}

// ListFor returns schemas for the enabled tools, or every tool when enabled
// is empty. Output is sorted by name, so it does not depend on the order
// tools were registered in. Unknown names are ignored.
func (c *Catalog) ListFor(enabled []string) []models.ToolSchema {
	return schemas(c.selectDefs(enabled, false))
}

// ListExcludingDesktopControl is ListFor without pointer, keyboard and app
// launch tools. Screenshot and scripted automation tools remain.
func (c *Catalog) ListExcludingDesktopControl(enabled []string) []models.ToolSchema {
	return schemas(c.selectDefs(enabled, true))
}

func (c *Catalog) selectDefs(enabled []string, excludeDesktop bool) []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	if len(enabled) == 0 {
		names = make([]string, 0, len(c.tools))
		for name := range c.tools {
			names = append(names, name)
		}
	} else {
		names = ExpandGroups(enabled)
	}
	sort.Strings(names)

	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		r, ok := c.tools[name]
		if !ok {
			continue
		}
		if excludeDesktop && IsDesktopControl(name) {
			continue
		}
		defs = append(defs, r.def)
	}
	return defs
}

func schemas(defs []Definition) []models.ToolSchema {
	out := make([]models.ToolSchema, len(defs))
	for i, def := range defs {
		out[i] = def.Schema()
	}
	return out
}

// Invoke validates call.Arguments against the tool's schema and runs its
// handler. Every failure is returned as a *ToolError.
func (c *Catalog) Invoke(ctx context.Context, call models.ToolCall) (string, error) {
	c.mu.RLock()
	r, ok := c.tools[call.Name]
	c.mu.RUnlock()
	if !ok {
		return "", &ToolError{Kind: KindUnknownTool, Tool: call.Name, Detail: "tool not found: " + call.Name}
	}

	args := call.Arguments
	if args == nil {
		args = map[string]string{}
	}
	if err := r.contract.check(args); err != nil {
		return "", &ToolError{Kind: KindInvalidArguments, Tool: call.Name, Detail: err.Error()}
	}

	result, err := runHandler(ctx, r.def.Handler, args)
	if err != nil {
		return "", AsToolError(call.Name, err)
	}
	return result, nil
}

// runHandler converts a handler panic into a command failure.
func runHandler(ctx context.Context, h Handler, args map[string]string) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = CommandFailed(fmt.Sprintf("tool panicked: %v", p))
		}
	}()
	return h.Handle(ctx, args)
}
