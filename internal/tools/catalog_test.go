package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

type sumParams struct {
	A     int    `json:"a"`
	B     int    `json:"b"`
	Label string `json:"label,omitempty"`
}

func constTool(name, out string) Definition {
	return Definition{
		Name: name,
		Handler: HandlerFunc(func(context.Context, map[string]string) (string, error) {
			return out, nil
		}),
	}
}

func sumTool() Definition {
	return Definition{
		Name:        "sum",
		Description: "Add two integers.",
		Parameters:  ReflectSchema(&sumParams{}),
		Handler: HandlerFunc(func(_ context.Context, args map[string]string) (string, error) {
			return args["a"] + "+" + args["b"], nil
		}),
	}
}

func TestCatalog_Register(t *testing.T) {
	c := NewCatalog()
	if err := c.Register(sumTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name string
		def  Definition
	}{
		{"duplicate", sumTool()},
		{"empty name", constTool("  ", "x")},
		{"nil handler", Definition{Name: "nohandler"}},
		{"long name", constTool(strings.Repeat("n", MaxToolNameLength+1), "x")},
		{"non-object schema", Definition{Name: "bad", Parameters: []byte(`{"type":"string"}`), Handler: constTool("bad", "").Handler}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Register(tt.def); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	def, ok := c.Lookup("sum")
	if !ok || def.Risk != models.RiskLow || def.Category != CategoryGeneral {
		t.Fatalf("defaults not applied: %+v", def)
	}
	c.MustRegister(constTool("mouse_click", "ok"))
	if def, _ := c.Lookup("mouse_click"); def.Category != CategoryDesktopControl {
		t.Errorf("mouse_click category = %s", def.Category)
	}
}

func names(schemas []models.ToolSchema) string {
	out := make([]string, len(schemas))
	for i, s := range schemas {
		out[i] = s.Name
	}
	return strings.Join(out, ",")
}

func TestCatalog_ListForIsDeterministic(t *testing.T) {
	a := NewCatalog()
	a.MustRegister(constTool("zeta", ""), constTool("alpha", ""), constTool("mouse_click", ""))
	b := NewCatalog()
	b.MustRegister(constTool("mouse_click", ""), constTool("alpha", ""), constTool("zeta", ""))

	if names(a.ListFor(nil)) != names(b.ListFor(nil)) {
		t.Fatalf("registration order leaked: %s vs %s", names(a.ListFor(nil)), names(b.ListFor(nil)))
	}
	if got := names(a.ListFor(nil)); got != "alpha,mouse_click,zeta" {
		t.Errorf("ListFor(nil) = %s", got)
	}
	if names(a.ListFor([]string{"zeta", "alpha"})) != names(a.ListFor([]string{"alpha", "zeta"})) {
		t.Error("enabled order changed output")
	}
	first := names(a.ListFor([]string{"zeta", "missing"}))
	if first != "zeta" || names(a.ListFor([]string{"zeta", "missing"})) != first {
		t.Errorf("ListFor with unknown name = %s", first)
	}

	schemas := a.ListFor(nil)
	schemas[0].Parameters[0] = 'X'
	if a.ListFor(nil)[0].Parameters[0] == 'X' {
		t.Error("returned schema aliases catalog storage")
	}
}

func TestCatalog_ListExcludingDesktopControl(t *testing.T) {
	c := NewCatalog()
	for _, name := range []string{"echo", "take_screenshot", "run_applescript", "mouse_click", "keyboard_type", "open_application"} {
		c.MustRegister(constTool(name, ""))
	}
	if got := names(c.ListExcludingDesktopControl(nil)); got != "echo,run_applescript,take_screenshot" {
		t.Errorf("ListExcludingDesktopControl(nil) = %s", got)
	}
	if got := names(c.ListExcludingDesktopControl([]string{"group:desktop", "group:automation"})); got != "run_applescript,take_screenshot" {
		t.Errorf("with groups = %s", got)
	}
	if got := names(c.ListFor([]string{"group:desktop"})); got != "keyboard_type,mouse_click,open_application" {
		t.Errorf("ListFor(group:desktop) = %s", got)
	}
}

func TestCatalog_Invoke(t *testing.T) {
	c := NewCatalog()
	c.MustRegister(sumTool())
	c.MustRegister(Definition{
		Name: "explode",
		Handler: HandlerFunc(func(context.Context, map[string]string) (string, error) {
			panic("boom")
		}),
	})
	c.MustRegister(Definition{
		Name: "fails",
		Handler: HandlerFunc(func(context.Context, map[string]string) (string, error) {
			return "", errors.New("disk full")
		}),
	})
	ctx := context.Background()

	out, err := c.Invoke(ctx, models.ToolCall{Name: "sum", Arguments: map[string]string{"a": "1", "b": "2"}})
	if err != nil || out != "1+2" {
		t.Fatalf("Invoke(sum) = %q, %v", out, err)
	}

	tests := []struct {
		name   string
		call   models.ToolCall
		kind   ErrorKind
		detail string
	}{
		{"unknown tool", models.ToolCall{Name: "nope"}, KindUnknownTool, "tool not found: nope"},
		{"missing key", models.ToolCall{Name: "sum", Arguments: map[string]string{"a": "1"}}, KindInvalidArguments, `missing required argument "b"`},
		{"unknown key", models.ToolCall{Name: "sum", Arguments: map[string]string{"a": "1", "b": "2", "c": "3"}}, KindInvalidArguments, `unknown argument "c"`},
		{"wrong type", models.ToolCall{Name: "sum", Arguments: map[string]string{"a": "one", "b": "2"}}, KindInvalidArguments, "a:"},
		{"panic", models.ToolCall{Name: "explode"}, KindCommandFailed, "tool panicked: boom"},
		{"plain error", models.ToolCall{Name: "fails"}, KindCommandFailed, "disk full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Invoke(ctx, tt.call)
			var te *ToolError
			if !errors.As(err, &te) {
				t.Fatalf("expected *ToolError, got %T %v", err, err)
			}
			if te.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", te.Kind, tt.kind)
			}
			if !strings.Contains(te.Detail, tt.detail) {
				t.Errorf("detail = %q, want substring %q", te.Detail, tt.detail)
			}
			if te.Tool != tt.call.Name {
				t.Errorf("tool = %q", te.Tool)
			}
		})
	}
}

func TestToolError_Message(t *testing.T) {
	err := AsToolError("read_file", FileNotFound("a.txt"))
	if got := err.Message(); got != "Error in read_file (file_not_found): no such file: a.txt" {
		t.Errorf("Message() = %q", got)
	}
	if !errors.Is(err, ErrFileNotFound) || errors.Is(err, ErrInvalidURL) {
		t.Error("sentinel matching wrong")
	}
	if AsToolError("x", nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestExpandGroups(t *testing.T) {
	got := ExpandGroups([]string{"group:fs", "echo", "read_file", "group:unknown", " echo "})
	want := "read_file,write_file,list_dir,echo"
	if strings.Join(got, ",") != want {
		t.Errorf("ExpandGroups = %v, want %s", got, want)
	}
	if !IsGroup("group:readonly") || IsGroup("readonly") {
		t.Error("IsGroup classification wrong")
	}
}
