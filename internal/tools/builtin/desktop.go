package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentcore/internal/media"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Desktop drives the host's pointer, keyboard and application launcher.
// Coordinates are screen pixels of the most recent screenshot.
type Desktop interface {
	Click(ctx context.Context, x, y int, button string, count int) error
	Move(ctx context.Context, x, y int) error
	Drag(ctx context.Context, fromX, fromY, toX, toY int) error
	Scroll(ctx context.Context, direction string, amount int) error
	TypeText(ctx context.Context, text string) error
	Shortcut(ctx context.Context, keys []string) error
	OpenApplication(ctx context.Context, name string) error
}

// Scripter runs automation scripts such as AppleScript.
type Scripter interface {
	Run(ctx context.Context, script string) (string, error)
}

type clickParams struct {
	X      int    `json:"x" jsonschema:"description=Horizontal pixel coordinate"`
	Y      int    `json:"y" jsonschema:"description=Vertical pixel coordinate"`
	Button string `json:"button,omitempty" jsonschema:"enum=left,enum=right,enum=middle,description=Mouse button (default left)"`
	Double bool   `json:"double,omitempty" jsonschema:"description=Double click"`
}

type moveParams struct {
	X int `json:"x" jsonschema:"description=Horizontal pixel coordinate"`
	Y int `json:"y" jsonschema:"description=Vertical pixel coordinate"`
}

type dragParams struct {
	FromX int `json:"from_x"`
	FromY int `json:"from_y"`
	ToX   int `json:"to_x"`
	ToY   int `json:"to_y"`
}

type scrollParams struct {
	Direction string `json:"direction" jsonschema:"enum=up,enum=down,enum=left,enum=right"`
	Amount    int    `json:"amount,omitempty" jsonschema:"description=Scroll ticks (default 3),minimum=1"`
}

type typeParams struct {
	Text string `json:"text" jsonschema:"description=Text to type at the focused element"`
}

type shortcutParams struct {
	Keys string `json:"keys" jsonschema:"description=Key combination joined with + such as cmd+shift+t"`
}

type openAppParams struct {
	Name string `json:"name" jsonschema:"description=Application name"`
}

type scriptParams struct {
	Script string `json:"script" jsonschema:"description=AppleScript source to execute"`
}

type screenshotParams struct{}

func desktopTool(name, description string, params any, desktop Desktop, run func(context.Context, Desktop, map[string]string) (string, error)) tools.Definition {
	return tools.Definition{
		Name:        name,
		Description: description,
		Parameters:  tools.ReflectSchema(params),
		Risk:        models.RiskHigh,
		Category:    tools.CategoryDesktopControl,
		Handler: tools.HandlerFunc(func(ctx context.Context, args map[string]string) (string, error) {
			if desktop == nil {
				return "", tools.NotImplemented("desktop control")
			}
			return run(ctx, desktop, args)
		}),
	}
}

func desktopTools(desktop Desktop) []tools.Definition {
	return []tools.Definition{
		desktopTool("mouse_click", "Click at a screen coordinate.", &clickParams{}, desktop,
			func(ctx context.Context, d Desktop, args map[string]string) (string, error) {
				x, y, err := point(args, "x", "y")
				if err != nil {
					return "", err
				}
				button := args["button"]
				if button == "" {
					button = "left"
				}
				count := 1
				if boolArg(args, "double") {
					count = 2
				}
				if err := d.Click(ctx, x, y, button, count); err != nil {
					return "", err
				}
				return fmt.Sprintf("Clicked %s at (%d, %d)", button, x, y), nil
			}),
		desktopTool("mouse_move", "Move the pointer to a screen coordinate.", &moveParams{}, desktop,
			func(ctx context.Context, d Desktop, args map[string]string) (string, error) {
				x, y, err := point(args, "x", "y")
				if err != nil {
					return "", err
				}
				if err := d.Move(ctx, x, y); err != nil {
					return "", err
				}
				return fmt.Sprintf("Moved pointer to (%d, %d)", x, y), nil
			}),
		desktopTool("mouse_drag", "Drag from one screen coordinate to another.", &dragParams{}, desktop,
			func(ctx context.Context, d Desktop, args map[string]string) (string, error) {
				fx, fy, err := point(args, "from_x", "from_y")
				if err != nil {
					return "", err
				}
				tx, ty, err := point(args, "to_x", "to_y")
				if err != nil {
					return "", err
				}
				if err := d.Drag(ctx, fx, fy, tx, ty); err != nil {
					return "", err
				}
				return fmt.Sprintf("Dragged from (%d, %d) to (%d, %d)", fx, fy, tx, ty), nil
			}),
		desktopTool("scroll", "Scroll the focused view.", &scrollParams{}, desktop,
			func(ctx context.Context, d Desktop, args map[string]string) (string, error) {
				amount, err := intArg(args, "amount", 3)
				if err != nil {
					return "", err
				}
				direction := args["direction"]
				if err := d.Scroll(ctx, direction, amount); err != nil {
					return "", err
				}
				return fmt.Sprintf("Scrolled %s by %d", direction, amount), nil
			}),
		desktopTool("keyboard_type", "Type text at the focused element.", &typeParams{}, desktop,
			func(ctx context.Context, d Desktop, args map[string]string) (string, error) {
				if err := d.TypeText(ctx, args["text"]); err != nil {
					return "", err
				}
				return fmt.Sprintf("Typed %d characters", len([]rune(args["text"]))), nil
			}),
		desktopTool("keyboard_shortcut", "Press a key combination.", &shortcutParams{}, desktop,
			func(ctx context.Context, d Desktop, args map[string]string) (string, error) {
				keys := splitKeys(args["keys"])
				if len(keys) == 0 {
					return "", &tools.ToolError{Kind: tools.KindInvalidArguments, Detail: "keys is required"}
				}
				if err := d.Shortcut(ctx, keys); err != nil {
					return "", err
				}
				return "Pressed " + strings.Join(keys, "+"), nil
			}),
		desktopTool("open_application", "Launch or focus an application by name.", &openAppParams{}, desktop,
			func(ctx context.Context, d Desktop, args map[string]string) (string, error) {
				name := strings.TrimSpace(args["name"])
				if err := d.OpenApplication(ctx, name); err != nil {
					return "", err
				}
				return "Opened " + name, nil
			}),
	}
}

func point(args map[string]string, xKey, yKey string) (int, int, error) {
	x, err := intArg(args, xKey, 0)
	if err != nil {
		return 0, 0, err
	}
	y, err := intArg(args, yKey, 0)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func splitKeys(combo string) []string {
	var keys []string
	for _, k := range strings.Split(combo, "+") {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func screenshotTool(capturer media.Capturer) tools.Definition {
	return tools.Definition{
		Name:        "take_screenshot",
		Description: "Capture the current screen. The image is attached to the conversation for the next turn.",
		Parameters:  tools.ReflectSchema(&screenshotParams{}),
		Risk:        models.RiskLow,
		Category:    tools.CategoryScreen,
		Handler: tools.HandlerFunc(func(ctx context.Context, _ map[string]string) (string, error) {
			if capturer == nil {
				return "", tools.NotImplemented("screen capture")
			}
			shot, err := media.Capture(ctx, capturer, media.Options{})
			if err != nil {
				return "", tools.CommandFailed(err.Error())
			}
			return fmt.Sprintf("Captured %dx%d screenshot (%s)", shot.Width, shot.Height, shot.MIMEType), nil
		}),
	}
}

func scriptTool(scripter Scripter) tools.Definition {
	return tools.Definition{
		Name:        "run_applescript",
		Description: "Run an AppleScript and return its output.",
		Parameters:  tools.ReflectSchema(&scriptParams{}),
		Risk:        models.RiskHigh,
		Category:    tools.CategoryAutomation,
		Handler: tools.HandlerFunc(func(ctx context.Context, args map[string]string) (string, error) {
			if scripter == nil {
				return "", tools.NotImplemented("AppleScript")
			}
			out, err := scripter.Run(ctx, args["script"])
			if err != nil {
				return "", tools.CommandFailed(err.Error())
			}
			return out, nil
		}),
	}
}
