package tools

import (
	"slices"
	"strings"
)

// GroupPrefix marks a group reference inside an allowlist.
const GroupPrefix = "group:"

// Groups maps group names to the built-in tools they cover.
var Groups = map[string][]string{
	"group:fs":      {"read_file", "write_file", "list_dir"},
	"group:web":     {"fetch_url"},
	"group:runtime": {"run_command"},
	// Desktop control tools drive input devices directly.
	"group:desktop": DesktopControlTools(),
	// Screen introspection and scripted automation stay available when
	// desktop control is off.
	"group:automation": {"take_screenshot", "run_applescript"},
	"group:readonly":   {"echo", "read_file", "list_dir", "fetch_url", "take_screenshot"},
}

// IsGroup reports whether name is a known group reference.
func IsGroup(name string) bool {
	_, ok := Groups[name]
	return ok
}

// ExpandGroups replaces group references with their tools and removes
// duplicates, keeping first-seen order. Unknown "group:" names expand to
// nothing.
//
//	ExpandGroups([]string{"group:fs", "echo"})
//	// ["read_file", "write_file", "list_dir", "echo"]
func ExpandGroups(items []string) []string {
	var result []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		result = append(result, name)
	}

	for _, item := range items {
		item = strings.TrimSpace(item)
		if strings.HasPrefix(item, GroupPrefix) {
			for _, tool := range Groups[item] {
				add(tool)
			}
			continue
		}
		add(item)
	}
	return result
}

// GroupNames returns the known group names in sorted order.
func GroupNames() []string {
	names := make([]string, 0, len(Groups))
	for name := range Groups {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
