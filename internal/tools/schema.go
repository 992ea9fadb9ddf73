package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const emptyObjectSchema = `{"type":"object","properties":{}}`

// ReflectSchema builds an inline JSON schema from a parameter struct. Fields
// without omitempty are required and unknown keys are rejected.
func ReflectSchema(v any) json.RawMessage {
	r := &invopop.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""
	schema.ID = ""
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(emptyObjectSchema)
	}
	return data
}

// argumentContract is the compiled form of a tool's parameter schema.
type argumentContract struct {
	schema     *jsonschema.Schema
	properties map[string]string
	required   []string
	closed     bool
}

func compileContract(name string, raw json.RawMessage) (*argumentContract, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(emptyObjectSchema)
	}
	var shape struct {
		Type       string `json:"type"`
		Properties map[string]struct {
			Type any `json:"type"`
		} `json:"properties"`
		Required             []string        `json:"required"`
		AdditionalProperties json.RawMessage `json:"additionalProperties"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, fmt.Errorf("tool %s: parameters are not a JSON object: %w", name, err)
	}
	if shape.Type != "" && shape.Type != "object" {
		return nil, fmt.Errorf("tool %s: parameters must be an object schema, got %q", name, shape.Type)
	}
	compiled, err := jsonschema.CompileString("tool://"+name+".json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("tool %s: compile schema: %w", name, err)
	}

	c := &argumentContract{
		schema:     compiled,
		properties: make(map[string]string, len(shape.Properties)),
		required:   shape.Required,
		// Flat string arguments cannot carry extra keys meaningfully, so
		// unknown keys are rejected unless the schema opts in.
		closed: len(shape.AdditionalProperties) == 0 || string(shape.AdditionalProperties) == "false",
	}
	for key, prop := range shape.Properties {
		t, _ := prop.Type.(string)
		c.properties[key] = t
	}
	return c, nil
}

// check rejects unknown and missing keys, then validates the typed values
// against the schema.
func (c *argumentContract) check(args map[string]string) error {
	var problems []string
	if c.closed {
		var unknown []string
		for key := range args {
			if _, ok := c.properties[key]; !ok {
				unknown = append(unknown, key)
			}
		}
		sort.Strings(unknown)
		for _, key := range unknown {
			problems = append(problems, "unknown argument "+quote(key))
		}
	}
	for _, key := range c.required {
		if _, ok := args[key]; !ok {
			problems = append(problems, "missing required argument "+quote(key))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	if err := c.schema.Validate(c.typed(args)); err != nil {
		var ve *jsonschema.ValidationError
		if asValidation(err, &ve) {
			return fmt.Errorf("%s", validationSummary(ve))
		}
		return err
	}
	return nil
}

// typed decodes values for non-string properties so numbers, booleans,
// objects and arrays validate against their declared types.
func (c *argumentContract) typed(args map[string]string) map[string]any {
	out := make(map[string]any, len(args))
	for key, value := range args {
		if t := c.properties[key]; t == "string" || t == "" && !looksStructured(value) {
			out[key] = value
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			out[key] = decoded
			continue
		}
		out[key] = value
	}
	return out
}

func looksStructured(v string) bool {
	v = strings.TrimSpace(v)
	return strings.HasPrefix(v, "{") || strings.HasPrefix(v, "[")
}

func asValidation(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

// validationSummary flattens the leaf causes of a validation error.
func validationSummary(ve *jsonschema.ValidationError) string {
	var msgs []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := strings.TrimPrefix(e.InstanceLocation, "/")
			if loc == "" {
				msgs = append(msgs, e.Message)
			} else {
				msgs = append(msgs, loc+": "+e.Message)
			}
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return strings.Join(msgs, "; ")
}

func quote(s string) string { return "\"" + s + "\"" }
