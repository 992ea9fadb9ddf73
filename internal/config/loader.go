package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// Load reads a configuration file, resolves includes and environment
// references, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRaw returns the merged document for path before it is decoded into a
// Config. Included files are merged first, so the including file wins.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	l := &includeLoader{active: make(map[string]bool)}
	return l.load(path)
}

// includeLoader tracks the chain of files being loaded to reject cycles.
type includeLoader struct {
	active map[string]bool
}

func (l *includeLoader) load(path string) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if l.active[absPath] {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	l.active[absPath] = true
	defer delete(l.active, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	doc, err := parseDocument([]byte(expandEnv(string(data))), filepath.Ext(absPath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(absPath), err)
	}

	includes, err := takeIncludes(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(absPath), err)
	}

	merged := make(map[string]any)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(absPath), inc)
		}
		included, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		deepMerge(merged, included)
	}
	deepMerge(merged, doc)
	return merged, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-fallback}. Bare $ is left alone so
// keys such as $include survive.
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok && v != "" {
			return v
		}
		return m[3]
	})
}

// parseDocument decodes one YAML document, or JSON/JSON5 when ext says so.
func parseDocument(data []byte, ext string) (map[string]any, error) {
	var doc map[string]any
	switch strings.ToLower(ext) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		if err := decodeSingleYAML(data, &doc, false); err != nil {
			return nil, err
		}
	}
	if doc == nil {
		doc = make(map[string]any)
	}
	return doc, nil
}

// takeIncludes removes the include directive from doc and returns its paths.
// The legacy key "include" is accepted as well.
func takeIncludes(doc map[string]any) ([]string, error) {
	var value any
	for _, key := range []string{includeKey, "include"} {
		if v, ok := doc[key]; ok {
			value = v
			delete(doc, key)
			break
		}
	}

	var paths []string
	switch v := value.(type) {
	case nil:
	case string:
		paths = append(paths, v)
	case []any:
		for _, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, errors.New("include entries must be strings")
			}
			paths = append(paths, s)
		}
	default:
		return nil, errors.New("include must be a string or list of strings")
	}

	out := paths[:0]
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// deepMerge copies src into dst, merging nested maps key by key.
func deepMerge(dst, src map[string]any) {
	for key, value := range src {
		nested, isMap := value.(map[string]any)
		existing, hasMap := dst[key].(map[string]any)
		if isMap && hasMap {
			deepMerge(existing, nested)
			continue
		}
		dst[key] = value
	}
}

// decodeRawConfig round-trips the merged document through YAML so unknown
// keys are rejected and durations parse.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var cfg Config
	if err := decodeSingleYAML(payload, &cfg, true); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func decodeSingleYAML(data []byte, into any, strict bool) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(strict)
	if err := dec.Decode(into); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("expected a single document")
	}
	return nil
}
