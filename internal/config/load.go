package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// includeKey is the reserved top-level key a document uses to pull in one or
// more other YAML files before its own keys are applied. Paths are resolved
// relative to the including file's directory.
const includeKey = "$include"

// Load reads path, resolves any $include composition, expands ${VAR} /
// $VAR environment references, decodes the result strictly (unknown fields
// are rejected), applies environment variable overrides, fills in defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	merged, err := loadMerged(path, map[string]bool{})
	if err != nil {
		return nil, err
	}

	doc, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("remarshal merged config: %w", err)
	}
	expanded := os.ExpandEnv(string(doc))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if _, err := dec.Decode(new(any)); err != io.EOF {
		return nil, fmt.Errorf("config %s: multiple YAML documents not supported", path)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadMerged parses path into a generic document and recursively merges in
// everything named by its $include list, with the including file's own
// keys taking precedence over anything it includes. seen guards against
// include cycles.
func loadMerged(path string, seen map[string]bool) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", path, err)
	}
	if seen[abs] {
		return nil, fmt.Errorf("config include cycle at %s", path)
	}
	seen[abs] = true

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	includes, err := includePaths(doc[includeKey])
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	delete(doc, includeKey)

	merged := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		included, err := loadMerged(inc, seen)
		if err != nil {
			return nil, err
		}
		mergeInto(merged, included)
	}
	mergeInto(merged, doc)
	return merged, nil
}

func includePaths(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []any:
		paths := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			paths = append(paths, s)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("$include must be a string or list of strings")
	}
}

// mergeInto deep-merges src into dst, with src's values winning on conflict.
// Nested maps merge recursively; every other value (including slices) is
// simply overwritten, so the document merged last wins on a plain
// "last write wins" basis.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			if dstMap, ok := dst[k].(map[string]any); ok {
				mergeInto(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
}
