package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Path is one settable leaf of the config and its current value.
type Path struct {
	Key   string
	Value any
}

// GetByPath returns the value at a dotted path such as "relay.cooldownSeconds"
// or "providers.openai.defaultModel".
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("unknown config key: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid list index %q in %s", key, path)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("%s is not a section", strings.TrimSuffix(path, "."+key))
		}
	}
	return current, nil
}

// SetByPath parses raw as the type of the field at path and stores it. Paths
// are checked against the Config struct, so fields left out of the file can
// be set but unknown keys are refused. Map sections such as "providers"
// accept new entries.
func SetByPath(cfg *Config, path, raw string) error {
	parts := strings.Split(path, ".")
	typ, err := fieldType(parts)
	if err != nil {
		return err
	}
	val, err := coerce(typ, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	m, err := toMap(cfg)
	if err != nil {
		return err
	}
	parent := m
	for _, key := range parts[:len(parts)-1] {
		next, ok := parent[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			parent[key] = next
		}
		parent = next
	}
	parent[parts[len(parts)-1]] = val

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// fieldType resolves a dotted path to the Go type of its leaf.
func fieldType(parts []string) (reflect.Type, error) {
	path := strings.Join(parts, ".")
	t := reflect.TypeOf(Config{})
	for i, key := range parts {
		switch t.Kind() {
		case reflect.Struct:
			f, ok := fieldByJSONName(t, key)
			if !ok {
				return nil, fmt.Errorf("unknown config key: %s", path)
			}
			t = f.Type
		case reflect.Map:
			t = t.Elem()
		default:
			return nil, fmt.Errorf("%s is not a section", strings.Join(parts[:i], "."))
		}
	}
	if k := t.Kind(); k == reflect.Struct || k == reflect.Map {
		return nil, fmt.Errorf("%s is a section, name one of its keys", path)
	}
	return t, nil
}

func fieldByJSONName(t reflect.Type, name string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == name {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

func coerce(t reflect.Type, raw string) (any, error) {
	switch t.Kind() {
	case reflect.String:
		return raw, nil
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", raw)
		}
		return b, nil
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", raw)
		}
		return n, nil
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", raw)
		}
		return f, nil
	case reflect.Slice:
		items := []string{}
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	}
	return nil, fmt.Errorf("unsupported field type %s", t)
}

// Sanitize returns a copy of cfg with credentials masked, for printing.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return cfg
	}

	for name, prov := range out.Providers {
		prov.APIKey = maskString(prov.APIKey)
		out.Providers[name] = prov
	}
	out.Twilio.AccountSID = maskString(out.Twilio.AccountSID)
	out.Twilio.AuthToken = maskString(out.Twilio.AuthToken)
	if out.Internal.Token != "" {
		out.Internal.Token = "***"
	}
	return &out
}

// maskString keeps the first and last 4 characters of long secrets.
func maskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	default:
		return s[:4] + "****" + s[len(s)-4:]
	}
}

// ListPaths returns every leaf of cfg sorted by key.
func ListPaths(cfg *Config) ([]Path, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	var paths []Path
	flatten("", m, &paths)
	sort.Slice(paths, func(i, j int) bool { return paths[i].Key < paths[j].Key })
	return paths, nil
}

func flatten(prefix string, m map[string]any, out *[]Path) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok && len(sub) > 0 {
			flatten(key, sub, out)
			continue
		}
		*out = append(*out, Path{Key: key, Value: v})
	}
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
