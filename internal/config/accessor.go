package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// tree is the JSON view of a Config that dot paths walk over.
type tree map[string]any

func toTree(cfg *Config) (tree, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var t tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

func (t tree) apply(cfg *Config) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// GetByPath returns the value at a dot path such as
// "ai.formats.excel.temperature". List elements are addressed by index.
func GetByPath(cfg *Config, path string) (any, error) {
	t, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	var cur any = map[string]any(t)
	for _, key := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("unknown config key: %s", path)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(v) {
				return nil, fmt.Errorf("invalid index %q in %s", key, path)
			}
			cur = v[i]
		default:
			return nil, fmt.Errorf("%s: %s is not a section", path, key)
		}
	}
	return cur, nil
}

// SetByPath replaces the value at a dot path. The path must name a field
// of Config; the string is converted to that field's type, and lists take a
// comma separated string.
func SetByPath(cfg *Config, path string, value string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	parts := strings.Split(path, ".")
	typ, err := fieldType(reflect.TypeOf(Config{}), parts)
	if err != nil {
		return fmt.Errorf("%w: %s", err, path)
	}
	v, err := coerce(typ, value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	t, err := toTree(cfg)
	if err != nil {
		return err
	}
	parent := map[string]any(t)
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			parent[key] = child
		}
		parent = child
	}
	parent[parts[len(parts)-1]] = v
	return t.apply(cfg)
}

// fieldType resolves a dot path against the json tags of typ.
func fieldType(typ reflect.Type, parts []string) (reflect.Type, error) {
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if len(parts) == 0 {
		if typ.Kind() == reflect.Struct || typ.Kind() == reflect.Map {
			return nil, fmt.Errorf("path names a section")
		}
		return typ, nil
	}
	switch typ.Kind() {
	case reflect.Struct:
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				continue
			}
			if name == parts[0] {
				return fieldType(f.Type, parts[1:])
			}
		}
	case reflect.Map:
		return fieldType(typ.Elem(), parts[1:])
	}
	return nil, fmt.Errorf("unknown config key")
}

// coerce converts s into a JSON value matching typ.
func coerce(typ reflect.Type, s string) (any, error) {
	switch typ.Kind() {
	case reflect.Bool:
		return strconv.ParseBool(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.ParseInt(s, 10, 64)
	case reflect.Float32, reflect.Float64:
		return strconv.ParseFloat(s, 64)
	case reflect.String:
		return s, nil
	case reflect.Slice:
		out := []any{}
		if strings.TrimSpace(s) == "" {
			return out, nil
		}
		for _, item := range strings.Split(s, ",") {
			v, err := coerce(typ.Elem(), strings.TrimSpace(item))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot set a %s from the command line", typ)
}

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	t, err := toTree(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := t.apply(&out); err != nil {
		return cfg
	}
	out.AI.APIKey = maskString(out.AI.APIKey)
	out.Storage.AccessKey = maskString(out.Storage.AccessKey)
	out.Storage.SecretKey = maskString(out.Storage.SecretKey)
	if out.Database.Driver == "pgx" {
		out.Database.DSN = maskDSN(out.Database.DSN)
	}
	return &out
}

// maskString keeps 4 characters on each end of long secrets.
func maskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

var kvPassword = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|\S+)`)

// maskDSN hides the password of a postgres DSN in URL or key=value form.
func maskDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "***")
			return strings.Replace(u.String(), "%2A%2A%2A", "***", 1)
		}
		return dsn
	}
	return kvPassword.ReplaceAllString(dsn, "${1}***")
}

// ListPaths flattens the config into dot path / value pairs.
func ListPaths(cfg *Config) map[string]any {
	t, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok && len(child) > 0 {
				walk(p, child)
				continue
			}
			out[p] = v
		}
	}
	walk("", t)
	return out
}
