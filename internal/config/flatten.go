package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"
)

var secretKeys = map[string]bool{
	"llm.api_key":     true,
	"telegram.token":  true,
	"http.token":      true,
	"http.jwt_secret": true,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Keys returns every dot-separated key declared by Config, sorted. It is
// derived from the json tags, so keys dropped by omitempty are included.
func Keys() []string {
	var keys []string
	collectKeys("", reflect.TypeFor[Config](), &keys)
	sort.Strings(keys)
	return keys
}

func collectKeys(prefix string, t reflect.Type, keys *[]string) {
	for i := range t.NumField() {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		key := joinKey(prefix, name)
		if f.Type.Kind() == reflect.Struct {
			collectKeys(key, f.Type, keys)
			continue
		}
		*keys = append(*keys, key)
	}
}

// IsKnownKey reports whether key names a Config field.
func IsKnownKey(key string) bool {
	return slices.Contains(Keys(), key)
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// Flatten turns {"llm": {"model": "x"}} into {"llm.model": "x"}. Empty
// nested maps produce no keys.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := joinKey(prefix, k)
			if child, ok := v.(map[string]any); ok {
				walk(key, child)
				continue
			}
			out[key] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A scalar standing where a nested key
// needs a map is replaced by one.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		setPath(out, strings.Split(key, "."), v)
	}
	return out
}

func setPath(m map[string]any, path []string, v any) {
	for _, part := range path[:len(path)-1] {
		child, ok := m[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[part] = child
		}
		m = child
	}
	m[path[len(path)-1]] = v
}

// MaskSecrets returns a copy of flat with non-empty secrets shown as
// "***" plus their last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && s != "" && secretKeys[k] {
			v = mask(s)
		}
		out[k] = v
	}
	return out
}

func mask(s string) string {
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}
