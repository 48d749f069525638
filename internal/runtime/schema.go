package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	schemavalidator "github.com/santhosh-tekuri/jsonschema/v5"
)

const emptyObjectSchema = `{"properties":{},"type":"object"}`

// GenerateSchema builds the canonical JSON Schema for a parameter list and
// compiles it. Keys are sorted so the published bytes are stable.
func GenerateSchema(tool string, params []Parameter) (json.RawMessage, *schemavalidator.Schema, error) {
	for _, p := range params {
		if err := checkRepresentable(p.Type, map[reflect.Type]bool{}); err != nil {
			return nil, nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
	}

	var doc map[string]any
	switch {
	case len(params) == 0:
		return compileCanonical(tool, []byte(emptyObjectSchema))
	case len(params) == 1 && isComposite(params[0].Type):
		s, err := reflectType(params[0].Type)
		if err != nil {
			return nil, nil, fmt.Errorf("parameter %q: %w", params[0].Name, err)
		}
		doc = s
	default:
		props := make(map[string]any, len(params))
		var required []string
		for _, p := range params {
			s, err := reflectType(p.Type)
			if err != nil {
				return nil, nil, fmt.Errorf("parameter %q: %w", p.Name, err)
			}
			if p.HasDefault {
				s["default"] = p.Default
			} else if !isNullable(p.Type) {
				required = append(required, p.Name)
			}
			props[p.Name] = s
		}
		doc = map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			sort.Strings(required)
			doc["required"] = required
		}
	}

	if doc["type"] != "object" {
		return nil, nil, errors.New("top-level schema must be an object")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("encode schema: %w", err)
	}
	return compileCanonical(tool, raw)
}

// compileCanonical compiles raw and re-marshals it through a generic value so
// that key order and whitespace are canonical.
func compileCanonical(tool string, raw []byte) (json.RawMessage, *schemavalidator.Schema, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, nil, fmt.Errorf("decode schema: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, nil, fmt.Errorf("encode schema: %w", err)
	}
	compiled, err := schemavalidator.CompileString(tool+".schema.json", string(canonical))
	if err != nil {
		return nil, nil, fmt.Errorf("compile schema: %w", err)
	}
	return canonical, compiled, nil
}

func reflectType(t reflect.Type) (map[string]any, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	raw, err := json.Marshal(r.ReflectFromType(t))
	if err != nil {
		return nil, fmt.Errorf("encode reflected schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode reflected schema: %w", err)
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

// checkRepresentable rejects types that have no JSON form.
func checkRepresentable(t reflect.Type, visiting map[reflect.Type]bool) error {
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer, reflect.Invalid:
		return fmt.Errorf("type %s cannot be described by a JSON schema", t)
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return checkRepresentable(t.Elem(), visiting)
	case reflect.Map:
		switch t.Key().Kind() {
		case reflect.String, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		default:
			return fmt.Errorf("map key type %s cannot be described by a JSON schema", t.Key())
		}
		return checkRepresentable(t.Elem(), visiting)
	case reflect.Struct:
		if visiting[t] {
			return fmt.Errorf("recursive type %s", t)
		}
		visiting[t] = true
		defer delete(visiting, t)
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || strings.HasPrefix(f.Tag.Get("json"), "-") {
				continue
			}
			if err := checkRepresentable(f.Type, visiting); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
	}
	return nil
}

// isComposite reports whether values of t decode from a JSON object or array
// rather than a scalar.
func isComposite(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array, reflect.Interface:
		return true
	}
	return false
}

func isNullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	}
	return false
}

// violations flattens a schema validation error into leaf messages.
func violations(err *schemavalidator.ValidationError) []string {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{loc + ": " + err.Message}
	}
	var out []string
	for _, c := range err.Causes {
		out = append(out, violations(c)...)
	}
	return out
}
