package runtime

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
)

// Bind decodes model-authored JSON into one value per parameter. An empty
// body counts as {}. With no parameters the body is ignored; a single
// composite parameter receives the whole body; otherwise the body must be an
// object whose properties bind by name. A lone scalar parameter also accepts
// a bare scalar body.
func Bind(params []Parameter, raw []byte) ([]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if len(params) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, &BindingError{Reason: "arguments are not valid JSON"}
	}

	if len(params) == 1 && isComposite(params[0].Type) {
		p := params[0]
		v, err := decodeInto(p.Type, raw)
		if err != nil {
			return nil, &BindingError{Param: p.Name, Reason: "cannot decode arguments into " + typeLabel(p.Type), Err: err}
		}
		return []any{v}, nil
	}

	var obj map[string]json.RawMessage
	if raw[0] != '{' {
		if len(params) == 1 && raw[0] != '[' {
			v, err := bindParam(params[0], raw, true)
			if err != nil {
				return nil, err
			}
			return []any{v}, nil
		}
		return nil, &BindingError{Param: params[0].Name, Reason: "expected a JSON object with properties " + paramNames(params)}
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &BindingError{Reason: "arguments are not a JSON object", Err: err}
	}

	args := make([]any, len(params))
	for i, p := range params {
		value, present := obj[p.Name]
		v, err := bindParam(p, value, present)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func bindParam(p Parameter, raw json.RawMessage, present bool) (any, error) {
	if !present || isNull(raw) {
		switch {
		case p.HasDefault:
			return p.Default, nil
		case isNullable(p.Type):
			return reflect.Zero(p.Type).Interface(), nil
		default:
			return nil, &BindingError{Param: p.Name, Reason: "required"}
		}
	}
	v, err := decodeInto(p.Type, raw)
	if err != nil {
		return nil, &BindingError{Param: p.Name, Reason: "expected " + typeLabel(p.Type), Err: err}
	}
	return v, nil
}

func decodeInto(t reflect.Type, raw []byte) (any, error) {
	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func typeLabel(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "an integer"
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Bool:
		return "a boolean"
	case reflect.String:
		return "a string"
	case reflect.Slice, reflect.Array:
		return "an array"
	default:
		return "an object"
	}
}

func paramNames(params []Parameter) string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}
