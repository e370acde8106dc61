// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package wire

import (
	"encoding/json"
	"fmt"
	"math"
)

// Typed accessors over decoded JSON values. They accept the shapes produced
// by a decoder with UseNumber as well as plain float64 values.

// Int reads an integer parameter. Missing keys yield def.
func Int(params map[string]any, key string, def int64) (int64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	n, err := AsInt(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: %w", key, err)
	}
	return n, nil
}

// Bool reads a boolean parameter. Missing keys yield def.
func Bool(params map[string]any, key string, def bool) (bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %q: expected bool, got %T", key, v)
	}
	return b, nil
}

// String reads a string parameter.
func String(params map[string]any, key string) (string, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", true, fmt.Errorf("parameter %q: expected string, got %T", key, v)
	}
	return s, true, nil
}

// Object reads a nested object parameter.
func Object(params map[string]any, key string) (map[string]any, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, false, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, true, fmt.Errorf("parameter %q: expected object, got %T", key, v)
	}
	return m, true, nil
}

// Array reads an array parameter.
func Array(params map[string]any, key string) ([]any, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, false, nil
	}
	a, ok := v.([]any)
	if !ok {
		return nil, true, fmt.Errorf("parameter %q: expected array, got %T", key, v)
	}
	return a, true, nil
}

// AsInt converts a decoded JSON number to int64. Non-integral values are
// rejected.
func AsInt(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", n.String())
		}
		return floatToInt(f)
	case float64:
		return floatToInt(n)
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

// AsFloat converts a decoded JSON number to float64.
func AsFloat(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", n.String())
		}
		return f, nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func floatToInt(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("expected integer, got %v", f)
	}
	return int64(f), nil
}
