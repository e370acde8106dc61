// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"reflect"
	"sort"
	"strings"
)

// ChangeSummary describes the result of comparing two AppConfigs.
type ChangeSummary struct {
	ChangedFields   []string // Field paths, named after their YAML keys
	RestartRequired bool     // True if any changed field cannot be applied at runtime
}

// hotReloadable lists the field paths, or path prefixes ending in ".", that a
// running daemon applies without a restart.
var hotReloadable = []string{
	"logLevel",
	"timeouts.",
}

// Diff compares two configurations field by field.
func Diff(old, next AppConfig) ChangeSummary {
	var s ChangeSummary
	s.compareStruct("", reflect.ValueOf(old), reflect.ValueOf(next))
	sort.Strings(s.ChangedFields)
	return s
}

func (s *ChangeSummary) compareStruct(prefix string, oldVal, nextVal reflect.Value) {
	t := oldVal.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if !f.IsExported() || name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}

		ov, nv := oldVal.Field(i), nextVal.Field(i)
		if ov.Kind() == reflect.Struct {
			s.compareStruct(path, ov, nv)
			continue
		}
		if !reflect.DeepEqual(ov.Interface(), nv.Interface()) {
			s.ChangedFields = append(s.ChangedFields, path)
			if !HotReloadable(path) {
				s.RestartRequired = true
			}
		}
	}
}

// HotReloadable reports whether a changed field path applies without restart.
func HotReloadable(path string) bool {
	for _, p := range hotReloadable {
		if path == p || (strings.HasSuffix(p, ".") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}
