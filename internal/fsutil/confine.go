// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsutil keeps file writes inside a configured root directory.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscapesRoot is returned when a path would resolve outside its root.
var ErrEscapesRoot = errors.New("path escapes root")

// Confine joins rel onto root and returns the resulting path after checking
// that it stays under root once symlinks are resolved. rel must be relative
// and may name a file that does not exist yet.
func Confine(root, rel string) (string, error) {
	if strings.ContainsAny(rel, "\\\x00") {
		return "", fmt.Errorf("%w: invalid character in %q", ErrEscapesRoot, rel)
	}
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: %q is absolute", ErrEscapesRoot, rel)
	}
	if outside(clean) {
		return "", fmt.Errorf("%w: %q", ErrEscapesRoot, rel)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}

	full := filepath.Join(realRoot, clean)
	real, err := resolve(full)
	if err != nil {
		return "", err
	}
	r, err := filepath.Rel(realRoot, real)
	if err != nil {
		return "", fmt.Errorf("relate %q to root: %w", real, err)
	}
	if outside(r) {
		return "", fmt.Errorf("%w: %q resolves to %q", ErrEscapesRoot, rel, real)
	}
	return full, nil
}

// resolve follows symlinks in path. Missing trailing components are kept
// as given, resolving the deepest ancestor that exists.
func resolve(path string) (string, error) {
	if _, err := os.Lstat(path); err == nil {
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", path, err)
		}
		return real, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat %q: %w", path, err)
	}

	parent := filepath.Dir(path)
	if parent == path {
		return path, nil
	}
	real, err := resolve(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(real, filepath.Base(path)), nil
}

func outside(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
