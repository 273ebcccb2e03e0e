package config

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ModuleFile returns the backend module's file path relative to the search path.
func (r RuntimeConfig) ModuleFile() string {
	name := r.Module
	if path.Ext(name) != ".js" {
		name += ".js"
	}
	return name
}

// ResolveSearchPath returns the absolute directory the backend module is loaded from.
//
// The dev path is used only when DevMode is set; there is no silent fallback
// between the two. The directory must exist and contain the module file.
func (r RuntimeConfig) ResolveSearchPath() (string, error) {
	candidate, field := r.SearchPath, "runtime.search_path"
	if r.DevMode {
		candidate, field = r.DevSearchPath, "runtime.dev_search_path"
	}
	if strings.TrimSpace(candidate) == "" {
		return "", fmt.Errorf("%s is not set", field)
	}

	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("%s: resolve %q: %w", field, candidate, err)
	}
	if !dirExists(abs) {
		return "", fmt.Errorf("%s: directory %s does not exist", field, abs)
	}
	modulePath := filepath.Join(abs, filepath.FromSlash(r.ModuleFile()))
	if !fileExists(modulePath) {
		return "", fmt.Errorf("%s: backend module %q not found at %s", field, r.Module, modulePath)
	}
	return abs, nil
}
