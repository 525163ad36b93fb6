package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	errs "github.com/c360/networker/errors"
)

// Limits on untrusted config input
const (
	maxConfigSize = 1 << 20
	maxDepth      = 32
	maxEnvVarLen  = 4096
	maxPathLen    = 4096
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errs.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// readConfigFile reads a JSON or YAML layer. Relative paths must resolve
// inside the working directory and the file must be a small regular file.
func readConfigFile(path string) ([]byte, error) {
	if path == "" || len(path) > maxPathLen {
		return nil, invalid("config path length %d", len(path))
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return nil, invalid("%s is not a JSON or YAML file", path)
	}
	if !filepath.IsAbs(path) {
		if rel := filepath.Clean(path); rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, invalid("path traversal not allowed: %s", path)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, invalid("%s is not a regular file", path)
	}
	if info.Size() > maxConfigSize {
		return nil, invalid("%s is %d bytes, limit %d", path, info.Size(), maxConfigSize)
	}
	return os.ReadFile(path)
}

// checkEnvVar rejects oversized values and embedded NULs
func checkEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return invalid("%s is %d bytes, limit %d", key, len(value), maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return invalid("%s contains a NUL byte", key)
	}
	return nil
}

// checkDepth bounds the nesting of a decoded document
func checkDepth(v any, depth int) error {
	if depth > maxDepth {
		return invalid("nesting deeper than %d", maxDepth)
	}
	var children []any
	switch node := v.(type) {
	case map[string]any:
		for _, c := range node {
			children = append(children, c)
		}
	case []any:
		children = node
	}
	for _, c := range children {
		if err := checkDepth(c, depth+1); err != nil {
			return err
		}
	}
	return nil
}
