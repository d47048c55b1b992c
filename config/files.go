package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxFileSize  = 1 << 20 // a config document is a few KB
	maxDepth     = 16
	maxEnvLength = 4096
)

// formatOf returns "json" or "yaml" by file extension, or "" if unsupported
func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return ""
	}
}

// readLayer reads a configuration file. Only regular JSON or YAML files up
// to maxFileSize are accepted.
func readLayer(path string) ([]byte, error) {
	if formatOf(path) == "" {
		return nil, fmt.Errorf("%s: only .json, .yaml and .yml files are supported", path)
	}

	info, err := os.Stat(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", path)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("%s: %d bytes exceeds the %d byte limit", path, info.Size(), maxFileSize)
	}
	return os.ReadFile(filepath.Clean(path))
}

// writeLayer writes a configuration file readable by the owner only
func writeLayer(path string, data []byte) error {
	if formatOf(path) == "" {
		return fmt.Errorf("%s: only .json, .yaml and .yml files are supported", path)
	}
	return os.WriteFile(filepath.Clean(path), data, 0o600)
}

// checkDepth rejects JSON nested deeper than any configuration needs
func checkDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > maxDepth {
				return fmt.Errorf("nesting deeper than %d levels", maxDepth)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}

// checkEnvValue rejects override values no setting can hold
func checkEnvValue(key, value string) error {
	if len(value) > maxEnvLength {
		return fmt.Errorf("%s: value longer than %d bytes", key, maxEnvLength)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%s: value contains a NUL byte", key)
	}
	return nil
}
