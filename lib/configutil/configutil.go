package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// LocalName returns the override file that sits next to name,
// "itemharvest.json5" becomes "itemharvest.local.json5".
func LocalName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

func readFile(path string) ([]byte, bool, error) {
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return contents, len(contents) > 0, nil
}

// ReadConfig reads a json5 configuration file on top of defaults and then
// merges <name>.local.<ext> over the result. Keys missing from both files
// keep their default value. When neither file exists the error is
// os.ErrNotExist and defaults are returned unchanged.
func ReadConfig[T any](name string, defaults T) (T, error) {
	out := defaults
	found := false

	base, ok, err := readFile(name)
	if err != nil {
		return defaults, err
	}
	if ok {
		err = json5.Unmarshal(base, &out)
		if err != nil {
			return defaults, fmt.Errorf("parse %s: %w", name, err)
		}
		found = true
	}

	localPath := LocalName(name)
	local, ok, err := readFile(localPath)
	if err != nil {
		return defaults, err
	}
	if ok {
		var override T
		err = json5.Unmarshal(local, &override)
		if err != nil {
			return defaults, fmt.Errorf("parse %s: %w", localPath, err)
		}
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return defaults, err
		}
		slog.Info("merging config with local overrides", "local", localPath)
		found = true
	}

	if !found {
		return defaults, os.ErrNotExist
	}
	return out, nil
}

// ReadRecursively looks for name in the working directory and each of its
// parents, reading the first one found with ReadConfig.
func ReadRecursively[T any](name string, defaults T) (T, string, error) {
	current, err := os.Getwd()
	if err != nil {
		return defaults, "", err
	}

	for {
		path := filepath.Join(current, name)
		config, err := ReadConfig(path, defaults)
		if err == nil {
			return config, path, nil
		}
		if !os.IsNotExist(err) {
			return defaults, path, err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return defaults, "", os.ErrNotExist
		}
		current = parent
	}
}
