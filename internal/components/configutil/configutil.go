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

func splitExt(f string) (string, string) {
	ext := filepath.Ext(f)
	return strings.TrimSuffix(f, ext), strings.TrimPrefix(ext, ".")
}

// LocalPath returns the path of the override file for name,
// `config.json5` becomes `config.local.json5`.
func LocalPath(name string) string {
	dirname := filepath.Dir(name)
	prefix, ext := splitExt(filepath.Base(name))
	if ext == "" {
		return filepath.Join(dirname, prefix+".local")
	}
	return filepath.Join(dirname, fmt.Sprintf("%s.local.%s", prefix, ext))
}

func readLayer[T any](path string) (T, bool, error) {
	var out T
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if len(contents) == 0 {
		return out, false, nil
	}
	err = json5.Unmarshal(contents, &out)
	if err != nil {
		return out, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, true, nil
}

// ReadConfig merges, from least to most prioritized:
// 1. defaults
// 2. <name>.<ext>
// 3. <name>.local.<ext>
//
// zero values in a file never override what is below them, so a file only needs
// to mention the fields it changes. missing files are skipped.
func ReadConfig[T any](name string, defaults T) (T, error) {
	out := defaults

	for _, path := range []string{name, LocalPath(name)} {
		layer, found, err := readLayer[T](path)
		if err != nil {
			return defaults, err
		}
		if !found {
			continue
		}
		err = mergo.Merge(&out, layer, mergo.WithOverride)
		if err != nil {
			return defaults, err
		}
		slog.Debug("merged config layer", "path", path)
	}

	return out, nil
}
