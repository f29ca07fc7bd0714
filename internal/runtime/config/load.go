package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/drblury/busworker/internal/runtime/jsoncodec"
)

// DefaultSettingsFile is read from the working directory when no --settings
// argument is given.
const DefaultSettingsFile = "appsettings.json"

// SettingsArg selects an alternative settings file on the command line.
const SettingsArg = "settings"

// EnvPrefix is stripped from environment variable names before they are
// matched, so BUSWORKER_BrokerConfig__Host and BrokerConfig__Host both work.
const EnvPrefix = "BUSWORKER_"

// Load resolves the standard chain: command line, environment (with and
// without EnvPrefix), the settings file, then defaults. A missing default
// settings file is not reported; an explicitly requested one is.
func Load(args []string) (Config, []Fallback) {
	environ := os.Environ()
	path, explicit := settingsPath(args)

	file, err := FileSource(path)
	var diagnostics []Fallback
	if err != nil && (explicit || !errors.Is(err, fs.ErrNotExist)) {
		diagnostics = append(diagnostics, Fallback{Source: path, Reason: err.Error()})
	}

	conf, fallbacks := Resolve(
		ArgsSource(args),
		EnvSource(EnvPrefix, environ),
		EnvSource("", environ),
		file,
	)
	return conf, append(diagnostics, fallbacks...)
}

func settingsPath(args []string) (string, bool) {
	for i, arg := range args {
		trimmed := strings.TrimLeft(arg, "-/")
		if trimmed == arg {
			continue
		}
		key, value, ok := strings.Cut(trimmed, "=")
		if !strings.EqualFold(key, SettingsArg) {
			continue
		}
		if ok && value != "" {
			return value, true
		}
		if !ok && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return DefaultSettingsFile, false
}

// FileSource reads a JSON or YAML settings file (chosen by extension, JSON
// otherwise) and flattens nested objects into "Section:Key" entries. On error
// it still returns a usable, empty source.
func FileSource(path string) (Source, error) {
	empty := &MapSource{name: path, values: map[string]string{}}

	data, err := os.ReadFile(path)
	if err != nil {
		return empty, err
	}

	var tree map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &tree)
	default:
		err = jsoncodec.Unmarshal(data, &tree)
	}
	if err != nil {
		return empty, fmt.Errorf("parse settings file: %w", err)
	}

	values := make(map[string]string)
	flatten("", tree, values)
	return &MapSource{name: path, values: values}, nil
}

func flatten(prefix string, tree map[string]any, out map[string]string) {
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := strings.ToLower(k)
		if prefix != "" {
			name = prefix + ":" + name
		}
		switch v := tree[k].(type) {
		case map[string]any:
			flatten(name, v, out)
		case nil:
		case string:
			out[name] = v
		case bool:
			out[name] = strconv.FormatBool(v)
		case float64:
			out[name] = strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			out[name] = strconv.Itoa(v)
		default:
			out[name] = fmt.Sprint(v)
		}
	}
}
