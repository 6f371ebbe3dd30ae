// Package config layers an optional INI file and the environment under the
// command line flags.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	ini "gopkg.in/ini.v1"
)

// EnvPrefix is prepended to a flag's upper-cased name to form its
// environment variable.
const EnvPrefix = "HTTP2SOCKS_"

// EnvName returns the environment variable that sets flag name.
func EnvName(name string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// Apply sets every flag in fs that was not given on the command line from
// the environment (via lookup) or, failing that, from the default section
// of the INI file at path. An empty path skips the file. Keys in the file
// may use '-' or '_'; keys that name no flag are an error.
func Apply(fs *pflag.FlagSet, path string, lookup func(string) (string, bool)) error {
	fileValues, err := load(path)
	if err != nil {
		return err
	}

	for key := range fileValues {
		if fs.Lookup(key) == nil {
			return fmt.Errorf("config %s: unknown key %q", path, key)
		}
	}

	var firstErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if firstErr != nil || f.Changed {
			return
		}

		if lookup != nil {
			if v, ok := lookup(EnvName(f.Name)); ok {
				if err := fs.Set(f.Name, v); err != nil {
					firstErr = fmt.Errorf("invalid %s: %w", EnvName(f.Name), err)
				}
				return
			}
		}

		if v, ok := fileValues[f.Name]; ok {
			if err := fs.Set(f.Name, v); err != nil {
				firstErr = fmt.Errorf("config %s: invalid %s: %w", path, f.Name, err)
			}
		}
	})
	return firstErr
}

// load returns the default-section keys of the INI file at path, with '_'
// normalized to '-'.
func load(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	values := make(map[string]string)
	for _, k := range f.Section("").Keys() {
		values[strings.ReplaceAll(strings.ToLower(k.Name()), "_", "-")] = k.String()
	}
	return values, nil
}
