// Package config loads amber-eyes configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"os"
	"strings"
)

// EnvOr returns the first non-empty environment variable among keys,
// or def when none is set.
func EnvOr(def string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return def
}
