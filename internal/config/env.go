package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
)

// Placeholders substituted by mlt itself at command time. They survive
// environment expansion of mlt.yaml untouched.
var placeholders = map[string]bool{
	"IMAGE":        true,
	"NAME":         true,
	"PROJECT_DIR":  true,
	"REMOTE_IMAGE": true,
	"NAMESPACE":    true,
	"RUN_ID":       true,
	"POD":          true,
	"APP":          true,
}

// loadDotEnv reads path with godotenv. Keys already present in the process
// environment are dropped so the real environment always wins.
func loadDotEnv(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, ferrors.ConfigError("failed to load .env file").
			WithCause(err).
			WithContext(ferrors.KeyPath, path).
			Build()
	}
	for k := range vars {
		if _, ok := os.LookupEnv(k); ok {
			delete(vars, k)
		}
	}
	return vars, nil
}

// expandEnv expands ${VAR} and $VAR from the process environment and env.
// Placeholders and unknown variables are kept verbatim.
func expandEnv(s string, env map[string]string) string {
	return os.Expand(s, func(key string) string {
		if placeholders[key] {
			return "${" + key + "}"
		}
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		if v, ok := env[key]; ok {
			return v
		}
		return "${" + key + "}"
	})
}
