package env

import (
	"os"
	"strings"
)

// Get returns the trimmed value of key, or fallback when it is unset or blank.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Exists reports whether a file exists at path. cmd entrypoints use it to
// decide whether a local .env should be loaded.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
