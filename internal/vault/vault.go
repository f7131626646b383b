// Package vault stores archived deletion records as opaque keyed objects.
package vault

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by Get when no object is stored under the key.
var ErrNotFound = errors.New("object not found")

// cleanKey validates an object key. Keys are slash-separated, relative and
// may not escape the vault root.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	c := path.Clean(key)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return c, nil
}
