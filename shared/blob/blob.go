// Package blob stores uploaded document bytes on local disk or in Aliyun OSS.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when an object does not exist
	ErrNotFound = errors.New("object not found")

	// ErrInvalidKey is returned for empty or escaping object keys
	ErrInvalidKey = errors.New("invalid object key")
)

// Store reads and writes whole objects.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// DocumentKey builds the object key of an uploaded document.
func DocumentKey(applicationID, documentID, filename string) string {
	name := strings.TrimSpace(filename)
	if name == "" {
		name = "upload"
	}
	// keep only the base name so uploads cannot escape their prefix
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	return path.Join("applications", applicationID, "documents", documentID+"_"+name)
}

func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return cleaned, nil
}
