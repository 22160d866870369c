package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound covers unknown ids, expired URL-cache entries and
	// images the caller may not read. Private images are reported as
	// absent so their existence does not leak.
	ErrNotFound = errors.New("image not found")

	// ErrAlreadyExists is returned by the metadata store when a
	// concurrent creator won the race for the same id. Callers should
	// treat it as success and re-read.
	ErrAlreadyExists = errors.New("entry already exists")

	// ErrInvalidImage marks source bytes that do not decode as an image.
	ErrInvalidImage = errors.New("invalid image data")

	// ErrInvalidKey marks a storage key that does not decode to a
	// structurally valid parameter set.
	ErrInvalidKey = errors.New("invalid variant key")
)

// ValidationError enumerates every rejected request field, not just the
// first one encountered.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}

	return "invalid parameters: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, reason string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = reason
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// UpstreamError reports a failed source URL fetch during ingestion.
// Status is the upstream HTTP status when one was received.
type UpstreamError struct {
	URL    string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("upstream fetch %s: status %d", e.URL, e.Status)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StorageError wraps an adapter-level failure that is not part of the
// regular control flow. It is fatal to the current request.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
