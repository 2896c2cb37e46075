package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Download records a test-case workbook saved to disk.
type Download struct {
	ID         string
	Kind       string // "thread" or "app"
	ResourceID string
	Path       string
	SizeBytes  int64
	CreatedAt  time.Time
}
