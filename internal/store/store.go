// Package store persists files, their embedded sections and usage counters.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// File is one ingested source, unique per project and path.
type File struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Path      string         `json:"path"`
	Meta      map[string]any `json:"meta,omitempty"`
	Sections  int            `json:"sections"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SectionRecord is an embedded chunk ready to be written.
type SectionRecord struct {
	FileID     string
	Ordinal    int
	Content    string
	Embedding  []float32
	TokenCount int
}

// Store is the relational side of persistence.
type Store interface {
	// FindFileByPath returns ErrNotFound when the project has no such path.
	FindFileByPath(ctx context.Context, projectID, path string) (*File, error)
	CreateFile(ctx context.Context, projectID, path string, meta map[string]any) (*File, error)
	UpdateFileMeta(ctx context.Context, fileID string, meta map[string]any) error
	DeleteSections(ctx context.Context, fileID string) error
	// InsertSections writes all records or none of them.
	InsertSections(ctx context.Context, records []SectionRecord) error
	InsertSection(ctx context.Context, record SectionRecord) error
	ListFiles(ctx context.Context, projectID string) ([]File, error)
}
