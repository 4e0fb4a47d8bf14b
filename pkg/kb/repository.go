// Package kb is the error knowledge base: engine errors and the resolutions
// that fixed them, retrieved by embedding similarity during repair.
package kb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/datapilot-ai/datapilot-engine/pkg/database"
)

// Entry is one recorded error with its resolution.
type Entry struct {
	ID           uuid.UUID
	ErrorMessage string
	Resolution   string
	Embedding    []float32
	CreatedAt    time.Time
}

// Store persists knowledge base entries.
type Store interface {
	Insert(ctx context.Context, entry *Entry) error
	All(ctx context.Context) ([]Entry, error)
}

// Repository is the PostgreSQL-backed Store.
type Repository struct {
	db *database.DB
}

// NewRepository creates a knowledge base repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Insert stores a new entry.
func (r *Repository) Insert(ctx context.Context, entry *Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO error_knowledge (id, error_message, resolution, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.ErrorMessage, entry.Resolution, entry.Embedding, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert knowledge entry: %w", err)
	}

	return nil
}

// All returns every entry with its embedding. The table stays small (one row
// per distinct resolved error), so similarity search loads it whole.
func (r *Repository) All(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, error_message, resolution, embedding, created_at FROM error_knowledge`)
	if err != nil {
		return nil, fmt.Errorf("load knowledge entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ErrorMessage, &e.Resolution, &e.Embedding, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge entries: %w", err)
	}

	return entries, nil
}

// Ensure Repository implements Store at compile time.
var _ Store = (*Repository)(nil)
