// Package docstore persists paragraph content, keyed by document and
// paragraph. It sits outside the broadcast and lock paths: callers are
// expected to hold the paragraph lock before saving.
//
// Three backends are provided:
//
//   - MemoryStore for tests and single-process development
//   - MongoStore, one document per paragraph in a collection
//   - S3Store, one JSON object per paragraph under a key prefix
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a paragraph has never been saved.
var ErrNotFound = errors.New("docstore: paragraph not found")

// ErrInvalidID is returned for empty document or paragraph IDs.
var ErrInvalidID = errors.New("docstore: invalid id")

// Paragraph is the stored content of one paragraph.
type Paragraph struct {
	DocumentID  string    `json:"documentId" bson:"docId"`
	ParagraphID string    `json:"paragraphId" bson:"paraId"`
	Content     string    `json:"content" bson:"content"`
	UpdatedBy   string    `json:"updatedBy,omitempty" bson:"updatedBy,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Store reads and replaces paragraph content.
type Store interface {
	// GetParagraph returns the paragraph or ErrNotFound.
	GetParagraph(ctx context.Context, docID, paraID string) (*Paragraph, error)

	// SaveParagraph replaces the paragraph's content, creating it if needed.
	SaveParagraph(ctx context.Context, p *Paragraph) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}

func validateIDs(docID, paraID string) error {
	if docID == "" || paraID == "" {
		return fmt.Errorf("%w: document and paragraph IDs are required", ErrInvalidID)
	}
	return nil
}

// stamp fills UpdatedAt when the caller left it unset.
func stamp(p *Paragraph) {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
}
