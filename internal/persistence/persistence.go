// Package persistence declares the contract the pipeline needs from the
// record store. The relational layer behind it lives in another service;
// the pipeline only relies on hash uniqueness and a get-or-create that is
// safe under concurrent imports of identical content.
package persistence

import (
	"context"

	"github.com/your-org/medflow/internal/media"
)

// Store is the persistence collaborator contract.
type Store interface {
	// CreateOrGetByHash inserts the record unless one with the same
	// content hash exists, in which case the existing record is returned
	// and created is false. This is the dedup fallback when two imports
	// race past the in-process check.
	CreateOrGetByHash(ctx context.Context, record *media.Record) (existing *media.Record, created bool, err error)

	// GetByHash returns the record with the given content hash, or
	// media.ErrResourceNotFound. Backs the pre-quarantine dedup lookup.
	GetByHash(ctx context.Context, hash string) (*media.Record, error)

	// Save persists updated record fields.
	Save(ctx context.Context, record *media.Record) error

	// GetByID returns the record or media.ErrResourceNotFound.
	GetByID(ctx context.Context, mediaType media.Type, id string) (*media.Record, error)

	// AppendSegment records one downstream label segment for a record.
	AppendSegment(ctx context.Context, recordID, label string, startFrame, endFrame int) error
}
