// Package repository defines the metadata record persistence port.
package repository

import (
	"context"

	"github.com/Pragya1904/HTTP-Inventory/internal/domain"
)

// MetadataRepository is the document-store port. All operations are idempotent:
// redeliveries are expected under at-least-once delivery.
type MetadataRepository interface {
	// EnsurePending upserts the record with only-on-insert fields
	// (url, PENDING, created_at). Safe to call on every (re)delivery.
	EnsurePending(ctx context.Context, url, requestID string) error

	// MarkInProgress conditionally moves a non-terminal record to IN_PROGRESS,
	// increments attempt_number, and stamps last_request_id. When the record is
	// already terminal it reports terminal=true without modifying anything, so
	// stale redeliveries can be short-circuited.
	MarkInProgress(ctx context.Context, url, requestID string) (attempt int, terminal bool, err error)

	// MarkCompleted writes the terminal COMPLETED state with the captured
	// metadata and clears the error message.
	MarkCompleted(ctx context.Context, url, requestID string, attempt int, meta domain.Metadata) error

	MarkRetryableFailure(ctx context.Context, url, requestID string, attempt int, errMsg string) error
	MarkPermanentFailure(ctx context.Context, url, requestID string, attempt int, errMsg string) error

	// Get returns the record for a normalized URL, or nil when absent.
	Get(ctx context.Context, url string) (*domain.Record, error)

	// Ping checks store liveness for readiness probes.
	Ping(ctx context.Context) error
}
