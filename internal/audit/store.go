// Package audit keeps the redaction events of each request for compliance export. Events carry
// category, position and timestamp only; the original text is never stored.
package audit

import (
	"context"

	"github.com/miradorstack/mirador-phiguard/internal/models"
)

// Store persists redaction events keyed by correlation id.
type Store interface {
	Append(ctx context.Context, correlationID string, events []models.RedactionEvent) error
	List(ctx context.Context, correlationID string) ([]models.RedactionEvent, error)
	Close() error
}
