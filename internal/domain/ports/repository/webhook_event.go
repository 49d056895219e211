package repository

import "context"

// ProcessedEventRepository remembers provider event ids that were already
// applied so redeliveries can be acknowledged without re-applying them.
type ProcessedEventRepository interface {
	// IsProcessed reports whether eventID was marked by MarkProcessed.
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	// MarkProcessed records eventID. Callers mark only after the event's
	// effects are committed.
	MarkProcessed(ctx context.Context, eventID string) error
}
