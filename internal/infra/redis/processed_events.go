package redis

import (
	"context"
	"time"

	"saas-billing/internal/domain/ports/repository"
)

var _ repository.ProcessedEventRepository = (*ProcessedEventStore)(nil)

// DefaultProcessedEventTTL outlives the provider's redelivery window.
const DefaultProcessedEventTTL = 72 * time.Hour

// ProcessedEventStore keeps applied webhook event ids with a TTL.
type ProcessedEventStore struct {
	client RedisClient
	ttl    time.Duration
}

func NewProcessedEventStore(client RedisClient, ttl time.Duration) *ProcessedEventStore {
	if ttl <= 0 {
		ttl = DefaultProcessedEventTTL
	}
	return &ProcessedEventStore{client: client, ttl: ttl}
}

func processedKey(eventID string) string { return "webhook:event:" + eventID }

func (s *ProcessedEventStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	_, err := s.client.Get(ctx, processedKey(eventID))
	if IsNil(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *ProcessedEventStore) MarkProcessed(ctx context.Context, eventID string) error {
	return s.client.Set(ctx, processedKey(eventID), time.Now().UTC().Unix(), s.ttl)
}
