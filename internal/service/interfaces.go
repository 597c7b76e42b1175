package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"threadfeed/internal/domain"
)

// Source fetches thread snapshots from the upstream API.
type Source interface {
	ID() string
	FetchThread(ctx context.Context, board, thread string) (*domain.Snapshot, error)
}

// Sink accepts rendered payloads for a destination and answers the
// destination's ambient rendering preferences. Delivery errors are
// non-fatal to the engine.
type Sink interface {
	Deliver(ctx context.Context, destinationID string, payload domain.Payload) error
	EmbedDefault(ctx context.Context, destinationID string) (bool, error)
	AccentColor(destinationID string) int
}

// FeedStore persists feed records keyed by (destination, feed name). Get
// and Delete return storage.ErrNotFound for absent records; Create returns
// storage.ErrAlreadyExists on a name conflict.
type FeedStore interface {
	Create(ctx context.Context, destinationID, name string, rec *domain.FeedRecord) error
	Get(ctx context.Context, destinationID, name string) (*domain.FeedRecord, error)
	Update(ctx context.Context, destinationID, name string, rec *domain.FeedRecord) error
	Delete(ctx context.Context, destinationID, name string) error
	ListAll(ctx context.Context) (map[string]map[string]domain.FeedRecord, error)
	ListByDestination(ctx context.Context, destinationID string) ([]domain.NamedRecord, error)
}
