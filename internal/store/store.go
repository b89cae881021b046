// Package store persists broker connection records. Live adapter instances
// are owned by the broker manager; this package only stores the durable
// record needed to rebuild them across restarts.
package store

import (
	"context"

	"brokerhub/internal/domain"
)

// ConnectionStore persists and retrieves broker connection records.
type ConnectionStore interface {
	// SaveConnection inserts a new connection or replaces an existing one
	// with the same ID.
	SaveConnection(ctx context.Context, conn *domain.BrokerConnection) error

	// GetConnection retrieves a single connection by its ID.
	GetConnection(ctx context.Context, id string) (*domain.BrokerConnection, error)

	// ListConnections returns all connections for a user, newest first.
	// An empty userID returns every connection.
	ListConnections(ctx context.Context, userID string) ([]domain.BrokerConnection, error)

	// UpdateCredentials replaces the stored credential snapshot for a
	// connection, typically after a token refresh or OAuth callback.
	UpdateCredentials(ctx context.Context, id string, creds domain.Credentials) error

	// SetActive flips the active flag for a connection.
	SetActive(ctx context.Context, id string, active bool) error

	// DeleteConnection removes a connection record.
	DeleteConnection(ctx context.Context, id string) error

	// Close releases the underlying storage resources.
	Close() error
}
