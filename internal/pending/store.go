// Package pending holds confirmations that are waiting on a remote decision.
package pending

import (
	"context"
	"errors"
	"time"

	"agendapro/agenda-api/internal/domain"
)

var (
	ErrNotFound        = errors.New("pending record not found")
	ErrAlreadyResolved = errors.New("pending record already resolved")
	ErrDuplicateID     = errors.New("pending record id already exists")
)

// Record is one pending confirmation carrying a payload of type T.
type Record[T any] struct {
	ID         string               `bson:"_id" json:"pendingId"`
	Status     domain.PendingStatus `bson:"status" json:"status"`
	Payload    T                    `bson:"payload" json:"payload"`
	CreatedAt  time.Time            `bson:"createdAt" json:"createdAt"`
	ResolvedAt *time.Time           `bson:"resolvedAt,omitempty" json:"resolvedAt,omitempty"`
	ExpiresAt  time.Time            `bson:"expiresAt" json:"expiresAt"`
}

// Expired reports whether the record outlived its TTL at now.
func (r Record[T]) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Store persists pending records. Implementations must make
// CompareAndSetStatus atomic with respect to concurrent callers.
type Store[T any] interface {
	Insert(ctx context.Context, rec Record[T]) error
	Get(ctx context.Context, id string) (Record[T], error)
	// CompareAndSetStatus moves the record from one status to another.
	// It fails with ErrNotFound when the id is unknown and with
	// ErrAlreadyResolved when the current status is not from.
	CompareAndSetStatus(ctx context.Context, id string, from, to domain.PendingStatus, resolvedAt *time.Time) (Record[T], error)
	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Record[T], error)
	// DeleteExpired removes and returns every record expired at now.
	DeleteExpired(ctx context.Context, now time.Time) ([]Record[T], error)
}
