package pending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agendapro/agenda-api/internal/domain"

	"github.com/google/uuid"
)

// DefaultTTL is how long an unanswered record is kept.
const DefaultTTL = 48 * time.Hour

// Registry issues and resolves pending records of one kind.
type Registry[T any] struct {
	kind  domain.PendingKind
	store Store[T]
	ttl   time.Duration
	now   func() time.Time
	newID func() string
}

// Option customizes a Registry.
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator replaces the uuid generator.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) { o.newID = gen }
}

func NewRegistry[T any](kind domain.PendingKind, store Store[T], ttl time.Duration, opts ...Option) *Registry[T] {
	o := options{
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry[T]{kind: kind, store: store, ttl: ttl, now: o.now, newID: o.newID}
}

func (r *Registry[T]) Kind() domain.PendingKind { return r.kind }

// Create stores a fresh pending record for payload.
func (r *Registry[T]) Create(ctx context.Context, payload T) (Record[T], error) {
	now := r.now()
	rec := Record[T]{
		ID:        r.newID(),
		Status:    domain.StatusPending,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}
	if err := r.store.Insert(ctx, rec); err != nil {
		return Record[T]{}, fmt.Errorf("create %s pending: %w", r.kind, err)
	}
	return rec, nil
}

// Get returns the record, treating expired records as unknown.
func (r *Registry[T]) Get(ctx context.Context, id string) (Record[T], error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return Record[T]{}, err
	}
	if rec.Expired(r.now()) {
		return Record[T]{}, ErrNotFound
	}
	return rec, nil
}

// Resolve performs the single terminal transition allowed for a record.
// A concurrent loser gets ErrAlreadyResolved, or ErrNotFound once the
// winner has discarded the record.
func (r *Registry[T]) Resolve(ctx context.Context, id string, decision domain.Decision) (Record[T], error) {
	if _, err := r.Get(ctx, id); err != nil {
		return Record[T]{}, err
	}
	at := r.now()
	rec, err := r.store.CompareAndSetStatus(ctx, id, domain.StatusPending, decision.Status(), &at)
	if err != nil {
		return Record[T]{}, err
	}
	return rec, nil
}

// Reopen undoes Resolve when the decision could not be applied.
func (r *Registry[T]) Reopen(ctx context.Context, id string, from domain.PendingStatus) error {
	_, err := r.store.CompareAndSetStatus(ctx, id, from, domain.StatusPending, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Discard removes the record. Unknown ids are not an error.
func (r *Registry[T]) Discard(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

// Find returns the live records matching pred, oldest first.
func (r *Registry[T]) Find(ctx context.Context, pred func(Record[T]) bool) ([]Record[T], error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	var out []Record[T]
	for _, rec := range all {
		if rec.Expired(now) {
			continue
		}
		if pred == nil || pred(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// List returns every live record, oldest first.
func (r *Registry[T]) List(ctx context.Context) ([]Record[T], error) {
	return r.Find(ctx, nil)
}

// Sweep deletes and returns every expired record.
func (r *Registry[T]) Sweep(ctx context.Context) ([]Record[T], error) {
	return r.store.DeleteExpired(ctx, r.now())
}
