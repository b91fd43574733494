package repository

import (
	"context"

	"agendapro/agenda-api/internal/domain"
)

// Error constants for repository layer
var (
	ErrNotFound     = RepositoryError("not found")
	ErrUpdateFailed = RepositoryError("update failed")
	ErrDuplicate    = RepositoryError("duplicate key")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// PlanRepository is the durable store for confirmed plans.
type PlanRepository interface {
	// Create assigns plan.ID, CreatedAt and UpdatedAt.
	Create(ctx context.Context, plan *domain.Plan) error
	GetByID(ctx context.Context, id string) (*domain.Plan, error)
	// Search matches the student name (case-insensitive substring) or the
	// phone digits and returns the newest matching plan.
	Search(ctx context.Context, term string) (*domain.Plan, error)
	// List returns every plan, oldest first.
	List(ctx context.Context) ([]domain.Plan, error)
	// ReplaceClasses swaps the whole class array in one write.
	ReplaceClasses(ctx context.Context, id string, classes []domain.ClassSession) error
	Delete(ctx context.Context, id string) error
}

// ContactRepository stores one notification destination per guardian phone.
type ContactRepository interface {
	Upsert(ctx context.Context, contact *domain.Contact) error
	GetByPhone(ctx context.Context, phone string) (*domain.Contact, error)
	GetByTelegramChat(ctx context.Context, chatID int64) (*domain.Contact, error)
	Delete(ctx context.Context, phone string) error
}
