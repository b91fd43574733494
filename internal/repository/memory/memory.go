// Package memory keeps plans and contacts in process memory. It backs the
// "memory" database driver and the service tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/repository"

	"github.com/google/uuid"
)

type planRepository struct {
	mu    sync.RWMutex
	plans map[string]domain.Plan
	order []string // insertion order, oldest first
	now   func() time.Time
}

// NewPlanRepository creates an empty in-memory plan store.
func NewPlanRepository() repository.PlanRepository {
	return &planRepository{
		plans: make(map[string]domain.Plan),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func clonePlan(p domain.Plan) domain.Plan {
	p.Weekdays = append([]string(nil), p.Weekdays...)
	p.Classes = append([]domain.ClassSession(nil), p.Classes...)
	return p
}

func (r *planRepository) Create(_ context.Context, plan *domain.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	plan.ID = uuid.NewString()
	plan.CreatedAt = now
	plan.UpdatedAt = now
	plan.PhoneDigits = domain.DigitsOnly(plan.GuardianPhone)
	r.plans[plan.ID] = clonePlan(*plan)
	r.order = append(r.order, plan.ID)
	return nil
}

func (r *planRepository) GetByID(_ context.Context, id string) (*domain.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := clonePlan(p)
	return &out, nil
}

func (r *planRepository) Search(_ context.Context, term string) (*domain.Plan, error) {
	needle := strings.ToLower(strings.TrimSpace(term))
	digits := domain.DigitsOnly(term)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		p := r.plans[r.order[i]]
		match := needle != "" && strings.Contains(strings.ToLower(p.StudentName), needle)
		if !match && digits != "" {
			match = strings.Contains(p.PhoneDigits, digits)
		}
		if match {
			found := clonePlan(p)
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *planRepository) List(_ context.Context) ([]domain.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Plan, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, clonePlan(r.plans[id]))
	}
	return out, nil
}

func (r *planRepository) ReplaceClasses(_ context.Context, id string, classes []domain.ClassSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Classes = append([]domain.ClassSession(nil), classes...)
	p.UpdatedAt = r.now()
	r.plans[id] = p
	return nil
}

func (r *planRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plans[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.plans, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

type contactRepository struct {
	mu       sync.RWMutex
	contacts map[string]domain.Contact
}

// NewContactRepository creates an empty in-memory contact registry.
func NewContactRepository() repository.ContactRepository {
	return &contactRepository{contacts: make(map[string]domain.Contact)}
}

func (r *contactRepository) Upsert(_ context.Context, c *domain.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.contacts[c.Phone]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.contacts[c.Phone] = *c
	return nil
}

func (r *contactRepository) GetByPhone(_ context.Context, phone string) (*domain.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[phone]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *contactRepository) GetByTelegramChat(_ context.Context, chatID int64) (*domain.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.contacts {
		if c.Channel == domain.ChannelTelegram && c.TelegramChat == chatID {
			found := c
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *contactRepository) Delete(_ context.Context, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contacts[phone]; !ok {
		return repository.ErrNotFound
	}
	delete(r.contacts, phone)
	return nil
}
