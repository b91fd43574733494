package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/notify"
	"agendapro/agenda-api/internal/pending"
	"agendapro/agenda-api/internal/repository"

	"github.com/sirupsen/logrus"
)

// Dispatcher sends confirmation requests. *notify.Dispatcher implements it.
type Dispatcher interface {
	DispatchPlanApproval(ctx context.Context, rec pending.Record[domain.PlanDraft]) error
	DispatchClassSignature(ctx context.Context, rec pending.Record[domain.SignatureRequest], plan *domain.Plan) error
}

// ClassSignatureDetail is what the guardian sees before signing.
type ClassSignatureDetail struct {
	Pending pending.Record[domain.SignatureRequest] `json:"pending"`
	Plan    *domain.Plan                            `json:"plan"`
	Class   domain.ClassSession                     `json:"class"`
}

type PlanService interface {
	// Plan approvals
	SubmitPlanApproval(ctx context.Context, draft domain.PlanDraft) (pending.Record[domain.PlanDraft], error)
	GetPlanApproval(ctx context.Context, pendingID string) (pending.Record[domain.PlanDraft], error)

	// Plans
	GetPlan(ctx context.Context, planID string) (*domain.Plan, error)
	ListPlans(ctx context.Context) ([]domain.Plan, error)
	SearchPlan(ctx context.Context, term string) (*domain.Plan, error)
	ToggleClass(ctx context.Context, planID string, ordinal int) (*domain.Plan, error)
	DeletePlan(ctx context.Context, planID string) error

	// Class signatures
	RequestClassSignature(ctx context.Context, planID string, ordinal int) (pending.Record[domain.SignatureRequest], *domain.Plan, error)
	GetClassSignature(ctx context.Context, pendingID string) (*ClassSignatureDetail, error)

	// Sweeper jobs
	ExpireApprovals(ctx context.Context) (int, error)
	ExpireSignatures(ctx context.Context) (int, error)
}

type planService struct {
	plans      repository.PlanRepository
	contacts   repository.ContactRepository
	approvals  *pending.Registry[domain.PlanDraft]
	signatures *pending.Registry[domain.SignatureRequest]
	dispatcher Dispatcher
	locks      *KeyedLocks
}

func NewPlanService(
	plans repository.PlanRepository,
	contacts repository.ContactRepository,
	approvals *pending.Registry[domain.PlanDraft],
	signatures *pending.Registry[domain.SignatureRequest],
	dispatcher Dispatcher,
	locks *KeyedLocks,
) PlanService {
	return &planService{
		plans:      plans,
		contacts:   contacts,
		approvals:  approvals,
		signatures: signatures,
		dispatcher: dispatcher,
		locks:      locks,
	}
}

// === Plan approvals ===

// SubmitPlanApproval parks the draft as a pending record and asks the guardian.
// Nothing reaches the plan store until the guardian accepts.
func (s *planService) SubmitPlanApproval(ctx context.Context, draft domain.PlanDraft) (pending.Record[domain.PlanDraft], error) {
	// 1. Validate and normalize
	if err := draft.Validate(); err != nil {
		return pending.Record[domain.PlanDraft]{}, err
	}
	digits := domain.DigitsOnly(draft.GuardianPhone)
	draft.Classes = domain.FreshClasses(draft.PlanType)

	unlock := s.locks.Lock(phoneKey(digits))
	defer unlock()

	// 2. The guardian must be reachable
	if _, err := s.contacts.GetByPhone(ctx, digits); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return pending.Record[domain.PlanDraft]{}, ErrContactNotRegistered
		}
		return pending.Record[domain.PlanDraft]{}, err
	}

	// 3. One open approval per guardian
	open, err := s.approvals.Find(ctx, func(rec pending.Record[domain.PlanDraft]) bool {
		return rec.Status == domain.StatusPending && domain.DigitsOnly(rec.Payload.GuardianPhone) == digits
	})
	if err != nil {
		return pending.Record[domain.PlanDraft]{}, err
	}
	if len(open) > 0 {
		return pending.Record[domain.PlanDraft]{}, ErrApprovalAlreadyPending
	}

	// 4. Park the draft and notify; the dispatcher discards the record on failure
	rec, err := s.approvals.Create(ctx, draft)
	if err != nil {
		return pending.Record[domain.PlanDraft]{}, err
	}
	if err := s.dispatcher.DispatchPlanApproval(ctx, rec); err != nil {
		return pending.Record[domain.PlanDraft]{}, dispatchError("dispatch plan approval", err)
	}

	logger.Log.WithFields(logrus.Fields{"pendingId": rec.ID, "student": draft.StudentName}).Info("Plan approval requested")
	return rec, nil
}

func (s *planService) GetPlanApproval(ctx context.Context, pendingID string) (pending.Record[domain.PlanDraft], error) {
	rec, err := s.approvals.Get(ctx, pendingID)
	if err != nil {
		return pending.Record[domain.PlanDraft]{}, mapPendingError(err)
	}
	return rec, nil
}

// === Plans ===

func (s *planService) GetPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, mapPlanError(err)
	}
	return plan, nil
}

func (s *planService) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	return s.plans.List(ctx)
}

func (s *planService) SearchPlan(ctx context.Context, term string) (*domain.Plan, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, domain.NewValidationError("term", "is required")
	}
	plan, err := s.plans.Search(ctx, term)
	if err != nil {
		return nil, mapPlanError(err)
	}
	return plan, nil
}

// ToggleClass flips the completed flag by hand. Un-completing a signed class
// drops its signature, and completing a rejected one clears the rejection.
func (s *planService) ToggleClass(ctx context.Context, planID string, ordinal int) (*domain.Plan, error) {
	unlock := s.locks.Lock(planKey(planID))
	defer unlock()

	plan, class, err := s.loadClass(ctx, planID, ordinal)
	if err != nil {
		return nil, err
	}
	if class.SignatureState == domain.SignaturePending {
		return nil, ErrSignaturePending
	}

	class.Completed = !class.Completed
	switch {
	case !class.Completed && class.SignatureState == domain.SignatureSigned:
		class.SignatureState = domain.SignatureNone
	case class.Completed && class.SignatureState == domain.SignatureRejected:
		class.SignatureState = domain.SignatureNone
	}
	if err := s.plans.ReplaceClasses(ctx, planID, plan.Classes); err != nil {
		return nil, mapPlanError(err)
	}
	return plan, nil
}

// DeletePlan removes the plan and every open signature request on it.
func (s *planService) DeletePlan(ctx context.Context, planID string) error {
	unlock := s.locks.Lock(planKey(planID))
	defer unlock()

	if err := s.plans.Delete(ctx, planID); err != nil {
		return mapPlanError(err)
	}

	open, err := s.signatures.Find(ctx, func(rec pending.Record[domain.SignatureRequest]) bool {
		return rec.Payload.PlanID == planID
	})
	if err != nil {
		logger.Log.Errorf("List signatures of deleted plan %s: %v", planID, err)
		return nil
	}
	for _, rec := range open {
		if err := s.signatures.Discard(ctx, rec.ID); err != nil {
			logger.Log.Errorf("Discard signature %s of deleted plan %s: %v", rec.ID, planID, err)
		}
	}
	logger.Log.WithFields(logrus.Fields{"planId": planID, "discarded": len(open)}).Info("Plan deleted")
	return nil
}

// === Class signatures ===

// RequestClassSignature marks the class pending, then notifies the guardian.
// A failed dispatch puts the class back to none.
func (s *planService) RequestClassSignature(ctx context.Context, planID string, ordinal int) (pending.Record[domain.SignatureRequest], *domain.Plan, error) {
	var zero pending.Record[domain.SignatureRequest]

	unlock := s.locks.Lock(planKey(planID))
	defer unlock()

	// 1. Load and guard
	plan, class, err := s.loadClass(ctx, planID, ordinal)
	if err != nil {
		return zero, nil, err
	}
	switch class.SignatureState {
	case domain.SignaturePending:
		return zero, nil, ErrSignaturePending
	case domain.SignatureSigned:
		return zero, nil, ErrAlreadySigned
	}
	if _, err := s.contacts.GetByPhone(ctx, plan.PhoneDigits); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return zero, nil, ErrContactNotRegistered
		}
		return zero, nil, err
	}

	// 2. Create the record and point the class at it
	rec, err := s.signatures.Create(ctx, domain.SignatureRequest{
		PlanID:       planID,
		ClassOrdinal: ordinal,
		ContactPhone: plan.PhoneDigits,
	})
	if err != nil {
		return zero, nil, err
	}
	class.SignatureState = domain.SignaturePending
	class.SignaturePendingID = rec.ID
	if err := s.plans.ReplaceClasses(ctx, planID, plan.Classes); err != nil {
		_ = s.signatures.Discard(ctx, rec.ID)
		return zero, nil, mapPlanError(err)
	}

	// 3. Notify, rolling the class back on failure
	if err := s.dispatcher.DispatchClassSignature(ctx, rec, plan); err != nil {
		class.SignatureState = domain.SignatureNone
		class.SignaturePendingID = ""
		if rerr := s.plans.ReplaceClasses(ctx, planID, plan.Classes); rerr != nil {
			logger.Log.Errorf("Roll back class %d of plan %s: %v", ordinal, planID, rerr)
		}
		_ = s.signatures.Discard(ctx, rec.ID)
		return zero, nil, dispatchError("dispatch class signature", err)
	}

	logger.Log.WithFields(logrus.Fields{"planId": planID, "class": ordinal, "pendingId": rec.ID}).Info("Class signature requested")
	return rec, plan, nil
}

func (s *planService) GetClassSignature(ctx context.Context, pendingID string) (*ClassSignatureDetail, error) {
	rec, err := s.signatures.Get(ctx, pendingID)
	if err != nil {
		return nil, mapPendingError(err)
	}
	plan, class, err := s.loadClass(ctx, rec.Payload.PlanID, rec.Payload.ClassOrdinal)
	if err != nil {
		return nil, err
	}
	return &ClassSignatureDetail{Pending: rec, Plan: plan, Class: *class}, nil
}

// === Expiry ===

func (s *planService) ExpireApprovals(ctx context.Context) (int, error) {
	expired, err := s.approvals.Sweep(ctx)
	return len(expired), err
}

// ExpireSignatures drops expired signature requests and puts their classes
// back to none when they still point at the expired request.
func (s *planService) ExpireSignatures(ctx context.Context) (int, error) {
	expired, err := s.signatures.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	for _, rec := range expired {
		if err := s.releaseClass(ctx, rec); err != nil {
			logger.Log.Warnf("Release class for expired signature %s: %v", rec.ID, err)
		}
	}
	return len(expired), nil
}

func (s *planService) releaseClass(ctx context.Context, rec pending.Record[domain.SignatureRequest]) error {
	unlock := s.locks.Lock(planKey(rec.Payload.PlanID))
	defer unlock()

	plan, class, err := s.loadClass(ctx, rec.Payload.PlanID, rec.Payload.ClassOrdinal)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) || errors.Is(err, ErrClassNotFound) {
			return nil
		}
		return err
	}
	if class.SignaturePendingID != rec.ID {
		return nil
	}
	class.SignatureState = domain.SignatureNone
	class.SignaturePendingID = ""
	return s.plans.ReplaceClasses(ctx, plan.ID, plan.Classes)
}

// === Helpers ===

func (s *planService) loadClass(ctx context.Context, planID string, ordinal int) (*domain.Plan, *domain.ClassSession, error) {
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, nil, mapPlanError(err)
	}
	class, ok := plan.Class(ordinal)
	if !ok {
		return nil, nil, fmt.Errorf("class %d: %w", ordinal, ErrClassNotFound)
	}
	return plan, class, nil
}

func mapPlanError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPlanNotFound
	}
	return err
}

var _ Dispatcher = (*notify.Dispatcher)(nil)
