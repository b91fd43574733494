package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/pending"
	"agendapro/agenda-api/internal/repository"

	"github.com/sirupsen/logrus"
)

// Outcome is the result of applying one decision.
type Outcome struct {
	Kind       domain.PendingKind   `json:"kind"`
	PendingID  string               `json:"pendingId"`
	Decision   domain.Decision      `json:"decision"`
	Status     domain.PendingStatus `json:"status"`
	ResolvedAt time.Time            `json:"resolvedAt"`
	Plan       *domain.Plan         `json:"plan,omitempty"`
}

// Resolver applies guardian decisions exactly once, whatever the call site.
type Resolver interface {
	Resolve(ctx context.Context, kind domain.PendingKind, pendingID string, decision domain.Decision, source domain.DecisionSource) (*Outcome, error)
	// ResolveClassSignature checks the record against expected when it is set.
	ResolveClassSignature(ctx context.Context, pendingID string, decision domain.Decision, expected *domain.ClassRef, source domain.DecisionSource) (*Outcome, error)
	// ResolveAny finds which kind holds pendingID.
	ResolveAny(ctx context.Context, pendingID string, decision domain.Decision, source domain.DecisionSource) (*Outcome, error)
	// ResolveLatestForPhone answers the newest open request addressed to phone.
	ResolveLatestForPhone(ctx context.Context, phone string, decision domain.Decision, source domain.DecisionSource) (*Outcome, error)
}

type resolver struct {
	plans      repository.PlanRepository
	approvals  *pending.Registry[domain.PlanDraft]
	signatures *pending.Registry[domain.SignatureRequest]
	archive    DecisionArchive
	locks      *KeyedLocks
}

func NewResolver(
	plans repository.PlanRepository,
	approvals *pending.Registry[domain.PlanDraft],
	signatures *pending.Registry[domain.SignatureRequest],
	archive DecisionArchive,
	locks *KeyedLocks,
) Resolver {
	if archive == nil {
		archive = disabledArchive{}
	}
	return &resolver{
		plans:      plans,
		approvals:  approvals,
		signatures: signatures,
		archive:    archive,
		locks:      locks,
	}
}

func (r *resolver) Resolve(ctx context.Context, kind domain.PendingKind, pendingID string, decision domain.Decision, source domain.DecisionSource) (*Outcome, error) {
	switch kind {
	case domain.KindPlanApproval:
		return r.resolvePlanApproval(ctx, pendingID, decision, source)
	case domain.KindClassSignature:
		return r.ResolveClassSignature(ctx, pendingID, decision, nil, source)
	}
	return nil, domain.NewValidationError("kind", fmt.Sprintf("unknown pending kind %q", kind))
}

func (r *resolver) ResolveAny(ctx context.Context, pendingID string, decision domain.Decision, source domain.DecisionSource) (*Outcome, error) {
	if _, err := r.approvals.Get(ctx, pendingID); err == nil {
		return r.resolvePlanApproval(ctx, pendingID, decision, source)
	} else if !errors.Is(err, pending.ErrNotFound) {
		return nil, err
	}
	if _, err := r.signatures.Get(ctx, pendingID); err == nil {
		return r.ResolveClassSignature(ctx, pendingID, decision, nil, source)
	} else if !errors.Is(err, pending.ErrNotFound) {
		return nil, err
	}
	return nil, ErrPendingNotFound
}

func (r *resolver) ResolveLatestForPhone(ctx context.Context, phone string, decision domain.Decision, source domain.DecisionSource) (*Outcome, error) {
	digits := domain.DigitsOnly(phone)
	if digits == "" {
		return nil, ErrPendingNotFound
	}

	approvals, err := r.approvals.Find(ctx, func(rec pending.Record[domain.PlanDraft]) bool {
		return rec.Status == domain.StatusPending && samePhone(domain.DigitsOnly(rec.Payload.GuardianPhone), digits)
	})
	if err != nil {
		return nil, err
	}
	signatures, err := r.signatures.Find(ctx, func(rec pending.Record[domain.SignatureRequest]) bool {
		return rec.Status == domain.StatusPending && samePhone(rec.Payload.ContactPhone, digits)
	})
	if err != nil {
		return nil, err
	}

	// Find returns oldest first, so the newest is last
	var latestApproval, latestSignature *time.Time
	if n := len(approvals); n > 0 {
		latestApproval = &approvals[n-1].CreatedAt
	}
	if n := len(signatures); n > 0 {
		latestSignature = &signatures[n-1].CreatedAt
	}
	switch {
	case latestApproval == nil && latestSignature == nil:
		return nil, ErrPendingNotFound
	case latestSignature == nil || (latestApproval != nil && latestApproval.After(*latestSignature)):
		return r.resolvePlanApproval(ctx, approvals[len(approvals)-1].ID, decision, source)
	default:
		return r.ResolveClassSignature(ctx, signatures[len(signatures)-1].ID, decision, nil, source)
	}
}

func (r *resolver) resolvePlanApproval(ctx context.Context, pendingID string, decision domain.Decision, source domain.DecisionSource) (*Outcome, error) {
	log := logger.Log.WithFields(logrus.Fields{
		"kind":      domain.KindPlanApproval,
		"pendingId": pendingID,
		"decision":  decision,
		"source":    source,
	})

	// 1. Claim the record; only one caller gets past this point
	rec, err := r.approvals.Resolve(ctx, pendingID, decision)
	if err != nil {
		return nil, mapPendingError(err)
	}

	// 2. Apply the effect
	out := &Outcome{
		Kind:       domain.KindPlanApproval,
		PendingID:  pendingID,
		Decision:   decision,
		Status:     rec.Status,
		ResolvedAt: resolvedAt(rec.ResolvedAt),
	}
	if decision == domain.DecisionAccept {
		plan := domain.NewPlanFromDraft(rec.Payload)
		if err := r.plans.Create(ctx, plan); err != nil {
			r.reopen(log, func() error { return r.approvals.Reopen(ctx, pendingID, rec.Status) })
			return nil, fmt.Errorf("create plan from approval: %w", err)
		}
		out.Plan = plan
	}

	// 3. Remove the record and archive the trace
	if err := r.approvals.Discard(ctx, pendingID); err != nil {
		log.Errorf("Discard resolved plan approval: %v", err)
	}
	receipt := domain.DecisionReceipt{
		PendingID:  pendingID,
		Kind:       domain.KindPlanApproval,
		Decision:   decision,
		Status:     rec.Status,
		Source:     source,
		ResolvedAt: out.ResolvedAt,
	}
	if out.Plan != nil {
		receipt.PlanID = out.Plan.ID
	}
	r.storeReceipt(ctx, log, receipt)

	log.Info("Plan approval resolved")
	return out, nil
}

func (r *resolver) ResolveClassSignature(ctx context.Context, pendingID string, decision domain.Decision, expected *domain.ClassRef, source domain.DecisionSource) (*Outcome, error) {
	log := logger.Log.WithFields(logrus.Fields{
		"kind":      domain.KindClassSignature,
		"pendingId": pendingID,
		"decision":  decision,
		"source":    source,
	})

	// 1. Locate the record and check it targets the expected class
	rec, err := r.signatures.Get(ctx, pendingID)
	if err != nil {
		if errors.Is(err, pending.ErrNotFound) && expected != nil {
			return nil, r.unknownSignatureError(ctx, pendingID, *expected)
		}
		return nil, mapPendingError(err)
	}
	ref := domain.ClassRef{PlanID: rec.Payload.PlanID, Ordinal: rec.Payload.ClassOrdinal}
	if expected != nil && *expected != ref {
		return nil, ErrStaleDecision
	}

	unlock := r.locks.Lock(planKey(ref.PlanID))
	defer unlock()

	// 2. The class must still point at this request
	plan, err := r.plans.GetByID(ctx, ref.PlanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = r.signatures.Discard(ctx, pendingID)
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	class, ok := plan.Class(ref.Ordinal)
	if !ok {
		_ = r.signatures.Discard(ctx, pendingID)
		return nil, ErrClassNotFound
	}
	if class.SignaturePendingID != "" && class.SignaturePendingID != pendingID {
		return nil, ErrStaleDecision
	}

	// 3. Claim the record
	resolved, err := r.signatures.Resolve(ctx, pendingID, decision)
	if err != nil {
		return nil, mapPendingError(err)
	}

	// 4. Apply the decision to the class
	if decision == domain.DecisionAccept {
		class.Completed = true
		class.SignatureState = domain.SignatureSigned
	} else {
		class.Completed = false
		class.SignatureState = domain.SignatureRejected
		class.RetryCount++
	}
	class.SignaturePendingID = ""

	if err := r.plans.ReplaceClasses(ctx, plan.ID, plan.Classes); err != nil {
		r.reopen(log, func() error { return r.signatures.Reopen(ctx, pendingID, resolved.Status) })
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("update class %d: %w", ref.Ordinal, err)
	}

	// 5. Remove the record and archive the trace
	if err := r.signatures.Discard(ctx, pendingID); err != nil {
		log.Errorf("Discard resolved class signature: %v", err)
	}
	at := resolvedAt(resolved.ResolvedAt)
	r.storeReceipt(ctx, log, domain.DecisionReceipt{
		PendingID:    pendingID,
		Kind:         domain.KindClassSignature,
		Decision:     decision,
		Status:       resolved.Status,
		PlanID:       plan.ID,
		ClassOrdinal: ref.Ordinal,
		Source:       source,
		ResolvedAt:   at,
	})

	log.WithField("planId", plan.ID).Infof("Class %d signature resolved", ref.Ordinal)
	return &Outcome{
		Kind:       domain.KindClassSignature,
		PendingID:  pendingID,
		Decision:   decision,
		Status:     resolved.Status,
		ResolvedAt: at,
		Plan:       plan,
	}, nil
}

// unknownSignatureError tells a decision for a superseded request apart from
// one for an id nobody knows.
func (r *resolver) unknownSignatureError(ctx context.Context, pendingID string, ref domain.ClassRef) error {
	plan, err := r.plans.GetByID(ctx, ref.PlanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPlanNotFound
		}
		return err
	}
	class, ok := plan.Class(ref.Ordinal)
	if !ok {
		return ErrClassNotFound
	}
	if class.SignaturePendingID != "" && class.SignaturePendingID != pendingID {
		return ErrStaleDecision
	}
	return ErrPendingNotFound
}

func (r *resolver) reopen(log *logrus.Entry, reopen func() error) {
	if err := reopen(); err != nil {
		log.Errorf("Reopen after failed apply: %v", err)
	}
}

func (r *resolver) storeReceipt(ctx context.Context, log *logrus.Entry, receipt domain.DecisionReceipt) {
	if err := r.archive.Store(ctx, receipt); err != nil {
		log.Warnf("Archive decision receipt: %v", err)
	}
}

// samePhone matches digit strings that differ only by a country code prefix.
func samePhone(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) < domain.MinPhoneDigits || len(b) < domain.MinPhoneDigits {
		return false
	}
	return strings.HasSuffix(a, b) || strings.HasSuffix(b, a)
}

func mapPendingError(err error) error {
	switch {
	case errors.Is(err, pending.ErrNotFound):
		return ErrPendingNotFound
	case errors.Is(err, pending.ErrAlreadyResolved):
		return ErrAlreadyResolved
	}
	return err
}

func resolvedAt(t *time.Time) time.Time {
	if t == nil {
		return time.Now().UTC()
	}
	return *t
}
