package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"agendapro/agenda-api/internal/domain"
)

// DefaultSuccessDelay is how long a resolved modal shows its success state.
const DefaultSuccessDelay = 1500 * time.Millisecond

const (
	MsgUnavailable = "Esta solicitud ya fue resuelta o no existe."
	msgLoadFailed  = "No se pudo cargar la solicitud."
	msgAccepted    = "¡Listo! Decisión registrada."
)

var (
	ErrModalBusy     = errors.New("modal is resolving a decision")
	ErrModalNotReady = errors.New("modal has nothing to decide")
)

type ModalKind string

const (
	PlanReview           ModalKind = "plan-review"
	ClassSignatureReview ModalKind = "class-signature-review"
)

type ModalState string

const (
	ModalClosed      ModalState = "closed"
	ModalLoading     ModalState = "loading"
	ModalReady       ModalState = "ready"
	ModalResolving   ModalState = "resolving"
	ModalSucceeded   ModalState = "succeeded"
	ModalUnavailable ModalState = "unavailable"
)

// ModalSnapshot is a copy of what the modal shows.
type ModalSnapshot struct {
	Kind      ModalKind
	State     ModalState
	PendingID string
	Status    string
	Approval  *PlanApproval
	Signature *SignatureDetail
	Outcome   *Outcome
}

type modalOps struct {
	load   func(ctx context.Context, id string, snap *ModalSnapshot) error
	decide func(ctx context.Context, snap ModalSnapshot, d domain.Decision) (*Outcome, error)
}

// Modal walks closed → loading → ready → resolving → succeeded → closed.
// Dismiss is refused while a decision is in flight.
type Modal struct {
	ops          modalOps
	successDelay time.Duration
	onChange     func(ModalSnapshot)

	mu   sync.Mutex
	snap ModalSnapshot
	gen  int
}

func newModal(kind ModalKind, ops modalOps, successDelay time.Duration, onChange func(ModalSnapshot)) *Modal {
	return &Modal{
		ops:          ops,
		successDelay: successDelay,
		onChange:     onChange,
		snap:         ModalSnapshot{Kind: kind, State: ModalClosed},
	}
}

// NewPlanModal reviews plan approvals through api.
func NewPlanModal(api Backend, successDelay time.Duration, onChange func(ModalSnapshot)) *Modal {
	return newModal(PlanReview, modalOps{
		load: func(ctx context.Context, id string, snap *ModalSnapshot) error {
			rec, err := api.GetPlanApproval(ctx, id)
			if err != nil {
				return err
			}
			snap.Approval = rec
			return nil
		},
		decide: func(ctx context.Context, snap ModalSnapshot, d domain.Decision) (*Outcome, error) {
			return api.ResolvePlan(ctx, snap.PendingID, d)
		},
	}, successDelay, onChange)
}

// NewSignatureModal reviews class signature requests through api.
func NewSignatureModal(api Backend, successDelay time.Duration, onChange func(ModalSnapshot)) *Modal {
	return newModal(ClassSignatureReview, modalOps{
		load: func(ctx context.Context, id string, snap *ModalSnapshot) error {
			detail, err := api.GetClassSignature(ctx, id)
			if err != nil {
				return err
			}
			snap.Signature = detail
			return nil
		},
		decide: func(ctx context.Context, snap ModalSnapshot, d domain.Decision) (*Outcome, error) {
			req := snap.Signature.Pending.Payload
			return api.ResolveClassSignature(ctx, req.PlanID, req.ClassOrdinal, snap.PendingID, d)
		},
	}, successDelay, onChange)
}

func (m *Modal) Snapshot() ModalSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Open loads pendingID. A 404 leaves the modal in the terminal unavailable state.
func (m *Modal) Open(ctx context.Context, pendingID string) error {
	m.mu.Lock()
	if m.snap.State == ModalResolving {
		m.mu.Unlock()
		return ErrModalBusy
	}
	m.gen++
	gen := m.gen
	kind := m.snap.Kind
	m.snap = ModalSnapshot{Kind: kind, State: ModalLoading, PendingID: pendingID}
	snap := m.snap
	m.mu.Unlock()
	m.notify(snap)

	loaded := ModalSnapshot{Kind: kind, PendingID: pendingID}
	err := m.ops.load(ctx, pendingID, &loaded)

	m.mu.Lock()
	if gen != m.gen {
		// reopened or dismissed meanwhile
		m.mu.Unlock()
		return nil
	}
	switch {
	case err == nil:
		loaded.State = ModalReady
		m.snap = loaded
	case IsNotFound(err):
		m.snap.State = ModalUnavailable
		m.snap.Status = MsgUnavailable
		err = nil
	default:
		m.snap.State = ModalUnavailable
		m.snap.Status = msgLoadFailed
	}
	snap = m.snap
	m.mu.Unlock()
	m.notify(snap)
	return err
}

// Decide submits d. On failure the modal goes back to ready with the error
// as inline status; on success it closes itself after the success delay.
func (m *Modal) Decide(ctx context.Context, d domain.Decision) (*Outcome, error) {
	m.mu.Lock()
	if m.snap.State != ModalReady {
		m.mu.Unlock()
		return nil, ErrModalNotReady
	}
	m.snap.State = ModalResolving
	m.snap.Status = ""
	snap := m.snap
	gen := m.gen
	m.mu.Unlock()
	m.notify(snap)

	out, err := m.ops.decide(ctx, snap, d)

	m.mu.Lock()
	if err != nil {
		m.snap.State = ModalReady
		m.snap.Status = decisionFailure(err)
		snap = m.snap
		m.mu.Unlock()
		m.notify(snap)
		return nil, err
	}
	m.snap.State = ModalSucceeded
	m.snap.Outcome = out
	m.snap.Status = msgAccepted
	snap = m.snap
	m.mu.Unlock()
	m.notify(snap)
	time.AfterFunc(m.successDelay, func() { m.closeIf(gen, ModalSucceeded) })
	return out, nil
}

// Dismiss closes the modal unless a decision is in flight.
func (m *Modal) Dismiss() bool {
	m.mu.Lock()
	if m.snap.State == ModalResolving {
		m.mu.Unlock()
		return false
	}
	snap := m.closeLocked()
	m.mu.Unlock()
	m.notify(snap)
	return true
}

// CloseIfShowing closes the modal when it shows pendingID and is not resolving.
func (m *Modal) CloseIfShowing(pendingID string) bool {
	m.mu.Lock()
	if m.snap.PendingID != pendingID || m.snap.State == ModalResolving || m.snap.State == ModalClosed {
		m.mu.Unlock()
		return false
	}
	snap := m.closeLocked()
	m.mu.Unlock()
	m.notify(snap)
	return true
}

func (m *Modal) closeIf(gen int, state ModalState) {
	m.mu.Lock()
	if m.gen != gen || m.snap.State != state {
		m.mu.Unlock()
		return
	}
	snap := m.closeLocked()
	m.mu.Unlock()
	m.notify(snap)
}

func (m *Modal) closeLocked() ModalSnapshot {
	m.gen++
	m.snap = ModalSnapshot{Kind: m.snap.Kind, State: ModalClosed}
	return m.snap
}

// notify must be called without m.mu held so listeners can read the modal back.
func (m *Modal) notify(snap ModalSnapshot) {
	if m.onChange != nil {
		m.onChange(snap)
	}
}

func decisionFailure(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case 404:
			return MsgUnavailable
		case 409:
			return "La solicitud cambió: " + apiErr.Message
		}
		return apiErr.Message
	}
	return "No se pudo enviar la decisión. Intenta de nuevo."
}
