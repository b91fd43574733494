package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/relay"
)

// Backend is the API surface the controller drives. *APIClient implements it.
type Backend interface {
	PlanFetcher
	GetPlanApproval(ctx context.Context, pendingID string) (*PlanApproval, error)
	ResolvePlan(ctx context.Context, pendingID string, decision domain.Decision) (*Outcome, error)
	GetClassSignature(ctx context.Context, pendingID string) (*SignatureDetail, error)
	ResolveClassSignature(ctx context.Context, planID string, ordinal int, pendingID string, decision domain.Decision) (*Outcome, error)
	RequestClassSignature(ctx context.Context, planID string, ordinal int) (*SignatureRequested, error)
	DeletePlan(ctx context.Context, planID string) error
}

var _ Backend = (*APIClient)(nil)

// Confirmer asks the operator before an irreversible action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// StatusSink shows inline status text.
type StatusSink interface {
	Status(msg string)
}

type ConfirmFunc func(ctx context.Context, prompt string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool { return f(ctx, prompt) }

type StatusFunc func(msg string)

func (f StatusFunc) Status(msg string) { f(msg) }

type ControllerOption func(*controllerOptions)

type controllerOptions struct {
	successDelay time.Duration
	watchOpts    []WatcherOption
}

func WithSuccessDelay(d time.Duration) ControllerOption {
	return func(o *controllerOptions) { o.successDelay = d }
}

func WithWatcherOptions(opts ...WatcherOption) ControllerOption {
	return func(o *controllerOptions) { o.watchOpts = append(o.watchOpts, opts...) }
}

// Controller ties the modals, watchers, deep links and relay messages of
// one page together.
type Controller struct {
	api       Backend
	confirm   Confirmer
	status    StatusSink
	plan      *Modal
	signature *Modal
	watchers  *WatcherSet

	mu       sync.Mutex
	rejected map[classKey]WatchResult
}

func NewController(api Backend, confirm Confirmer, status StatusSink, opts ...ControllerOption) *Controller {
	o := controllerOptions{successDelay: DefaultSuccessDelay}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Controller{
		api:      api,
		confirm:  confirm,
		status:   status,
		rejected: make(map[classKey]WatchResult),
	}
	c.plan = NewPlanModal(api, o.successDelay, nil)
	c.signature = NewSignatureModal(api, o.successDelay, nil)
	c.watchers = NewWatcherSet(api, c.onWatchResult, o.watchOpts...)
	return c
}

func (c *Controller) PlanModal() *Modal      { return c.plan }
func (c *Controller) SignatureModal() *Modal { return c.signature }
func (c *Controller) Watchers() *WatcherSet  { return c.watchers }

// HandleURL opens the modals a deep link points at and returns the URL with
// the deep-link parameters removed. A link carrying both a plan approval and
// a class signature opens both.
func (c *Controller) HandleURL(ctx context.Context, raw string) (string, error) {
	link, cleaned, err := ConsumeDeepLink(raw)
	if err != nil {
		return raw, err
	}
	var errs []error
	if link.PendingID != "" {
		errs = append(errs, c.plan.Open(ctx, link.PendingID))
	}
	if link.SignatureID != "" {
		errs = append(errs, c.signature.Open(ctx, link.SignatureID))
	}
	return cleaned, errors.Join(errs...)
}

// HandleRelayMessage reacts to a message broadcast by the service worker.
func (c *Controller) HandleRelayMessage(ctx context.Context, msg relay.Message) error {
	data := msg.Payload.PushData
	switch msg.Type {
	case relay.TypePlanOpen:
		return c.plan.Open(ctx, data.PendingID)
	case relay.TypeSignatureOpen:
		return c.signature.Open(ctx, data.PendingID)
	case relay.TypePlanAction:
		c.plan.CloseIfShowing(data.PendingID)
		c.report(relayStatus("el plan", msg))
	case relay.TypeSignatureAction:
		c.signature.CloseIfShowing(data.PendingID)
		if !c.watchers.Poke(data.PendingID) && data.PlanID != "" {
			c.watchers.PokeClass(data.PlanID, data.ClassOrdinal)
		}
		c.report(relayStatus("la clase", msg))
	default:
		logger.Log.Debugf("Ignoring relay message %q", msg.Type)
	}
	return nil
}

// DecidePlan decides the open plan modal.
func (c *Controller) DecidePlan(ctx context.Context, d domain.Decision) (*Outcome, error) {
	return c.plan.Decide(ctx, d)
}

// DecideSignature decides the open signature modal and pokes its watcher.
func (c *Controller) DecideSignature(ctx context.Context, d domain.Decision) (*Outcome, error) {
	snap := c.signature.Snapshot()
	out, err := c.signature.Decide(ctx, d)
	if err == nil {
		c.watchers.Poke(snap.PendingID)
	}
	return out, err
}

// RequestSignature asks the guardian to sign a class and watches for the answer.
func (c *Controller) RequestSignature(ctx context.Context, planID string, ordinal int) (*SignatureRequested, error) {
	res, err := c.api.RequestClassSignature(ctx, planID, ordinal)
	if err != nil {
		c.report(requestFailure(err))
		return nil, err
	}
	c.mu.Lock()
	delete(c.rejected, classKey{planID: planID, ordinal: ordinal})
	c.mu.Unlock()
	c.watchers.Watch(planID, ordinal, res.PendingID)
	c.report(fmt.Sprintf("Solicitud de firma enviada para la clase %d.", ordinal))
	return res, nil
}

// ResendRejected re-requests a rejected signature after confirmation.
// It returns false when the operator declined.
func (c *Controller) ResendRejected(ctx context.Context, planID string, ordinal int) (bool, error) {
	prompt := fmt.Sprintf("El acudiente rechazó la clase %d. ¿Enviar la solicitud de firma de nuevo?", ordinal)
	if !c.confirm.Confirm(ctx, prompt) {
		return false, nil
	}
	_, err := c.RequestSignature(ctx, planID, ordinal)
	return err == nil, err
}

// DeletePlan deletes a plan after confirmation.
func (c *Controller) DeletePlan(ctx context.Context, plan *domain.Plan) (bool, error) {
	prompt := fmt.Sprintf("¿Eliminar el plan de %s? Esta acción no se puede deshacer.", plan.StudentName)
	if !c.confirm.Confirm(ctx, prompt) {
		return false, nil
	}
	if err := c.api.DeletePlan(ctx, plan.ID); err != nil {
		c.report("No se pudo eliminar el plan: " + err.Error())
		return false, err
	}
	for _, class := range plan.Classes {
		if class.SignaturePendingID != "" {
			c.watchers.Cancel(class.SignaturePendingID)
		}
	}
	c.report("Plan eliminado.")
	return true, nil
}

// RejectedClasses lists the watched classes whose signature was rejected
// and not re-requested yet.
func (c *Controller) RejectedClasses() []WatchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WatchResult, 0, len(c.rejected))
	for _, r := range c.rejected {
		out = append(out, r)
	}
	return out
}

// Close stops every watcher.
func (c *Controller) Close() {
	c.watchers.StopAll()
}

func (c *Controller) onWatchResult(r WatchResult) {
	switch r.Class.SignatureState {
	case domain.SignatureSigned:
		c.report(fmt.Sprintf("La clase %d fue firmada.", r.Ordinal))
	case domain.SignatureRejected:
		c.mu.Lock()
		c.rejected[classKey{planID: r.PlanID, ordinal: r.Ordinal}] = r
		c.mu.Unlock()
		c.report(fmt.Sprintf("La firma de la clase %d fue rechazada. Puedes reenviar la solicitud.", r.Ordinal))
	}
}

func (c *Controller) report(msg string) {
	if c.status != nil && msg != "" {
		c.status.Status(msg)
	}
}

func relayStatus(subject string, msg relay.Message) string {
	if msg.Payload.Error != "" {
		return "No se pudo registrar la decisión desde la notificación: " + msg.Payload.Error
	}
	if msg.Decision == domain.DecisionAccept {
		return fmt.Sprintf("Se aceptó %s desde la notificación.", subject)
	}
	return fmt.Sprintf("Se rechazó %s desde la notificación.", subject)
}

func requestFailure(err error) string {
	if IsConflict(err) {
		return "La clase ya tiene una firma pendiente o ya fue firmada."
	}
	return "No se pudo enviar la solicitud de firma: " + err.Error()
}
