package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/pending"
	"agendapro/agenda-api/internal/repository"

	"github.com/sirupsen/logrus"
)

// Dispatcher sends confirmation requests to the guardian's registered
// contact. Every failed dispatch discards its pending record; a gone
// destination also deletes the contact.
type Dispatcher struct {
	contacts   repository.ContactRepository
	approvals  *pending.Registry[domain.PlanDraft]
	signatures *pending.Registry[domain.SignatureRequest]
	builder    MessageBuilder
	notifiers  map[domain.ChannelKind]Notifier
}

func NewDispatcher(
	contacts repository.ContactRepository,
	approvals *pending.Registry[domain.PlanDraft],
	signatures *pending.Registry[domain.SignatureRequest],
	builder MessageBuilder,
	notifiers ...Notifier,
) *Dispatcher {
	d := &Dispatcher{
		contacts:   contacts,
		approvals:  approvals,
		signatures: signatures,
		builder:    builder,
		notifiers:  make(map[domain.ChannelKind]Notifier, len(notifiers)),
	}
	for _, n := range notifiers {
		if n != nil {
			d.notifiers[n.Channel()] = n
		}
	}
	return d
}

// Supports reports whether a notifier is configured for the channel.
func (d *Dispatcher) Supports(kind domain.ChannelKind) bool {
	_, ok := d.notifiers[kind]
	return ok
}

// Channels lists the configured channels in a stable order.
func (d *Dispatcher) Channels() []domain.ChannelKind {
	out := make([]domain.ChannelKind, 0, len(d.notifiers))
	for k := range d.notifiers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Builder exposes the link builder used for outbound messages.
func (d *Dispatcher) Builder() MessageBuilder { return d.builder }

func (d *Dispatcher) DispatchPlanApproval(ctx context.Context, rec pending.Record[domain.PlanDraft]) error {
	msg := d.builder.PlanApproval(rec)
	err := d.send(ctx, domain.DigitsOnly(rec.Payload.GuardianPhone), msg)
	if err != nil {
		if derr := d.approvals.Discard(ctx, rec.ID); derr != nil {
			logger.Log.Errorf("Discard plan approval %s after failed dispatch: %v", rec.ID, derr)
		}
	}
	return err
}

// DispatchClassSignature expects the class to be marked pending already.
// Rolling the class back on failure is the caller's job.
func (d *Dispatcher) DispatchClassSignature(ctx context.Context, rec pending.Record[domain.SignatureRequest], plan *domain.Plan) error {
	msg := d.builder.ClassSignature(rec, plan)
	err := d.send(ctx, rec.Payload.ContactPhone, msg)
	if err != nil {
		if derr := d.signatures.Discard(ctx, rec.ID); derr != nil {
			logger.Log.Errorf("Discard class signature %s after failed dispatch: %v", rec.ID, derr)
		}
	}
	return err
}

func (d *Dispatcher) send(ctx context.Context, phone string, msg Message) error {
	log := logger.Log.WithFields(logrus.Fields{
		"kind":      msg.Kind,
		"pendingId": msg.PendingID,
		"phone":     phone,
	})

	contact, err := d.contacts.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNoContact
		}
		return fmt.Errorf("lookup contact: %w", err)
	}

	n, ok := d.notifiers[contact.Channel]
	if !ok {
		log.Warnf("No notifier configured for channel %s", contact.Channel)
		return fmt.Errorf("%s: %w", contact.Channel, ErrChannelUnavailable)
	}

	if err := n.Notify(ctx, *contact, msg); err != nil {
		if errors.Is(err, ErrDestinationGone) {
			log.Warnf("Destination gone on %s, deleting contact: %v", contact.Channel, err)
			if derr := d.contacts.Delete(ctx, phone); derr != nil && !errors.Is(derr, repository.ErrNotFound) {
				log.Errorf("Delete gone contact: %v", derr)
			}
		} else {
			log.Errorf("Dispatch over %s failed: %v", contact.Channel, err)
		}
		return fmt.Errorf("notify via %s: %w", contact.Channel, err)
	}

	log.Infof("Dispatched over %s", contact.Channel)
	return nil
}
