// Package notify turns pending records into outbound messages and routes
// them to the channel a guardian registered.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agendapro/agenda-api/internal/domain"
)

var (
	// ErrDestinationGone marks a permanent failure: the subscription expired,
	// the number is invalid or the user blocked the bot.
	ErrDestinationGone = errors.New("notification destination is gone")
	// ErrChannelUnavailable means no notifier is configured for the channel.
	ErrChannelUnavailable = errors.New("notification channel is not configured")
	// ErrNoContact means the guardian never registered a destination.
	ErrNoContact = errors.New("no contact registered for phone")
)

// Notifier delivers one message over one channel.
type Notifier interface {
	Channel() domain.ChannelKind
	Notify(ctx context.Context, contact domain.Contact, msg Message) error
}

// TemplateKey names a pre-approved message template.
type TemplateKey string

const (
	TemplatePlanApproval   TemplateKey = "PLAN_APPROVAL"
	TemplateClassSignature TemplateKey = "CLASS_SIGNATURE"
)

// TemplateDef lists the named slots of a template in positional order.
type TemplateDef struct {
	FriendlyName string
	Slots        []string
}

// Templates holds every template a channel may be asked to render.
var Templates = map[TemplateKey]TemplateDef{
	TemplatePlanApproval: {
		FriendlyName: "Aprobación de plan",
		Slots:        []string{"guardianName", "studentName", "tutorName", "planLabel", "scheduleLabel", "confirmationUrl"},
	},
	TemplateClassSignature: {
		FriendlyName: "Firma de clase",
		Slots:        []string{"guardianName", "studentName", "tutorName", "classLabel", "signatureUrl"},
	},
}

// Ordered returns the slot values in template order. Every slot must be set.
func (t TemplateDef) Ordered(vars map[string]string) ([]string, error) {
	out := make([]string, 0, len(t.Slots))
	for _, slot := range t.Slots {
		v, ok := vars[slot]
		if !ok {
			return nil, fmt.Errorf("template %q: missing value for %q", t.FriendlyName, slot)
		}
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, fmt.Errorf("template %q: empty value for %q", t.FriendlyName, slot)
		}
		out = append(out, v)
	}
	return out, nil
}

// Message is the channel-agnostic form of a confirmation request.
type Message struct {
	Kind         domain.PendingKind
	PendingID    string
	PlanID       string
	ClassOrdinal int

	Title       string
	Body        string
	Markdown    string
	URL         string
	AcceptLabel string
	RejectLabel string

	Template  TemplateKey
	Variables map[string]string
}
