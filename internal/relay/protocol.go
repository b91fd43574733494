// Package relay is the service-worker side of push notifications: it turns
// push payloads into notifications, applies action clicks against the API
// and tells every open page what happened.
package relay

import (
	"encoding/json"
	"strings"

	"agendapro/agenda-api/internal/domain"
)

const (
	DefaultTitle = "Agenda Pro"
	DefaultBody  = "Tienes una nueva actualización."
)

// Notification action identifiers.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

// MessageType is the discriminator of page messages.
type MessageType string

const (
	TypePlanOpen        MessageType = "push-plan-open"
	TypeSignatureOpen   MessageType = "class-signature-open"
	TypePlanAction      MessageType = "push-plan-action"
	TypeSignatureAction MessageType = "class-signature-action"
)

// Action is a notification button.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// PushData travels inside the notification and identifies its target.
type PushData struct {
	Type         domain.PendingKind `json:"type,omitempty"`
	PendingID    string             `json:"pendingId,omitempty"`
	PlanID       string             `json:"planId,omitempty"`
	ClassOrdinal int                `json:"classOrdinal,omitempty"`
	URL          string             `json:"url,omitempty"`
}

// Notification is the push payload, also what the server encrypts and sends.
type Notification struct {
	Title              string   `json:"title"`
	Body               string   `json:"body"`
	Icon               string   `json:"icon,omitempty"`
	Badge              string   `json:"badge,omitempty"`
	Tag                string   `json:"tag,omitempty"`
	Actions            []Action `json:"actions,omitempty"`
	RequireInteraction *bool    `json:"requireInteraction,omitempty"`
	Data               PushData `json:"data"`
}

// TargetURL is where a click should land.
func (n Notification) TargetURL() string {
	if n.Data.URL == "" {
		return "/"
	}
	return n.Data.URL
}

// ParsePush decodes a push payload. Non-JSON data becomes the body text.
func ParsePush(data []byte) Notification {
	var n Notification
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n); err != nil {
			n = Notification{Body: strings.TrimSpace(string(data))}
		}
	}
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	if n.Body == "" {
		n.Body = DefaultBody
	}
	return n
}

// Payload is the body of a page message.
type Payload struct {
	PushData
	Error string `json:"error,omitempty"`
}

// Message is what the relay posts to open pages.
type Message struct {
	Type     MessageType     `json:"type"`
	Decision domain.Decision `json:"decision,omitempty"`
	Payload  Payload         `json:"payload"`
}

func openType(kind domain.PendingKind) MessageType {
	if kind == domain.KindClassSignature {
		return TypeSignatureOpen
	}
	return TypePlanOpen
}

func actionType(kind domain.PendingKind) MessageType {
	if kind == domain.KindClassSignature {
		return TypeSignatureAction
	}
	return TypePlanAction
}

// decisionForAction maps a clicked button onto a decision. Body clicks
// carry no action and decide nothing.
func decisionForAction(action string) (domain.Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionAccept, "accept-plan", "accept-class":
		return domain.DecisionAccept, true
	case ActionReject, "reject-plan", "reject-class":
		return domain.DecisionReject, true
	}
	return "", false
}
