package whatsapp

import (
	"strings"

	"agendapro/agenda-api/internal/domain"
)

// Inbound is the subset of Twilio's incoming-message webhook form we read.
type Inbound struct {
	From          string
	Body          string
	ButtonPayload string
}

func ParseInbound(form map[string]string) Inbound {
	return Inbound{
		From:          form["From"],
		Body:          strings.TrimSpace(form["Body"]),
		ButtonPayload: strings.TrimSpace(form["ButtonPayload"]),
	}
}

// Phone returns the sender without the whatsapp: prefix.
func (in Inbound) Phone() string {
	return strings.TrimPrefix(in.From, addressPrefix)
}

// ButtonDecision reads a quick-reply payload of the form "accept:<id>".
func (in Inbound) ButtonDecision() (domain.Decision, string, bool) {
	action, id, ok := strings.Cut(in.ButtonPayload, ":")
	if !ok || strings.TrimSpace(id) == "" {
		return "", "", false
	}
	d, err := domain.ParseDecision(action)
	if err != nil {
		return "", "", false
	}
	return d, strings.TrimSpace(id), true
}

// TextDecision reads a free-text SI/NO reply.
func (in Inbound) TextDecision() (domain.Decision, bool) {
	if in.Body == "" {
		return "", false
	}
	d, err := domain.ParseDecision(in.Body)
	return d, err == nil
}
