package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"

	"github.com/sirupsen/logrus"
)

// Decider posts a decision to the API.
type Decider interface {
	DecidePlan(ctx context.Context, pendingID string, decision domain.Decision) error
	DecideClassSignature(ctx context.Context, planID string, ordinal int, pendingID string, decision domain.Decision) error
}

// Client is one open page.
type Client interface {
	URL() string
	Focus(ctx context.Context) error
	PostMessage(msg Message) error
}

// Clients enumerates and opens pages.
type Clients interface {
	MatchAll(ctx context.Context) ([]Client, error)
	OpenWindow(ctx context.Context, url string) (Client, error)
}

// Click is a notification click. Action is empty for body clicks.
type Click struct {
	Action       string
	Notification Notification
}

// ClickResult reports what HandleClick did.
type ClickResult struct {
	Message     Message
	Decided     bool
	DecisionErr error
	Delivered   int
	Opened      bool
}

type Relay struct {
	decider Decider
	clients Clients
}

func New(decider Decider, clients Clients) *Relay {
	return &Relay{decider: decider, clients: clients}
}

// HandleClick decides (for action clicks), broadcasts to every open page and
// then focuses a matching page or opens one. A failed decision is still
// broadcast with the error text in the payload.
func (r *Relay) HandleClick(ctx context.Context, click Click) (ClickResult, error) {
	data := click.Notification.Data
	log := logger.Log.WithFields(logrus.Fields{
		"kind":      data.Type,
		"pendingId": data.PendingID,
		"action":    click.Action,
	})

	var res ClickResult
	res.Message = Message{Type: openType(data.Type), Payload: Payload{PushData: data}}

	// 1. decision
	if decision, ok := decisionForAction(click.Action); ok {
		res.Message.Type = actionType(data.Type)
		res.Message.Decision = decision
		res.Decided = true
		res.DecisionErr = r.decide(ctx, data, decision)
		if res.DecisionErr != nil {
			log.Warnf("Relayed decision failed: %v", res.DecisionErr)
			res.Message.Payload.Error = res.DecisionErr.Error()
		}
	}

	// 2. broadcast
	clients, err := r.clients.MatchAll(ctx)
	if err != nil {
		return res, fmt.Errorf("match clients: %w", err)
	}
	for _, c := range clients {
		if err := c.PostMessage(res.Message); err != nil {
			log.Debugf("Post to %s failed: %v", c.URL(), err)
			continue
		}
		res.Delivered++
	}

	// 3. focus or open
	target := click.Notification.TargetURL()
	for _, c := range clients {
		if strings.Contains(c.URL(), target) {
			return res, c.Focus(ctx)
		}
	}
	if _, err := r.clients.OpenWindow(ctx, target); err != nil {
		return res, fmt.Errorf("open window: %w", err)
	}
	res.Opened = true
	return res, nil
}

func (r *Relay) decide(ctx context.Context, data PushData, decision domain.Decision) error {
	if data.PendingID == "" {
		return errors.New("notification carries no pending id")
	}
	switch data.Type {
	case domain.KindClassSignature:
		if data.PlanID == "" || data.ClassOrdinal < 1 {
			return errors.New("class signature notification carries no class reference")
		}
		return r.decider.DecideClassSignature(ctx, data.PlanID, data.ClassOrdinal, data.PendingID, decision)
	case domain.KindPlanApproval, "":
		return r.decider.DecidePlan(ctx, data.PendingID, decision)
	}
	return fmt.Errorf("unknown notification type %q", data.Type)
}
