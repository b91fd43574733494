// Package webpush delivers confirmation requests as VAPID-signed Web Push
// notifications.
package webpush

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"agendapro/agenda-api/internal/config"
	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/notify"
	"agendapro/agenda-api/internal/relay"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const (
	defaultIcon = "/icons/icon-192.png"
	defaultTTL  = 3600
)

// Sender implements notify.Notifier over Web Push.
type Sender struct {
	opts webpush.Options
}

// New builds a sender from the VAPID configuration. httpClient may be nil.
func New(cfg config.PushConfig, httpClient webpush.HTTPClient) *Sender {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Sender{opts: webpush.Options{
		HTTPClient:      httpClient,
		Subscriber:      cfg.Subscriber,
		VAPIDPublicKey:  cfg.PublicKey,
		VAPIDPrivateKey: cfg.PrivateKey,
		TTL:             ttl,
		Urgency:         webpush.UrgencyHigh,
	}}
}

func (s *Sender) Channel() domain.ChannelKind { return domain.ChannelPush }

// PublicKey is handed to browsers for PushManager.subscribe.
func (s *Sender) PublicKey() string { return s.opts.VAPIDPublicKey }

func (s *Sender) Notify(ctx context.Context, c domain.Contact, msg notify.Message) error {
	if c.Push == nil {
		return fmt.Errorf("contact %s has no push subscription: %w", c.Phone, notify.ErrDestinationGone)
	}
	body, err := json.Marshal(Payload(msg))
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	sub := &webpush.Subscription{
		Endpoint: c.Push.Endpoint,
		Keys:     webpush.Keys{Auth: c.Push.Keys.Auth, P256dh: c.Push.Keys.P256dh},
	}
	opts := s.opts
	resp, err := webpush.SendNotificationWithContext(ctx, body, sub, &opts)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("push endpoint returned %d: %w", resp.StatusCode, notify.ErrDestinationGone)
	case resp.StatusCode >= 400:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push endpoint returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// Payload is the JSON the service worker receives.
func Payload(msg notify.Message) relay.Notification {
	requireInteraction := true
	return relay.Notification{
		Title: msg.Title,
		Body:  msg.Body,
		Icon:  defaultIcon,
		Badge: defaultIcon,
		Tag:   fmt.Sprintf("%s:%s", msg.Kind, msg.PendingID),
		Actions: []relay.Action{
			{Action: relay.ActionAccept, Title: msg.AcceptLabel},
			{Action: relay.ActionReject, Title: msg.RejectLabel},
		},
		RequireInteraction: &requireInteraction,
		Data: relay.PushData{
			Type:         msg.Kind,
			PendingID:    msg.PendingID,
			PlanID:       msg.PlanID,
			ClassOrdinal: msg.ClassOrdinal,
			URL:          msg.URL,
		},
	}
}
