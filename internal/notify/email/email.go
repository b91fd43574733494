// Package email delivers confirmation requests through Resend.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/notify"

	"github.com/resend/resend-go/v2"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// Raw HTML in the markdown is escaped since WithUnsafe is not set.
var renderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkhtml.WithHardWraps(),
	),
)

// API is the part of the Resend client used for sending.
type API interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

type Sender struct {
	api  API
	from string
}

func New(apiKey, from string) *Sender {
	return NewWithAPI(resend.NewClient(apiKey).Emails, from)
}

func NewWithAPI(api API, from string) *Sender {
	return &Sender{api: api, from: from}
}

func (s *Sender) Channel() domain.ChannelKind { return domain.ChannelEmail }

func (s *Sender) Notify(ctx context.Context, c domain.Contact, msg notify.Message) error {
	to := strings.TrimSpace(c.Email)
	if to == "" {
		return fmt.Errorf("contact %s has no email: %w", c.Phone, notify.ErrDestinationGone)
	}
	body, err := RenderHTML(msg)
	if err != nil {
		return err
	}

	sent, err := s.api.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: msg.Title,
		Html:    body,
		Text:    plainText(msg),
		Tags:    []resend.Tag{{Name: "kind", Value: string(msg.Kind)}},
	})
	if err != nil {
		return fmt.Errorf("resend send failed: %w", err)
	}
	logger.Log.WithFields(logrus.Fields{
		"message_id": sent.Id,
		"pending_id": msg.PendingID,
	}).Debug("Email sent")
	return nil
}

// RenderHTML converts the markdown body of msg to HTML. Messages without
// markdown fall back to the escaped plain body and a link.
func RenderHTML(msg notify.Message) (string, error) {
	md := msg.Markdown
	if md == "" {
		return fmt.Sprintf("<p>%s</p><p><a href=%q>%s</a></p>",
			html.EscapeString(msg.Body), msg.URL, html.EscapeString(msg.AcceptLabel)), nil
	}
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render email body: %w", err)
	}
	return buf.String(), nil
}

func plainText(msg notify.Message) string {
	return msg.Body + "\n\n" + msg.URL
}
