// Package telegram delivers confirmation requests through a Telegram bot
// and turns the guardian's button taps and replies into decisions.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/notify"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// DecisionUnique is the callback unique of the accept/reject buttons.
const DecisionUnique = "dec"

// Poster is the part of *telebot.Bot the sender needs.
type Poster interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

type Sender struct {
	bot Poster
}

func NewSender(bot Poster) *Sender {
	return &Sender{bot: bot}
}

// NewBot builds a long-polling bot. Handler errors are logged.
func NewBot(token string) (*telebot.Bot, error) {
	return telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := logger.Log.WithError(err)
			if c != nil && c.Chat() != nil {
				entry = entry.WithField("chat_id", c.Chat().ID)
			}
			entry.Error("Telegram handler failed")
		},
	})
}

func (s *Sender) Channel() domain.ChannelKind { return domain.ChannelTelegram }

func (s *Sender) Notify(ctx context.Context, c domain.Contact, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.TelegramChat == 0 {
		return fmt.Errorf("contact %s has no chat: %w", c.Phone, notify.ErrDestinationGone)
	}
	text, markup := Render(msg)
	_, err := s.bot.Send(telebot.ChatID(c.TelegramChat), text, markup)
	if err != nil {
		if isGone(err) {
			return fmt.Errorf("telegram chat %d: %v: %w", c.TelegramChat, err, notify.ErrDestinationGone)
		}
		return fmt.Errorf("telegram send: %w", err)
	}
	logger.Log.WithFields(logrus.Fields{
		"chat_id":    c.TelegramChat,
		"pending_id": msg.PendingID,
	}).Debug("Telegram message sent")
	return nil
}

// Render builds the message text and its inline keyboard. Telegram refuses
// URL buttons that are not https, so other links go into the text.
func Render(msg notify.Message) (string, *telebot.ReplyMarkup) {
	kind := kindCode(msg.Kind)
	markup := &telebot.ReplyMarkup{}
	rows := []telebot.Row{markup.Row(
		markup.Data(msg.AcceptLabel, DecisionUnique, "a", kind, msg.PendingID),
		markup.Data(msg.RejectLabel, DecisionUnique, "r", kind, msg.PendingID),
	)}

	var b strings.Builder
	b.WriteString(msg.Title)
	b.WriteString("\n\n")
	b.WriteString(msg.Body)
	if strings.HasPrefix(msg.URL, "https://") {
		rows = append(rows, markup.Row(markup.URL("Ver detalles", msg.URL)))
	} else if msg.URL != "" {
		b.WriteString("\n\n")
		b.WriteString(msg.URL)
	}
	b.WriteString("\n\nTambién puedes responder SI o NO.")
	markup.Inline(rows...)
	return b.String(), markup
}

// ParseCallback reads the "a|p|<id>" payload of a decision button.
func ParseCallback(data string) (domain.Decision, domain.PendingKind, string, error) {
	parts := strings.SplitN(data, "|", 3)
	if len(parts) != 3 || parts[2] == "" {
		return "", "", "", fmt.Errorf("invalid callback data %q", data)
	}
	decision, err := domain.ParseDecision(parts[0])
	if err != nil {
		return "", "", "", err
	}
	var kind domain.PendingKind
	switch parts[1] {
	case "p":
		kind = domain.KindPlanApproval
	case "s":
		kind = domain.KindClassSignature
	default:
		return "", "", "", fmt.Errorf("invalid callback kind %q", parts[1])
	}
	return decision, kind, parts[2], nil
}

func kindCode(k domain.PendingKind) string {
	if k == domain.KindClassSignature {
		return "s"
	}
	return "p"
}

func isGone(err error) bool {
	return errors.Is(err, telebot.ErrBlockedByUser) ||
		errors.Is(err, telebot.ErrChatNotFound) ||
		errors.Is(err, telebot.ErrUserIsDeactivated) ||
		errors.Is(err, telebot.ErrNotStartedByUser)
}
