package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/service"

	"gopkg.in/telebot.v3"
)

const (
	registerCommand = "REGISTRAR"
	registerAlias   = "REGISTRO"

	replyWelcome      = "Hola. Para recibir las solicitudes de confirmación escribe REGISTRAR seguido de tu número de celular, por ejemplo: REGISTRAR 3001234567"
	replyHelp         = "No entendí tu mensaje. Responde SI o NO a la última solicitud, o escribe REGISTRAR <celular>."
	replyNotLinked    = "Este chat no está vinculado a ningún número. Escribe REGISTRAR <celular> primero."
	replyFailed       = "Ocurrió un error, intenta de nuevo en unos minutos."
	replyGone         = "Esta solicitud ya no está disponible."
	replyAlreadyDone  = "Esta solicitud ya fue respondida."
	replyStale        = "Esta solicitud fue reemplazada por una más reciente."
	replyInvalidPhone = "El número debe tener entre 10 y 15 dígitos."
)

// Handlers holds the bot's conversation logic, independent of telebot.
type Handlers struct {
	contacts service.ContactService
	resolver service.Resolver
}

func NewHandlers(contacts service.ContactService, resolver service.Resolver) *Handlers {
	return &Handlers{contacts: contacts, resolver: resolver}
}

func (h *Handlers) Start() string { return replyWelcome }

// Text answers any non-command message of chatID.
func (h *Handlers) Text(ctx context.Context, chatID int64, text string) (string, error) {
	text = strings.TrimSpace(text)
	if fields := strings.Fields(text); len(fields) > 0 && isRegisterCommand(fields[0]) {
		return h.register(ctx, chatID, strings.Join(fields[1:], ""))
	}

	decision, err := domain.ParseDecision(text)
	if err != nil {
		return replyHelp, nil
	}
	contact, err := h.contacts.LookupTelegramChat(ctx, chatID)
	if errors.Is(err, service.ErrContactNotFound) {
		return replyNotLinked, nil
	}
	if err != nil {
		return replyFailed, err
	}
	out, err := h.resolver.ResolveLatestForPhone(ctx, contact.Phone, decision, domain.SourceTelegram)
	if err != nil {
		return decisionReply(err)
	}
	return outcomeReply(out), nil
}

// Callback applies a tapped decision button.
func (h *Handlers) Callback(ctx context.Context, data string) (string, error) {
	decision, kind, id, err := ParseCallback(data)
	if err != nil {
		return replyFailed, err
	}
	out, err := h.resolver.Resolve(ctx, kind, id, decision, domain.SourceTelegram)
	if err != nil {
		return decisionReply(err)
	}
	return outcomeReply(out), nil
}

// isRegisterCommand accepts REGISTRAR or REGISTRO in any case, optionally
// written as a bot command ("/registrar", "/registrar@agenda_bot").
func isRegisterCommand(word string) bool {
	if cmd, ok := strings.CutPrefix(word, "/"); ok {
		word, _, _ = strings.Cut(cmd, "@")
	}
	return strings.EqualFold(word, registerCommand) || strings.EqualFold(word, registerAlias)
}

func (h *Handlers) register(ctx context.Context, chatID int64, phone string) (string, error) {
	c, err := h.contacts.RegisterTelegram(ctx, phone, chatID)
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return replyInvalidPhone, nil
	}
	if err != nil {
		return replyFailed, err
	}
	return fmt.Sprintf("Listo. Las solicitudes para el número %s llegarán a este chat.", c.Phone), nil
}

func decisionReply(err error) (string, error) {
	switch {
	case errors.Is(err, service.ErrPendingNotFound):
		return replyGone, nil
	case errors.Is(err, service.ErrAlreadyResolved):
		return replyAlreadyDone, nil
	case errors.Is(err, service.ErrStaleDecision):
		return replyStale, nil
	}
	return replyFailed, err
}

func outcomeReply(out *service.Outcome) string {
	accepted := out.Status == domain.StatusAccepted
	switch out.Kind {
	case domain.KindClassSignature:
		if accepted {
			return "Gracias. La clase quedó firmada."
		}
		return "Entendido. La firma de la clase fue rechazada."
	default:
		if accepted {
			if out.Plan != nil {
				return fmt.Sprintf("¡Listo! El plan de %s quedó confirmado.", out.Plan.StudentName)
			}
			return "¡Listo! El plan quedó confirmado."
		}
		return "Entendido. El plan fue rechazado."
	}
}

// RegisterBotHandlers wires h into b.
func RegisterBotHandlers(ctx context.Context, b *telebot.Bot, h *Handlers) {
	b.Handle("/start", func(c telebot.Context) error {
		return c.Send(h.Start())
	})

	b.Handle(telebot.OnText, func(c telebot.Context) error {
		reply, err := h.Text(ctx, c.Chat().ID, c.Text())
		if err != nil {
			c.Bot().OnError(fmt.Errorf("text from chat %d: %w", c.Chat().ID, err), c)
		}
		return c.Send(reply)
	})

	b.Handle(&telebot.Btn{Unique: DecisionUnique}, func(c telebot.Context) error {
		reply, err := h.Callback(ctx, c.Callback().Data)
		if err != nil {
			c.Bot().OnError(fmt.Errorf("callback %q: %w", c.Callback().Data, err), c)
			return c.Respond(&telebot.CallbackResponse{Text: reply})
		}
		if err := c.Respond(&telebot.CallbackResponse{Text: reply}); err != nil {
			return err
		}
		// drop the buttons so the message cannot be answered twice
		if _, err := c.Bot().EditReplyMarkup(c.Message(), nil); err != nil {
			c.Bot().OnError(err, c)
		}
		return c.Send(reply)
	})
}
