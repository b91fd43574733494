package telegram_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/notify"
	"agendapro/agenda-api/internal/notify/notifytest"
	"agendapro/agenda-api/internal/notify/telegram"
	"agendapro/agenda-api/internal/pending"
	"agendapro/agenda-api/internal/repository/memory"
	"agendapro/agenda-api/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"
)

type fakePoster struct {
	to   telebot.Recipient
	text string
	opts []interface{}
	err  error
}

func (f *fakePoster) Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.to, f.text, f.opts = to, what.(string), opts
	return &telebot.Message{ID: 1}, nil
}

func signatureMessage(url string) notify.Message {
	return notify.Message{
		Kind:        domain.KindClassSignature,
		PendingID:   "s1",
		Title:       "Firma la clase de Ana",
		Body:        "clase 2 de 4",
		URL:         url,
		AcceptLabel: "Firmar",
		RejectLabel: "Rechazar",
	}
}

func TestRender(t *testing.T) {
	text, markup := telegram.Render(signatureMessage("https://agenda.example/?signature=s1&plan=p&class=2"))
	assert.Contains(t, text, "Firma la clase de Ana")
	assert.NotContains(t, text, "https://")
	require.Len(t, markup.InlineKeyboard, 2)

	accept := markup.InlineKeyboard[0][0]
	assert.Equal(t, telegram.DecisionUnique, accept.Unique)
	assert.Equal(t, "a|s|s1", accept.Data)
	assert.Equal(t, "r|s|s1", markup.InlineKeyboard[0][1].Data)
	assert.Equal(t, "https://agenda.example/?signature=s1&plan=p&class=2", markup.InlineKeyboard[1][0].URL)

	text, markup = telegram.Render(signatureMessage("http://localhost:8080/?signature=s1"))
	assert.Contains(t, text, "http://localhost:8080/?signature=s1")
	assert.Len(t, markup.InlineKeyboard, 1)
}

func TestParseCallback(t *testing.T) {
	d, kind, id, err := telegram.ParseCallback("r|p|abc")
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionReject, d)
	assert.Equal(t, domain.KindPlanApproval, kind)
	assert.Equal(t, "abc", id)

	for _, bad := range []string{"", "a|p", "a|x|id", "z|p|id", "a|p|"} {
		_, _, _, err := telegram.ParseCallback(bad)
		assert.Error(t, err, bad)
	}
}

func TestSender_Notify(t *testing.T) {
	logger.Silence()
	ctx := context.Background()
	bot := &fakePoster{}
	s := telegram.NewSender(bot)

	c := domain.Contact{Phone: "3001234567", Channel: domain.ChannelTelegram, TelegramChat: 42}
	require.NoError(t, s.Notify(ctx, c, signatureMessage("")))
	assert.Equal(t, "42", bot.to.Recipient())
	require.Len(t, bot.opts, 1)

	bot.err = telebot.ErrBlockedByUser
	assert.ErrorIs(t, s.Notify(ctx, c, signatureMessage("")), notify.ErrDestinationGone)

	bot.err = errors.New("timeout")
	err := s.Notify(ctx, c, signatureMessage(""))
	require.Error(t, err)
	assert.False(t, errors.Is(err, notify.ErrDestinationGone))

	c.TelegramChat = 0
	assert.ErrorIs(t, s.Notify(ctx, c, signatureMessage("")), notify.ErrDestinationGone)
}

type fixture struct {
	handlers *telegram.Handlers
	plans    service.PlanService
	sent     *notifytest.Recorder
}

func newFixture() *fixture {
	logger.Silence()
	plans := memory.NewPlanRepository()
	contacts := memory.NewContactRepository()
	approvals := pending.NewRegistry[domain.PlanDraft](domain.KindPlanApproval, pending.NewMemoryStore[domain.PlanDraft](), time.Hour)
	signatures := pending.NewRegistry[domain.SignatureRequest](domain.KindClassSignature, pending.NewMemoryStore[domain.SignatureRequest](), time.Hour)
	rec := notifytest.NewRecorder(domain.ChannelTelegram)
	dispatcher := notify.NewDispatcher(contacts, approvals, signatures, notify.NewMessageBuilder("https://agenda.example", "Diana"), rec)
	locks := service.NewKeyedLocks()

	return &fixture{
		handlers: telegram.NewHandlers(
			service.NewContactService(contacts, dispatcher, "57"),
			service.NewResolver(plans, approvals, signatures, service.NewDecisionArchive(nil), locks),
		),
		plans: service.NewPlanService(plans, contacts, approvals, signatures, dispatcher, locks),
		sent:  rec,
	}
}

func draft() domain.PlanDraft {
	return domain.PlanDraft{
		StudentName:   "Ana",
		Age:           9,
		GuardianName:  "Laura",
		GuardianPhone: "3001234567",
		PlanType:      4,
		Weekdays:      []string{"lunes", "miércoles"},
		StartTime:     "15:00",
	}
}

func TestHandlers_RegisterAndReply(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	reply, err := f.handlers.Text(ctx, 42, "si")
	require.NoError(t, err)
	assert.Contains(t, reply, "no está vinculado")

	reply, err = f.handlers.Text(ctx, 42, "registrar 12")
	require.NoError(t, err)
	assert.Contains(t, reply, "10 y 15")

	reply, err = f.handlers.Text(ctx, 42, "REGISTRAR 300 123 4567")
	require.NoError(t, err)
	assert.Contains(t, reply, "3001234567")

	_, err = f.plans.SubmitPlanApproval(ctx, draft())
	require.NoError(t, err)
	require.Len(t, f.sent.Sent(), 1)

	reply, err = f.handlers.Text(ctx, 42, "hola")
	require.NoError(t, err)
	assert.Contains(t, reply, "No entendí")

	reply, err = f.handlers.Text(ctx, 42, "NO")
	require.NoError(t, err)
	assert.Contains(t, reply, "rechazado")

	reply, err = f.handlers.Text(ctx, 42, "SI")
	require.NoError(t, err)
	assert.Contains(t, reply, "ya no está disponible")

	list, err := f.plans.ListPlans(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestHandlers_RegisterAliases(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"command", "/registrar 3001234567"},
		{"command with bot name", "/registrar@agenda_bot 3001234567"},
		{"alias", "registro 3001234567"},
		{"alias command", "/REGISTRO 300 123 4567"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			reply, err := f.handlers.Text(context.Background(), 42, tt.text)
			require.NoError(t, err)
			assert.Contains(t, reply, "3001234567")
			assert.NotContains(t, reply, "No entendí")
		})
	}

	f := newFixture()
	reply, err := f.handlers.Text(context.Background(), 42, "/registrarme 3001234567")
	require.NoError(t, err)
	assert.Contains(t, reply, "No entendí")
}

func TestHandlers_Callback(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.handlers.Text(ctx, 42, "REGISTRAR 3001234567")
	require.NoError(t, err)
	rec, err := f.plans.SubmitPlanApproval(ctx, draft())
	require.NoError(t, err)

	msg, ok := f.sent.Last()
	require.True(t, ok)
	text, markup := telegram.Render(msg)
	assert.Contains(t, text, "Ana")
	data := markup.InlineKeyboard[0][0].Data

	reply, err := f.handlers.Callback(ctx, data)
	require.NoError(t, err)
	assert.Contains(t, reply, "El plan de Ana quedó confirmado")

	list, err := f.plans.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	reply, err = f.handlers.Callback(ctx, "a|p|"+rec.ID)
	require.NoError(t, err)
	assert.Contains(t, reply, "ya no está disponible")

	_, err = f.handlers.Callback(ctx, "garbage")
	assert.Error(t, err)
}
