package email_test

import (
	"context"
	"errors"
	"testing"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/notify"
	"agendapro/agenda-api/internal/notify/email"

	"github.com/resend/resend-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResend struct {
	got *resend.SendEmailRequest
	err error
}

func (f *fakeResend) SendWithContext(_ context.Context, p *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got = p
	return &resend.SendEmailResponse{Id: "em_1"}, nil
}

func message() notify.Message {
	return notify.Message{
		Kind:        domain.KindPlanApproval,
		PendingID:   "p1",
		Title:       "Confirma el plan de Ana",
		Body:        "Ana · 4 clases",
		Markdown:    "Hola Laura,\n\n**Ana** <script>x</script>\n\n[Revisar](https://agenda.example/?pending=p1)\n",
		URL:         "https://agenda.example/?pending=p1",
		AcceptLabel: "Aceptar",
	}
}

func TestNotify(t *testing.T) {
	logger.Silence()
	api := &fakeResend{}
	s := email.NewWithAPI(api, "Agenda <agenda@example.com>")

	c := domain.Contact{Phone: "3001234567", Channel: domain.ChannelEmail, Email: "laura@example.com"}
	require.NoError(t, s.Notify(context.Background(), c, message()))

	require.NotNil(t, api.got)
	assert.Equal(t, []string{"laura@example.com"}, api.got.To)
	assert.Equal(t, "Confirma el plan de Ana", api.got.Subject)
	assert.Contains(t, api.got.Html, "<strong>Ana</strong>")
	assert.Contains(t, api.got.Html, `href="https://agenda.example/?pending=p1"`)
	assert.NotContains(t, api.got.Html, "<script>")
	assert.Contains(t, api.got.Text, "https://agenda.example/?pending=p1")
}

func TestNotify_Errors(t *testing.T) {
	logger.Silence()
	s := email.NewWithAPI(&fakeResend{}, "agenda@example.com")
	err := s.Notify(context.Background(), domain.Contact{Phone: "3001234567"}, message())
	assert.ErrorIs(t, err, notify.ErrDestinationGone)

	s = email.NewWithAPI(&fakeResend{err: errors.New("rate limited")}, "agenda@example.com")
	err = s.Notify(context.Background(), domain.Contact{Phone: "3001234567", Email: "a@b.co"}, message())
	require.Error(t, err)
	assert.False(t, errors.Is(err, notify.ErrDestinationGone))
}

func TestRenderHTML_Fallback(t *testing.T) {
	msg := message()
	msg.Markdown = ""
	msg.Body = "Ana & Laura"
	out, err := email.RenderHTML(msg)
	require.NoError(t, err)
	assert.Contains(t, out, "Ana &amp; Laura")
	assert.Contains(t, out, "Aceptar")
}
