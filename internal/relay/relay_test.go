package relay_test

import (
	"context"
	"errors"
	"testing"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decisionCall struct {
	kind      domain.PendingKind
	planID    string
	ordinal   int
	pendingID string
	decision  domain.Decision
}

type fakeDecider struct {
	calls []decisionCall
	err   error
}

func (f *fakeDecider) DecidePlan(_ context.Context, pendingID string, d domain.Decision) error {
	f.calls = append(f.calls, decisionCall{kind: domain.KindPlanApproval, pendingID: pendingID, decision: d})
	return f.err
}

func (f *fakeDecider) DecideClassSignature(_ context.Context, planID string, ordinal int, pendingID string, d domain.Decision) error {
	f.calls = append(f.calls, decisionCall{kind: domain.KindClassSignature, planID: planID, ordinal: ordinal, pendingID: pendingID, decision: d})
	return f.err
}

func TestParsePush(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		wantTitle string
		wantBody  string
	}{
		{"empty", nil, relay.DefaultTitle, relay.DefaultBody},
		{"plain text", []byte("hola"), relay.DefaultTitle, "hola"},
		{"json without title", []byte(`{"body":"Ana"}`), relay.DefaultTitle, "Ana"},
		{"json", []byte(`{"title":"T","body":"B","data":{"type":"plan-approval","pendingId":"p1"}}`), "T", "B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := relay.ParsePush(tt.data)
			assert.Equal(t, tt.wantTitle, n.Title)
			assert.Equal(t, tt.wantBody, n.Body)
		})
	}

	n := relay.ParsePush([]byte(`{"title":"T","requireInteraction":true,"actions":[{"action":"accept","title":"Sí"}],"data":{"type":"class-signature","pendingId":"s1","planId":"p","classOrdinal":2,"url":"/?signature=s1"}}`))
	require.NotNil(t, n.RequireInteraction)
	assert.True(t, *n.RequireInteraction)
	assert.Len(t, n.Actions, 1)
	assert.Equal(t, domain.KindClassSignature, n.Data.Type)
	assert.Equal(t, 2, n.Data.ClassOrdinal)
	assert.Equal(t, "/?signature=s1", n.TargetURL())
	assert.Equal(t, "/", relay.ParsePush(nil).TargetURL())
}

func TestHandleClick_ActionDecidesThenBroadcasts(t *testing.T) {
	logger.Silence()
	decider := &fakeDecider{}
	hub := relay.NewHub()
	tab := hub.Attach("https://agenda.example/?signature=s1&plan=p1&class=1")
	other := hub.Attach("https://agenda.example/admin")
	r := relay.New(decider, hub)

	res, err := r.HandleClick(context.Background(), relay.Click{
		Action: "accept-class",
		Notification: relay.Notification{Data: relay.PushData{
			Type: domain.KindClassSignature, PendingID: "s1", PlanID: "p1", ClassOrdinal: 1,
			URL: "/?signature=s1",
		}},
	})
	require.NoError(t, err)
	assert.True(t, res.Decided)
	assert.NoError(t, res.DecisionErr)
	assert.Equal(t, 2, res.Delivered)
	assert.False(t, res.Opened)

	require.Len(t, decider.calls, 1)
	assert.Equal(t, decisionCall{kind: domain.KindClassSignature, planID: "p1", ordinal: 1, pendingID: "s1", decision: domain.DecisionAccept}, decider.calls[0])

	msg := <-tab.Messages()
	assert.Equal(t, relay.TypeSignatureAction, msg.Type)
	assert.Equal(t, domain.DecisionAccept, msg.Decision)
	assert.Equal(t, "s1", msg.Payload.PendingID)
	assert.True(t, tab.Focused())
	assert.False(t, other.Focused())
}

func TestHandleClick_BodyClickNeverDecides(t *testing.T) {
	logger.Silence()
	decider := &fakeDecider{}
	hub := relay.NewHub()
	r := relay.New(decider, hub)

	res, err := r.HandleClick(context.Background(), relay.Click{
		Notification: relay.Notification{Data: relay.PushData{
			Type: domain.KindPlanApproval, PendingID: "p1", URL: "/?pending=p1",
		}},
	})
	require.NoError(t, err)
	assert.Empty(t, decider.calls)
	assert.False(t, res.Decided)
	assert.Equal(t, relay.TypePlanOpen, res.Message.Type)
	assert.True(t, res.Opened)

	tabs := hub.Tabs()
	require.Len(t, tabs, 1)
	assert.Equal(t, "/?pending=p1", tabs[0].URL())
	assert.True(t, tabs[0].Focused())
}

func TestHandleClick_FailedDecisionStillBroadcast(t *testing.T) {
	logger.Silence()
	decider := &fakeDecider{err: errors.New("409: already resolved")}
	hub := relay.NewHub()
	tab := hub.Attach("/?pending=p1")
	r := relay.New(decider, hub)

	res, err := r.HandleClick(context.Background(), relay.Click{
		Action:       relay.ActionReject,
		Notification: relay.Notification{Data: relay.PushData{Type: domain.KindPlanApproval, PendingID: "p1", URL: "/?pending=p1"}},
	})
	require.NoError(t, err)
	assert.Error(t, res.DecisionErr)

	msg := <-tab.Messages()
	assert.Equal(t, relay.TypePlanAction, msg.Type)
	assert.Equal(t, domain.DecisionReject, msg.Decision)
	assert.Contains(t, msg.Payload.Error, "already resolved")
}

func TestHandleClick_MissingClassReference(t *testing.T) {
	logger.Silence()
	decider := &fakeDecider{}
	r := relay.New(decider, relay.NewHub())

	res, err := r.HandleClick(context.Background(), relay.Click{
		Action:       relay.ActionAccept,
		Notification: relay.Notification{Data: relay.PushData{Type: domain.KindClassSignature, PendingID: "s1"}},
	})
	require.NoError(t, err)
	assert.Error(t, res.DecisionErr)
	assert.Empty(t, decider.calls)
}

func TestTab_CloseDetaches(t *testing.T) {
	hub := relay.NewHub()
	tab := hub.Attach("/")
	tab.Close()

	assert.Empty(t, hub.Tabs())
	assert.ErrorIs(t, tab.PostMessage(relay.Message{}), relay.ErrTabClosed)
	_, open := <-tab.Messages()
	assert.False(t, open)
}
