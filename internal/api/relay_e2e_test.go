package api_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"agendapro/agenda-api/internal/client"
	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusLines struct {
	mu    sync.Mutex
	lines []string
}

func (s *statusLines) Status(msg string) {
	s.mu.Lock()
	s.lines = append(s.lines, msg)
	s.mu.Unlock()
}

func (s *statusLines) contains(sub string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

// A notification click on "accept-class" decides through the API, the page
// hears about it over the relay and its watcher settles on the signed class.
func TestRelayAcceptClass_EndToEnd(t *testing.T) {
	s := newServer(t)
	plan := s.approvedPlan(t)

	ts := httptest.NewServer(s.router)
	defer ts.Close()
	ctx := context.Background()

	apiClient := client.NewAPIClient(ts.URL, ts.Client())
	_, err := apiClient.Login(ctx, testOperator, testPassword)
	require.NoError(t, err)

	status := &statusLines{}
	page := client.NewController(apiClient, client.ConfirmFunc(func(context.Context, string) bool { return true }), status,
		client.WithWatcherOptions(client.WithInterval(time.Hour)))
	defer page.Close()

	req, err := page.RequestSignature(ctx, plan.ID, 1)
	require.NoError(t, err)
	require.Equal(t, 1, page.Watchers().Active())

	hub := relay.NewHub()
	tab := hub.Attach(ts.URL + "/")
	defer tab.Close()

	// the service worker answers with its own client; deciding needs no token
	worker := relay.New(client.NewAPIClient(ts.URL, ts.Client()), hub)
	res, err := worker.HandleClick(ctx, relay.Click{
		Action: "accept-class",
		Notification: relay.Notification{Data: relay.PushData{
			Type:         domain.KindClassSignature,
			PendingID:    req.PendingID,
			PlanID:       plan.ID,
			ClassOrdinal: 1,
			URL:          "/",
		}},
	})
	require.NoError(t, err)
	require.True(t, res.Decided)
	require.NoError(t, res.DecisionErr)
	assert.Equal(t, 1, res.Delivered)
	assert.True(t, tab.Focused())

	var msg relay.Message
	select {
	case msg = <-tab.Messages():
	case <-time.After(time.Second):
		t.Fatal("page never received the relay message")
	}
	assert.Equal(t, relay.TypeSignatureAction, msg.Type)
	assert.Equal(t, domain.DecisionAccept, msg.Decision)

	require.NoError(t, page.HandleRelayMessage(ctx, msg))

	assert.Eventually(t, func() bool { return status.contains("fue firmada") }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return page.Watchers().Active() == 0 }, 2*time.Second, 10*time.Millisecond)

	got, err := apiClient.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.True(t, got.Classes[0].Completed)
	assert.Equal(t, domain.SignatureSigned, got.Classes[0].SignatureState)
}
