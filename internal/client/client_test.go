package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"agendapro/agenda-api/internal/client"
	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/pending"
	"agendapro/agenda-api/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend serves one plan and lets tests flip its classes.
type fakeBackend struct {
	mu        sync.Mutex
	plan      domain.Plan
	approvals map[string]*client.PlanApproval
	sigs      map[string]*client.SignatureDetail
	gate      chan struct{}
	decideErr error
	fetches   int
	requests  int
	deleted   []string
}

func newFakeBackend() *fakeBackend {
	plan := domain.Plan{ID: "plan-1", StudentName: "Ana", PlanType: 2, Classes: domain.FreshClasses(2)}
	return &fakeBackend{
		plan:      plan,
		approvals: map[string]*client.PlanApproval{"p1": {ID: "p1", Status: domain.StatusPending, Payload: domain.PlanDraft{StudentName: "Ana"}}},
	}
}

func (f *fakeBackend) setClass(ordinal int, state domain.SignatureState, pendingID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, _ := f.plan.Class(ordinal)
	c.SignatureState = state
	c.SignaturePendingID = pendingID
}

func (f *fakeBackend) GetPlan(_ context.Context, planID string) (*domain.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if planID != f.plan.ID {
		return nil, &client.APIError{Status: http.StatusNotFound, Message: "plan not found"}
	}
	p := f.plan
	p.Classes = append([]domain.ClassSession(nil), f.plan.Classes...)
	return &p, nil
}

func (f *fakeBackend) GetPlanApproval(_ context.Context, id string) (*client.PlanApproval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.approvals[id]
	if !ok {
		return nil, &client.APIError{Status: http.StatusNotFound, Message: "pending request not found"}
	}
	return rec, nil
}

func (f *fakeBackend) ResolvePlan(_ context.Context, id string, d domain.Decision) (*client.Outcome, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.decideErr != nil {
		return nil, f.decideErr
	}
	return &client.Outcome{Kind: domain.KindPlanApproval, PendingID: id, Decision: d, Status: d.Status()}, nil
}

func (f *fakeBackend) GetClassSignature(_ context.Context, id string) (*client.SignatureDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if detail, ok := f.sigs[id]; ok {
		return detail, nil
	}
	return nil, &client.APIError{Status: http.StatusNotFound}
}

func (f *fakeBackend) ResolveClassSignature(_ context.Context, planID string, ordinal int, pendingID string, d domain.Decision) (*client.Outcome, error) {
	return nil, errors.New("not used")
}

func (f *fakeBackend) RequestClassSignature(_ context.Context, planID string, ordinal int) (*client.SignatureRequested, error) {
	f.mu.Lock()
	f.requests++
	id := "s" + string(rune('0'+f.requests))
	f.mu.Unlock()
	f.setClass(ordinal, domain.SignaturePending, id)
	p, _ := f.GetPlan(context.Background(), planID)
	return &client.SignatureRequested{PendingID: id, Plan: p}, nil
}

func (f *fakeBackend) DeletePlan(_ context.Context, planID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, planID)
	return nil
}

type statusLog struct {
	mu   sync.Mutex
	msgs []string
}

func (s *statusLog) Status(msg string) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func (s *statusLog) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return ""
	}
	return s.msgs[len(s.msgs)-1]
}

func TestConsumeDeepLink(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    client.DeepLink
		cleaned string
	}{
		{"plan", "https://agenda.example/?pending=p1&tab=plans", client.DeepLink{PendingID: "p1"}, "https://agenda.example/?tab=plans"},
		{"signature", "https://agenda.example/?signature=s1&plan=plan-1&class=3", client.DeepLink{SignatureID: "s1", PlanID: "plan-1", Ordinal: 3}, "https://agenda.example/"},
		{"none", "https://agenda.example/?tab=plans", client.DeepLink{}, "https://agenda.example/?tab=plans"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, cleaned, err := client.ConsumeDeepLink(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, link)
			assert.Equal(t, tt.cleaned, cleaned)
		})
	}
}

func TestModal_NotFoundIsTerminal(t *testing.T) {
	m := client.NewPlanModal(newFakeBackend(), time.Millisecond, nil)
	require.NoError(t, m.Open(context.Background(), "missing"))

	snap := m.Snapshot()
	assert.Equal(t, client.ModalUnavailable, snap.State)
	assert.Equal(t, client.MsgUnavailable, snap.Status)

	_, err := m.Decide(context.Background(), domain.DecisionAccept)
	assert.ErrorIs(t, err, client.ErrModalNotReady)
}

func TestModal_DecideAndAutoClose(t *testing.T) {
	api := newFakeBackend()
	api.gate = make(chan struct{})
	m := client.NewPlanModal(api, 20*time.Millisecond, nil)
	ctx := context.Background()

	require.NoError(t, m.Open(ctx, "p1"))
	snap := m.Snapshot()
	require.Equal(t, client.ModalReady, snap.State)
	assert.Equal(t, "Ana", snap.Approval.Payload.StudentName)

	done := make(chan error, 1)
	go func() {
		_, err := m.Decide(ctx, domain.DecisionAccept)
		done <- err
	}()
	require.Eventually(t, func() bool { return m.Snapshot().State == client.ModalResolving }, time.Second, time.Millisecond)
	assert.False(t, m.Dismiss(), "dismiss is ignored while resolving")
	assert.ErrorIs(t, m.Open(ctx, "p1"), client.ErrModalBusy)

	close(api.gate)
	require.NoError(t, <-done)
	assert.Equal(t, client.ModalSucceeded, m.Snapshot().State)
	assert.Eventually(t, func() bool { return m.Snapshot().State == client.ModalClosed }, time.Second, 5*time.Millisecond)
}

func TestModal_ListenerCanReadModalBack(t *testing.T) {
	api := newFakeBackend()
	var (
		m    *client.Modal
		mu   sync.Mutex
		seen []client.ModalState
	)
	m = client.NewPlanModal(api, time.Millisecond, func(snap client.ModalSnapshot) {
		current := m.Snapshot()
		mu.Lock()
		seen = append(seen, current.State)
		mu.Unlock()
	})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		if err := m.Open(ctx, "p1"); err != nil {
			done <- err
			return
		}
		_, err := m.Decide(ctx, domain.DecisionAccept)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("modal blocked while notifying its listener")
	}

	require.Eventually(t, func() bool { return m.Snapshot().State == client.ModalClosed }, time.Second, time.Millisecond)
	assert.True(t, m.Dismiss())

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(seen), 5, "loading, ready, resolving, succeeded and closed are all reported")
}

func TestModal_FailedDecisionReturnsToReady(t *testing.T) {
	api := newFakeBackend()
	api.decideErr = &client.APIError{Status: http.StatusConflict, Message: "pending request already resolved"}
	m := client.NewPlanModal(api, time.Millisecond, nil)
	ctx := context.Background()

	require.NoError(t, m.Open(ctx, "p1"))
	_, err := m.Decide(ctx, domain.DecisionReject)
	assert.True(t, client.IsConflict(err))

	snap := m.Snapshot()
	assert.Equal(t, client.ModalReady, snap.State)
	assert.Contains(t, snap.Status, "already resolved")
	assert.True(t, m.Dismiss())
	assert.Equal(t, client.ModalClosed, m.Snapshot().State)
}

func TestWatcher_StopsOnStateChange(t *testing.T) {
	logger.Silence()
	api := newFakeBackend()
	api.setClass(1, domain.SignaturePending, "s1")

	results := make(chan client.WatchResult, 1)
	set := client.NewWatcherSet(api, func(r client.WatchResult) { results <- r },
		client.WithInterval(time.Hour), client.WithMaxAttempts(5))
	w := set.Watch("plan-1", 1, "s1")

	api.setClass(1, domain.SignatureRejected, "")
	require.True(t, set.Poke("s1"))

	select {
	case r := <-results:
		assert.Equal(t, "s1", r.PendingID)
		assert.Equal(t, domain.SignatureRejected, r.Class.SignatureState)
		assert.False(t, r.Signed())
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report")
	}
	<-w.Done()
	assert.Equal(t, 0, set.Active())
}

func TestWatcher_GivesUpSilently(t *testing.T) {
	logger.Silence()
	api := newFakeBackend()
	api.setClass(1, domain.SignaturePending, "s1")

	called := false
	set := client.NewWatcherSet(api, func(client.WatchResult) { called = true },
		client.WithInterval(time.Millisecond), client.WithMaxAttempts(3))
	w := set.Watch("plan-1", 1, "s1")

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.False(t, called)
	api.mu.Lock()
	assert.Equal(t, 3, api.fetches)
	api.mu.Unlock()
}

func TestWatcher_NewWatchCancelsPrevious(t *testing.T) {
	logger.Silence()
	api := newFakeBackend()
	set := client.NewWatcherSet(api, nil, client.WithInterval(time.Hour))

	first := set.Watch("plan-1", 1, "s1")
	second := set.Watch("plan-1", 1, "s2")

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("previous watcher still running")
	}
	assert.False(t, set.Poke("s1"))
	assert.True(t, set.Poke("s2"))
	assert.Equal(t, 1, set.Active())

	set.StopAll()
	<-second.Done()
	assert.Equal(t, 0, set.Active())
}

func TestController_DeepLinkAndRelay(t *testing.T) {
	logger.Silence()
	api := newFakeBackend()
	status := &statusLog{}
	c := client.NewController(api, client.ConfirmFunc(func(context.Context, string) bool { return true }), status,
		client.WithWatcherOptions(client.WithInterval(time.Hour)))
	defer c.Close()
	ctx := context.Background()

	cleaned, err := c.HandleURL(ctx, "https://agenda.example/?pending=p1")
	require.NoError(t, err)
	assert.Equal(t, "https://agenda.example/", cleaned)
	assert.Equal(t, client.ModalReady, c.PlanModal().Snapshot().State)

	err = c.HandleRelayMessage(ctx, relay.Message{
		Type:     relay.TypePlanAction,
		Decision: domain.DecisionAccept,
		Payload:  relay.Payload{PushData: relay.PushData{Type: domain.KindPlanApproval, PendingID: "p1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, client.ModalClosed, c.PlanModal().Snapshot().State)
	assert.Contains(t, status.Last(), "Se aceptó el plan")
}

func TestController_DeepLinkWithPlanAndSignature(t *testing.T) {
	logger.Silence()
	api := newFakeBackend()
	plan := api.plan
	api.sigs = map[string]*client.SignatureDetail{"s1": {
		Pending: pending.Record[domain.SignatureRequest]{
			ID:      "s1",
			Status:  domain.StatusPending,
			Payload: domain.SignatureRequest{PlanID: "plan-1", ClassOrdinal: 1},
		},
		Plan: &plan,
	}}
	c := client.NewController(api, client.ConfirmFunc(func(context.Context, string) bool { return true }), &statusLog{},
		client.WithWatcherOptions(client.WithInterval(time.Hour)))
	defer c.Close()

	cleaned, err := c.HandleURL(context.Background(), "https://agenda.example/?pending=p1&signature=s1&plan=plan-1&class=1")
	require.NoError(t, err)
	assert.Equal(t, "https://agenda.example/", cleaned)
	assert.Equal(t, client.ModalReady, c.PlanModal().Snapshot().State)

	sig := c.SignatureModal().Snapshot()
	assert.Equal(t, client.ModalReady, sig.State)
	assert.Equal(t, "s1", sig.PendingID)

	// an unknown signature still leaves the plan modal usable
	_, err = c.HandleURL(context.Background(), "https://agenda.example/?pending=p1&signature=gone")
	require.NoError(t, err)
	assert.Equal(t, client.ModalReady, c.PlanModal().Snapshot().State)
	assert.Equal(t, client.ModalUnavailable, c.SignatureModal().Snapshot().State)
}

func TestController_ResendRequiresConfirmation(t *testing.T) {
	logger.Silence()
	api := newFakeBackend()
	status := &statusLog{}
	answer := false
	c := client.NewController(api, client.ConfirmFunc(func(context.Context, string) bool { return answer }), status,
		client.WithWatcherOptions(client.WithInterval(time.Hour)))
	defer c.Close()
	ctx := context.Background()

	res, err := c.RequestSignature(ctx, "plan-1", 1)
	require.NoError(t, err)
	api.setClass(1, domain.SignatureRejected, "")
	require.True(t, c.Watchers().Poke(res.PendingID))
	require.Eventually(t, func() bool { return len(c.RejectedClasses()) == 1 }, time.Second, time.Millisecond)

	ok, err := c.ResendRejected(ctx, "plan-1", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, api.requests)

	answer = true
	ok, err = c.ResendRejected(ctx, "plan-1", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, api.requests)
	assert.Empty(t, c.RejectedClasses())

	plan, err := api.GetPlan(ctx, "plan-1")
	require.NoError(t, err)
	answer = false
	deleted, err := c.DeletePlan(ctx, plan)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Empty(t, api.deleted)

	answer = true
	deleted, err = c.DeletePlan(ctx, plan)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []string{"plan-1"}, api.deleted)
	assert.Equal(t, 0, c.Watchers().Active())
}

func TestAPIClient_DecodesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"plan not found"}`))
	}))
	defer srv.Close()

	api := client.NewAPIClient(srv.URL, srv.Client())
	api.SetToken("tok")
	_, err := api.GetPlan(context.Background(), "nope")

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "plan not found", apiErr.Message)
	assert.True(t, client.IsNotFound(err))
}
