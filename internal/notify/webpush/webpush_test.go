package webpush_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"agendapro/agenda-api/internal/config"
	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/notify"
	"agendapro/agenda-api/internal/notify/webpush"
	"agendapro/agenda-api/internal/relay"

	webpushlib "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSubscription(t *testing.T, endpoint string) *domain.PushSubscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return &domain.PushSubscription{
		Endpoint: endpoint,
		Keys: domain.PushKeys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
}

func newSender(t *testing.T, client *http.Client) *webpush.Sender {
	t.Helper()
	priv, pub, err := webpushlib.GenerateVAPIDKeys()
	require.NoError(t, err)
	return webpush.New(config.PushConfig{
		PublicKey:  pub,
		PrivateKey: priv,
		Subscriber: "mailto:ops@agenda.example",
	}, client)
}

func message() notify.Message {
	return notify.Message{
		Kind:        domain.KindPlanApproval,
		PendingID:   "p1",
		Title:       "Confirma el plan de Ana",
		Body:        "Ana · 4 clases",
		URL:         "https://agenda.example/?pending=p1",
		AcceptLabel: "Aceptar",
		RejectLabel: "Rechazar",
	}
}

func TestNotify_StatusHandling(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantErr  bool
		wantGone bool
	}{
		{"created", http.StatusCreated, false, false},
		{"gone", http.StatusGone, true, true},
		{"not found", http.StatusNotFound, true, true},
		{"rate limited", http.StatusTooManyRequests, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				assert.Equal(t, "aes128gcm", r.Header.Get("Content-Encoding"))
				assert.NotEmpty(t, r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			s := newSender(t, srv.Client())
			contact := domain.Contact{Phone: "3001234567", Channel: domain.ChannelPush, Push: newSubscription(t, srv.URL+"/push/abc")}

			err := s.Notify(context.Background(), contact, message())
			assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantGone, errors.Is(err, notify.ErrDestinationGone))
		})
	}
}

func TestNotify_MissingSubscriptionIsGone(t *testing.T) {
	s := newSender(t, nil)
	err := s.Notify(context.Background(), domain.Contact{Phone: "3001234567", Channel: domain.ChannelPush}, message())
	assert.ErrorIs(t, err, notify.ErrDestinationGone)
	assert.Equal(t, domain.ChannelPush, s.Channel())
	assert.NotEmpty(t, s.PublicKey())
}

func TestPayload(t *testing.T) {
	msg := message()
	msg.Kind = domain.KindClassSignature
	msg.PlanID = "plan-1"
	msg.ClassOrdinal = 3

	p := webpush.Payload(msg)
	assert.Equal(t, "class-signature:p1", p.Tag)
	require.Len(t, p.Actions, 2)
	assert.Equal(t, relay.ActionAccept, p.Actions[0].Action)
	assert.Equal(t, relay.ActionReject, p.Actions[1].Action)
	require.NotNil(t, p.RequireInteraction)
	assert.True(t, *p.RequireInteraction)
	assert.Equal(t, relay.PushData{
		Type: domain.KindClassSignature, PendingID: "p1", PlanID: "plan-1", ClassOrdinal: 3,
		URL: "https://agenda.example/?pending=p1",
	}, p.Data)
}
