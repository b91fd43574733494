package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"agendapro/agenda-api/internal/api"
	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/notify"
	"agendapro/agenda-api/internal/notify/notifytest"
	"agendapro/agenda-api/internal/pending"
	"agendapro/agenda-api/internal/repository/memory"
	"agendapro/agenda-api/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "test-secret"
	testOperator = "diana"
	testPassword = "clave-segura"
	guardian     = "3001234567"
)

type fakeValidator struct{ ok bool }

func (f fakeValidator) ValidateWebhook(string, map[string]string, string) bool { return f.ok }

type server struct {
	router *gin.Engine
	push   *notifytest.Recorder
	token  string
}

type serverOption func(*api.Deps)

func newServer(t *testing.T, opts ...serverOption) *server {
	t.Helper()
	logger.Silence()
	gin.SetMode(gin.TestMode)

	plans := memory.NewPlanRepository()
	contacts := memory.NewContactRepository()
	approvals := pending.NewRegistry[domain.PlanDraft](domain.KindPlanApproval, pending.NewMemoryStore[domain.PlanDraft](), time.Hour)
	signatures := pending.NewRegistry[domain.SignatureRequest](domain.KindClassSignature, pending.NewMemoryStore[domain.SignatureRequest](), time.Hour)
	push := notifytest.NewRecorder(domain.ChannelPush)
	dispatcher := notify.NewDispatcher(contacts, approvals, signatures, notify.NewMessageBuilder("https://agenda.example", "Diana"), push)
	locks := service.NewKeyedLocks()

	auth, err := service.NewAuthService(testOperator, testPassword, testSecret, time.Hour)
	require.NoError(t, err)

	deps := api.Deps{
		JWTSecret:     testSecret,
		Auth:          auth,
		Plans:         service.NewPlanService(plans, contacts, approvals, signatures, dispatcher, locks),
		Resolver:      service.NewResolver(plans, approvals, signatures, service.NewDecisionArchive(nil), locks),
		Contacts:      service.NewContactService(contacts, dispatcher, "57"),
		PushPublicKey: "BPublicKey",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	router := gin.New()
	api.SetupRoutes(router, deps)
	s := &server{router: router, push: push}

	w := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": testOperator, "password": testPassword})
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	s.token = out.Token
	return s
}

func (s *server) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func planBody() map[string]interface{} {
	return map[string]interface{}{
		"studentName":   "Ana",
		"age":           9,
		"guardianName":  "Laura",
		"guardianPhone": guardian,
		"planType":      4,
		"weekdays":      []string{"lunes", "Miercoles"},
		"startTime":     "15:00",
	}
}

func (s *server) registerPush(t *testing.T) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/push/subscriptions", map[string]interface{}{
		"phone": guardian,
		"subscription": map[string]interface{}{
			"endpoint": "https://push.example/abc",
			"keys":     map[string]string{"p256dh": "key", "auth": "secret"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

// approvedPlan runs the submit and accept round trip and returns the plan.
func (s *server) approvedPlan(t *testing.T) domain.Plan {
	t.Helper()
	s.registerPush(t)
	w := s.do(t, http.MethodPost, "/api/v1/plan-approvals", planBody())
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	sub := decode[api.SubmittedApprovalResponse](t, w)

	w = s.do(t, http.MethodPost, "/api/v1/plan-approvals/"+sub.PendingID+"/decision", map[string]string{"decision": "accept"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[service.Outcome](t, w)
	require.NotNil(t, out.Plan)
	return *out.Plan
}

func TestLogin(t *testing.T) {
	s := newServer(t)
	s.token = ""

	w := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": testOperator, "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": testOperator})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	s := newServer(t)
	s.token = ""
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/plans/all", nil).Code)

	s.token = "not-a-jwt"
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/plans/all", nil).Code)
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ping", nil).Code)
}

func TestPlanApproval_RoundTrip(t *testing.T) {
	s := newServer(t)
	s.registerPush(t)

	w := s.do(t, http.MethodPost, "/api/v1/plan-approvals", planBody())
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	sub := decode[api.SubmittedApprovalResponse](t, w)
	assert.Equal(t, domain.StatusPending, sub.Status)

	msg, ok := s.push.Last()
	require.True(t, ok)
	assert.Equal(t, sub.PendingID, msg.PendingID)

	// a second approval for the same guardian waits for the first
	w = s.do(t, http.MethodPost, "/api/v1/plan-approvals", planBody())
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/plan-approvals/"+sub.PendingID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[pending.Record[domain.PlanDraft]](t, w)
	assert.Equal(t, []string{"lunes", "miércoles"}, rec.Payload.Weekdays)

	w = s.do(t, http.MethodPost, "/api/v1/plan-approvals/"+sub.PendingID+"/decision", map[string]string{"decision": "si"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[service.Outcome](t, w)
	assert.Equal(t, domain.StatusAccepted, out.Status)
	require.NotNil(t, out.Plan)
	require.Len(t, out.Plan.Classes, 4)
	for _, c := range out.Plan.Classes {
		assert.False(t, c.Completed)
		assert.Equal(t, domain.SignatureNone, c.SignatureState)
	}

	// first writer wins
	w = s.do(t, http.MethodPost, "/api/v1/plan-approvals/"+sub.PendingID+"/decision", map[string]string{"decision": "reject"})
	assert.Contains(t, []int{http.StatusNotFound, http.StatusConflict}, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/plans/all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]domain.Plan](t, w), 1)
}

func TestPlanApproval_Validation(t *testing.T) {
	s := newServer(t)
	s.registerPush(t)

	body := planBody()
	body["weekdays"] = []string{"lunes", "funday"}
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/plan-approvals", body).Code)

	body = planBody()
	body["startTime"] = "25:00"
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/plan-approvals", body).Code)

	body = planBody()
	body["guardianPhone"] = "123"
	w := s.do(t, http.MethodPost, "/api/v1/plan-approvals", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "guardianPhone")

	w = s.do(t, http.MethodPost, "/api/v1/plan-approvals/unknown/decision", map[string]string{"decision": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlanApproval_ContactRequired(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/plan-approvals", planBody())
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, s.push.Sent())
}

func TestPlanApproval_DispatchFailure(t *testing.T) {
	s := newServer(t)
	s.registerPush(t)

	s.push.FailWith(errors.New("push service down"))
	assert.Equal(t, http.StatusBadGateway, s.do(t, http.MethodPost, "/api/v1/plan-approvals", planBody()).Code)

	// the failed attempt left nothing open
	s.push.FailWith(nil)
	assert.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/v1/plan-approvals", planBody()).Code)
}

func TestPlanApproval_GoneContactIsDropped(t *testing.T) {
	s := newServer(t)
	s.registerPush(t)

	s.push.FailWith(notify.ErrDestinationGone)
	assert.Equal(t, http.StatusGone, s.do(t, http.MethodPost, "/api/v1/plan-approvals", planBody()).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/contacts/"+guardian, nil).Code)
}

func TestPlans_SearchToggleDelete(t *testing.T) {
	s := newServer(t)
	plan := s.approvedPlan(t)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/plans", nil).Code)

	w := s.do(t, http.MethodGet, "/api/v1/plans?term="+url.QueryEscape("ana"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, plan.ID, decode[domain.Plan](t, w).ID)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/plans?term=zzz", nil).Code)

	w = s.do(t, http.MethodPatch, "/api/v1/plans/"+plan.ID+"/classes/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	toggled := decode[domain.Plan](t, w)
	assert.True(t, toggled.Classes[1].Completed)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPatch, "/api/v1/plans/"+plan.ID+"/classes/x", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPatch, "/api/v1/plans/"+plan.ID+"/classes/9", nil).Code)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/v1/plans/"+plan.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/plans/"+plan.ID, nil).Code)
}

func TestClassSignature_Flow(t *testing.T) {
	s := newServer(t)
	plan := s.approvedPlan(t)
	base := "/api/v1/plans/" + plan.ID + "/classes/1"

	w := s.do(t, http.MethodPost, base+"/signature-request", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	req := decode[api.SignatureRequestedResponse](t, w)
	require.NotEmpty(t, req.PendingID)
	assert.Equal(t, domain.SignaturePending, req.Plan.Classes[0].SignatureState)

	// one open request per class
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, base+"/signature-request", nil).Code)

	w = s.do(t, http.MethodGet, "/api/v1/class-signatures/"+req.PendingID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[service.ClassSignatureDetail](t, w)
	assert.Equal(t, 1, detail.Class.Ordinal)

	// wrong class for this request
	w = s.do(t, http.MethodPost, "/api/v1/plans/"+plan.ID+"/classes/2/signature-decision",
		map[string]string{"decision": "accept", "pendingId": req.PendingID})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, base+"/signature-decision", map[string]string{"decision": "accept", "pendingId": req.PendingID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[service.Outcome](t, w)
	require.NotNil(t, out.Plan)
	class := out.Plan.Classes[0]
	assert.True(t, class.Completed)
	assert.Equal(t, domain.SignatureSigned, class.SignatureState)
	assert.Empty(t, class.SignaturePendingID)

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, base+"/signature-request", nil).Code)
}

func TestContacts(t *testing.T) {
	s := newServer(t)
	s.registerPush(t)

	w := s.do(t, http.MethodGet, "/api/v1/contacts/"+guardian, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ChannelPush, decode[domain.Contact](t, w).Channel)

	w = s.do(t, http.MethodPost, "/api/v1/push/subscriptions", map[string]interface{}{
		"phone":        guardian,
		"subscription": map[string]interface{}{"endpoint": "http://insecure.example"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// only push is configured in this server
	w = s.do(t, http.MethodPost, "/api/v1/contacts/whatsapp", map[string]interface{}{"phone": guardian, "optIn": true})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = s.do(t, http.MethodPost, "/api/v1/contacts/email", map[string]string{"phone": guardian, "email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/v1/contacts/"+guardian, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/contacts/"+guardian, nil).Code)
}

func TestPushPublicKey(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodGet, "/api/v1/push/public-key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"publicKey":"BPublicKey"}`, w.Body.String())

	s = newServer(t, func(d *api.Deps) { d.PushPublicKey = "" })
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/api/v1/push/public-key", nil).Code)
}

func TestReceiptWithoutArchive(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/api/v1/decisions/abc/receipt", nil).Code)
}

func postForm(s *server, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "sig")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestWhatsAppWebhook(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		s := newServer(t)
		assert.Equal(t, http.StatusServiceUnavailable, postForm(s, url.Values{"Body": {"SI"}}).Code)
	})

	t.Run("bad signature", func(t *testing.T) {
		s := newServer(t, func(d *api.Deps) { d.WhatsApp = fakeValidator{ok: false} })
		assert.Equal(t, http.StatusForbidden, postForm(s, url.Values{"Body": {"SI"}}).Code)
	})

	t.Run("button resolves the named request", func(t *testing.T) {
		s := newServer(t, func(d *api.Deps) { d.WhatsApp = fakeValidator{ok: true} })
		s.registerPush(t)
		w := s.do(t, http.MethodPost, "/api/v1/plan-approvals", planBody())
		require.Equal(t, http.StatusAccepted, w.Code)
		sub := decode[api.SubmittedApprovalResponse](t, w)

		w = postForm(s, url.Values{"From": {"whatsapp:+57" + guardian}, "ButtonPayload": {"accept:" + sub.PendingID}})
		assert.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, http.MethodGet, "/api/v1/plans/all", nil)
		assert.Len(t, decode[[]domain.Plan](t, w), 1)

		// a repeated tap is acknowledged without effect
		w = postForm(s, url.Values{"From": {"whatsapp:+57" + guardian}, "ButtonPayload": {"accept:" + sub.PendingID}})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("free text resolves the latest request", func(t *testing.T) {
		s := newServer(t, func(d *api.Deps) { d.WhatsApp = fakeValidator{ok: true} })
		s.registerPush(t)
		require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/v1/plan-approvals", planBody()).Code)

		w := postForm(s, url.Values{"From": {"whatsapp:+57" + guardian}, "Body": {"No"}})
		assert.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, http.MethodGet, "/api/v1/plans/all", nil)
		assert.Empty(t, decode[[]domain.Plan](t, w))
	})

	t.Run("chatter is ignored", func(t *testing.T) {
		s := newServer(t, func(d *api.Deps) { d.WhatsApp = fakeValidator{ok: true} })
		assert.Equal(t, http.StatusOK, postForm(s, url.Values{"Body": {"hola"}}).Code)
	})
}
