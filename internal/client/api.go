// Package client is the operator-side reconciliation layer: an HTTP client
// for the API plus the modals, watchers and deep links that keep a page in
// step with decisions made elsewhere.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/pending"
	"agendapro/agenda-api/internal/service"
)

type (
	PlanApproval    = pending.Record[domain.PlanDraft]
	SignatureDetail = service.ClassSignatureDetail
	Outcome         = service.Outcome
)

// APIError is a non-2xx answer decoded from {"error": msg}.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsConflict reports whether err is a 409 from the API.
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// SubmittedApproval is the 202 answer of a plan submission.
type SubmittedApproval struct {
	PendingID string               `json:"pendingId"`
	Status    domain.PendingStatus `json:"status"`
}

// SignatureRequested is the 202 answer of a signature request.
type SignatureRequested struct {
	PendingID string       `json:"pendingId"`
	Plan      *domain.Plan `json:"plan"`
}

// APIClient talks JSON to /api/v1. It implements relay.Decider.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

func NewAPIClient(baseURL string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &APIClient{baseURL: strings.TrimSuffix(baseURL, "/") + "/api/v1", httpClient: httpClient}
}

// SetToken sets the bearer token sent with every request.
func (c *APIClient) SetToken(token string) { c.token = token }

// Login exchanges the operator credentials for a token and keeps it.
func (c *APIClient) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return "", err
	}
	c.token = out.Token
	return out.Token, nil
}

func (c *APIClient) SubmitPlanApproval(ctx context.Context, draft domain.PlanDraft) (*SubmittedApproval, error) {
	var out SubmittedApproval
	if err := c.do(ctx, http.MethodPost, "/plan-approvals", draft, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) GetPlanApproval(ctx context.Context, pendingID string) (*PlanApproval, error) {
	var out PlanApproval
	if err := c.do(ctx, http.MethodGet, "/plan-approvals/"+url.PathEscape(pendingID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) ResolvePlan(ctx context.Context, pendingID string, decision domain.Decision) (*Outcome, error) {
	var out Outcome
	body := map[string]string{"decision": string(decision)}
	if err := c.do(ctx, http.MethodPost, "/plan-approvals/"+url.PathEscape(pendingID)+"/decision", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) DecidePlan(ctx context.Context, pendingID string, decision domain.Decision) error {
	_, err := c.ResolvePlan(ctx, pendingID, decision)
	return err
}

func (c *APIClient) GetPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	var out domain.Plan
	if err := c.do(ctx, http.MethodGet, "/plans/"+url.PathEscape(planID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	var out []domain.Plan
	if err := c.do(ctx, http.MethodGet, "/plans/all", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) SearchPlan(ctx context.Context, term string) (*domain.Plan, error) {
	var out domain.Plan
	if err := c.do(ctx, http.MethodGet, "/plans?term="+url.QueryEscape(term), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) ToggleClass(ctx context.Context, planID string, ordinal int) (*domain.Plan, error) {
	var out domain.Plan
	if err := c.do(ctx, http.MethodPatch, classPath(planID, ordinal), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) DeletePlan(ctx context.Context, planID string) error {
	return c.do(ctx, http.MethodDelete, "/plans/"+url.PathEscape(planID), nil, nil)
}

func (c *APIClient) RequestClassSignature(ctx context.Context, planID string, ordinal int) (*SignatureRequested, error) {
	var out SignatureRequested
	if err := c.do(ctx, http.MethodPost, classPath(planID, ordinal)+"/signature-request", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) GetClassSignature(ctx context.Context, pendingID string) (*SignatureDetail, error) {
	var out SignatureDetail
	if err := c.do(ctx, http.MethodGet, "/class-signatures/"+url.PathEscape(pendingID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) ResolveClassSignature(ctx context.Context, planID string, ordinal int, pendingID string, decision domain.Decision) (*Outcome, error) {
	var out Outcome
	body := map[string]string{"decision": string(decision), "pendingId": pendingID}
	if err := c.do(ctx, http.MethodPost, classPath(planID, ordinal)+"/signature-decision", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) DecideClassSignature(ctx context.Context, planID string, ordinal int, pendingID string, decision domain.Decision) error {
	_, err := c.ResolveClassSignature(ctx, planID, ordinal, pendingID, decision)
	return err
}

// PushPublicKey returns the VAPID key browsers subscribe with.
func (c *APIClient) PushPublicKey(ctx context.Context) (string, error) {
	var out struct {
		PublicKey string `json:"publicKey"`
	}
	if err := c.do(ctx, http.MethodGet, "/push/public-key", nil, &out); err != nil {
		return "", err
	}
	return out.PublicKey, nil
}

func (c *APIClient) RegisterPush(ctx context.Context, phone string, sub domain.PushSubscription) (*domain.Contact, error) {
	var out domain.Contact
	body := map[string]interface{}{"phone": phone, "subscription": sub}
	if err := c.do(ctx, http.MethodPost, "/push/subscriptions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func classPath(planID string, ordinal int) string {
	return "/plans/" + url.PathEscape(planID) + "/classes/" + strconv.Itoa(ordinal)
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
