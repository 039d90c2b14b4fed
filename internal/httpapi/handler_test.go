package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-assistant/internal/app"
	"github.com/nhle/mail-assistant/internal/httpapi"
	"github.com/nhle/mail-assistant/internal/llm"
	"github.com/nhle/mail-assistant/internal/mailbox"
	"github.com/nhle/mail-assistant/internal/model"
	"github.com/nhle/mail-assistant/internal/session"
	"github.com/nhle/mail-assistant/internal/testutil"
	"github.com/nhle/mail-assistant/internal/tools"
)

type stubMailbox struct {
	tools.Mailbox
	address  string
	password string
	fetchErr error
}

func (s *stubMailbox) Address() string { return s.address }

func (s *stubMailbox) Verify(context.Context) error {
	if s.password != "secret" {
		return &mailbox.AuthError{Username: s.address, Err: errors.New("invalid credentials")}
	}
	return nil
}

func (s *stubMailbox) Fetch(context.Context, int, string) ([]model.Message, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return []model.Message{{ID: "7", Sender: "ann@example.com", Subject: "Lunch"}}, nil
}

type echoModel struct{}

func (echoModel) Name() string { return "echo-1" }

func (echoModel) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	last := req.Contents[len(req.Contents)-1]
	c := llm.NewTextContent(llm.RoleModel, "echo: "+last.Text())
	return &llm.Response{Candidates: []llm.Candidate{{Content: &c}}}, nil
}

func newTestServer(t *testing.T, fetchErr error) http.Handler {
	t.Helper()

	cfg := &model.AppConfig{
		AI:    model.AIConfig{Provider: "gemini", TimeoutSec: 5},
		Agent: model.AgentConfig{MaxRounds: 5, HistoryCap: 30, HistoryWindow: 20},
	}
	manager := session.NewManager(func(address, password string) session.Mailbox {
		return &stubMailbox{address: address, password: password, fetchErr: fetchErr}
	})
	svc := app.NewService(cfg, manager, testutil.NewTestStore(t),
		app.WithModelFactory(func(context.Context, llm.Config) (llm.Model, error) {
			return echoModel{}, nil
		}),
	)
	return httpapi.NewServer(svc)
}

func do(t *testing.T, h http.Handler, method, path, sessionID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func login(t *testing.T, h http.Handler) string {
	t.Helper()
	w := do(t, h, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "me@example.com", "password": "secret",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode(t, w)
	assert.Equal(t, "success", out["status"])
	id, _ := out["session_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealthz(t *testing.T) {
	w := do(t, newTestServer(t, nil), http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestLoginFailure(t *testing.T) {
	w := do(t, newTestServer(t, nil), http.MethodPost, "/auth/login", "", map[string]string{
		"email": "me@example.com", "password": "nope",
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, decode(t, w)["error"], "invalid credentials")
}

func TestLoginSetsCookie(t *testing.T) {
	h := newTestServer(t, nil)
	w := do(t, h, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "me@example.com", "password": "secret",
	})
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "session_id", cookies[0].Name)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, true, decode(t, rec)["authenticated"])
}

func TestStatusAndLogout(t *testing.T) {
	h := newTestServer(t, nil)

	out := decode(t, do(t, h, http.MethodGet, "/api/status", "", nil))
	assert.Equal(t, false, out["authenticated"])

	id := login(t, h)
	out = decode(t, do(t, h, http.MethodGet, "/api/status", id, nil))
	assert.Equal(t, true, out["authenticated"])
	assert.Equal(t, "me@example.com", out["email"])
	assert.Equal(t, false, out["has_gemini_key"])

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/auth/logout", id, nil).Code)
	out = decode(t, do(t, h, http.MethodGet, "/api/status", id, nil))
	assert.Equal(t, false, out["authenticated"])
}

func TestEndpointsRequireSession(t *testing.T) {
	h := newTestServer(t, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/emails"},
		{http.MethodGet, "/api/activity"},
		{http.MethodPost, "/api/history/clear"},
	} {
		w := do(t, h, tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, tc.path)
	}

	w := do(t, h, http.MethodPost, "/api/agent", "", map[string]string{"command": "hi"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Please login first", decode(t, w)["error"])
}

func TestEmails(t *testing.T) {
	h := newTestServer(t, nil)
	id := login(t, h)

	w := do(t, h, http.MethodGet, "/api/emails", id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	emails := decode(t, w)["emails"].([]any)
	require.Len(t, emails, 1)
	assert.Equal(t, "Lunch", emails[0].(map[string]any)["subject"])
}

func TestEmailsFailureReturnsEmptyList(t *testing.T) {
	h := newTestServer(t, &mailbox.TransportError{Op: "fetch", Err: errors.New("connection reset")})
	id := login(t, h)

	w := do(t, h, http.MethodGet, "/api/emails", id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	assert.Equal(t, []any{}, out["emails"])
	assert.Contains(t, out["error"], "connection reset")
}

func TestAgentFlow(t *testing.T) {
	h := newTestServer(t, nil)
	id := login(t, h)

	out := decode(t, do(t, h, http.MethodPost, "/api/agent", id, map[string]string{"command": "hi"}))
	assert.Equal(t, "error", out["type"])
	assert.Equal(t, "Gemini API Key is missing. Please add it in settings.", out["message"])

	w := do(t, h, http.MethodPost, "/api/settings/gemini", id, map[string]string{"key": "k"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, do(t, h, http.MethodGet, "/api/status", id, nil))["has_gemini_key"])

	out = decode(t, do(t, h, http.MethodPost, "/api/agent", id, map[string]string{"command": "hello"}))
	assert.Equal(t, "response", out["type"])
	assert.Equal(t, "echo: hello", out["message"])

	out = decode(t, do(t, h, http.MethodGet, "/api/status", id, nil))
	assert.Equal(t, float64(2), out["history_turns"])

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/history/clear", id, nil).Code)
	out = decode(t, do(t, h, http.MethodGet, "/api/status", id, nil))
	assert.Equal(t, float64(0), out["history_turns"])
}

func TestAgentRejectsBadBody(t *testing.T) {
	h := newTestServer(t, nil)
	id := login(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/agent", bytes.NewReader([]byte("{")))
	req.Header.Set("X-Session-ID", id)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/agent", id, map[string]string{"command": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActivityLimitValidation(t *testing.T) {
	h := newTestServer(t, nil)
	id := login(t, h)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/activity?limit=x", id, nil).Code)

	w := do(t, h, http.MethodGet, "/api/activity?limit=5", id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decode(t, w)["activity"])
}

func TestCORSPreflight(t *testing.T) {
	w := do(t, newTestServer(t, nil), http.MethodOptions, "/api/agent", "", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Session-ID")
}
