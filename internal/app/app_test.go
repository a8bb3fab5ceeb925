package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/wastewatch/internal/config"
	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()

	cfg := config.Default()
	cfg.Log.Level = "error"
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())

	a, err := New(&cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func serve(a *App, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	return rec
}

func TestApp_HealthEndpoints(t *testing.T) {
	a := newTestApp(t, nil)

	rec := serve(a, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(a, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(a, http.MethodGet, "/version", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Contains(t, v, "version")
	assert.Contains(t, v, "commit")
}

func TestApp_OpenRoutesWithoutAuth(t *testing.T) {
	a := newTestApp(t, nil)

	rec := serve(a, http.MethodPost, "/api/v1/teams", `{"name":"Alpha"}`, "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(a, http.MethodGet, "/api/v1/teams", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Alpha")
}

func TestApp_RoleGuards(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.SecretKey = "test-secret"
	})

	auth, err := identity.NewAuthenticator(identity.Config{
		SecretKey: "test-secret",
		TokenTTL:  time.Hour,
		Issuer:    config.Default().Auth.Issuer,
	})
	require.NoError(t, err)

	token := func(role domain.Role) string {
		tok, err := auth.IssueToken("tester", role)
		require.NoError(t, err)
		return tok
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"public read needs no token", http.MethodGet, "/api/v1/incidents", "", "", http.StatusOK},
		{"operator route without token", http.MethodPost, "/api/v1/incidents", `{}`, "", http.StatusUnauthorized},
		{"operator route with garbage token", http.MethodPost, "/api/v1/incidents", `{}`, "garbage", http.StatusUnauthorized},
		{"operator route as viewer", http.MethodPost, "/api/v1/incidents", `{}`, token(domain.RoleViewer), http.StatusForbidden},
		{"operator route as operator", http.MethodPost, "/api/v1/incidents",
			`{"location":{"lat":19.07,"lng":72.87},"type":"Dumping"}`, token(domain.RoleOperator), http.StatusCreated},
		{"admin route as operator", http.MethodPost, "/api/v1/teams", `{"name":"Alpha"}`, token(domain.RoleOperator), http.StatusForbidden},
		{"admin route as admin", http.MethodPost, "/api/v1/teams", `{"name":"Alpha"}`, token(domain.RoleAdmin), http.StatusCreated},
		{"detection route without token", http.MethodPost, "/api/v1/detections", `{}`, "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(a, tt.method, tt.path, tt.body, tt.token)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestApp_DetectionRoutesRateLimited(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerSecond = 0.001
		cfg.RateLimit.Burst = 1
	})

	first := serve(a, http.MethodPost, "/api/v1/detections", `{}`, "")
	assert.NotEqual(t, http.StatusTooManyRequests, first.Code)

	second := serve(a, http.MethodPost, "/api/v1/detections", `{}`, "")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// Non-detection routes share no bucket with detections.
	rec := serve(a, http.MethodGet, "/api/v1/stats", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApp_HighSeverityReportReachesWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		received []map[string]interface{}
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		received = append(received, body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(hook.Close)

	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Escalation.Enabled = true
		cfg.Escalation.Webhook.URL = hook.URL
		cfg.Escalation.Worker.PollInterval = 10 * time.Millisecond
	})
	require.NotNil(t, a.EscalationWorker())

	rec := serve(a, http.MethodPost, "/api/v1/incidents",
		`{"location":{"lat":51.5,"lng":-0.12},"type":"Hazardous Waste","severity":"high"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	esc, ok := received[0]["escalation"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "high", esc["severity"])
	assert.Equal(t, []interface{}{"high_severity"}, esc["reasons"])
}

func TestApp_EscalationWithoutChannelsIsDisabled(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Escalation.Enabled = true
	})
	assert.Nil(t, a.EscalationWorker())

	rec := serve(a, http.MethodPost, "/api/v1/incidents",
		`{"location":{"lat":51.5,"lng":-0.12},"severity":"high"}`, "")
	assert.Equal(t, http.StatusCreated, rec.Code)
}
