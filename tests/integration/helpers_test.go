//go:build integration

package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/escalation/webhook"
	"github.com/bissquit/wastewatch/internal/testutil"
	"github.com/stretchr/testify/require"
)

func createIncident(t *testing.T, client *testutil.Client, severity string) domain.Incident {
	t.Helper()

	resp, err := client.POST("/api/v1/incidents", map[string]interface{}{
		"location": map[string]float64{"lat": 19.076, "lng": 72.8777},
		"type":     "Illegal Dumping",
		"severity": severity,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var incident domain.Incident
	testutil.DecodeData(t, resp, &incident)
	return incident
}

func createTeam(t *testing.T, client *testutil.Client, name string) domain.Crew {
	t.Helper()

	resp, err := client.POST("/api/v1/teams", map[string]string{"name": name, "location": "Andheri"})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var crew domain.Crew
	testutil.DecodeData(t, resp, &crew)
	return crew
}

func onboardContractor(t *testing.T, client *testutil.Client, name string, limit float64) domain.Contractor {
	t.Helper()

	resp, err := client.POST("/api/v1/users", map[string]interface{}{
		"name":         name,
		"license_type": "Class B",
		"waste_limit":  limit,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var contractor domain.Contractor
	testutil.DecodeData(t, resp, &contractor)
	return contractor
}

func getIncident(t *testing.T, client *testutil.Client, id string) domain.Incident {
	t.Helper()

	resp, err := client.GET("/api/v1/incidents/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var incident domain.Incident
	testutil.DecodeData(t, resp, &incident)
	return incident
}

func getStats(t *testing.T, client *testutil.Client) domain.IncidentStats {
	t.Helper()

	resp, err := client.GET("/api/v1/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats domain.IncidentStats
	testutil.DecodeData(t, resp, &stats)
	return stats
}

// delivery is one webhook call captured by webhookRecorder.
type delivery struct {
	Subject    string            `json:"subject"`
	Text       string            `json:"text"`
	Escalation domain.Escalation `json:"escalation"`
	SignedOK   bool              `json:"-"`
}

// webhookRecorder is the escalation webhook endpoint used by the app under test.
type webhookRecorder struct {
	*httptest.Server
	secret string

	mu         sync.Mutex
	deliveries []delivery
}

func newWebhookRecorder(secret string) *webhookRecorder {
	rec := &webhookRecorder{secret: secret}
	rec.Server = httptest.NewServer(http.HandlerFunc(rec.handle))
	return rec
}

func (r *webhookRecorder) handle(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var d delivery
	if err := json.Unmarshal(body, &d); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	d.SignedOK = req.Header.Get(webhook.SignatureHeader) == webhook.Sign(body, r.secret)

	r.mu.Lock()
	r.deliveries = append(r.deliveries, d)
	r.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// forIncident returns deliveries for the incident.
func (r *webhookRecorder) forIncident(incidentID string) []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []delivery
	for _, d := range r.deliveries {
		if d.Escalation.IncidentID == incidentID {
			out = append(out, d)
		}
	}
	return out
}

// waitForEscalation blocks until the incident's escalation reaches the webhook.
func waitForEscalation(t *testing.T, incidentID string) delivery {
	t.Helper()

	var found []delivery
	require.Eventually(t, func() bool {
		found = testHook.forIncident(incidentID)
		return len(found) > 0
	}, 10*time.Second, 50*time.Millisecond, "no escalation delivered for incident %s", incidentID)

	return found[0]
}
