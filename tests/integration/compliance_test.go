//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/bissquit/wastewatch/internal/coordination"
	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompliance_LedgerRoundTrip(t *testing.T) {
	client := newTestClient(t)
	contractor := onboardContractor(t, client, "Green Haulers", 1000)
	assert.Equal(t, domain.ContractorStatusCompliant, contractor.Status)
	assert.Empty(t, contractor.History)

	resp, err := client.POST("/api/v1/users/"+contractor.ID+"/usage", map[string]interface{}{
		"amount_kg":     850,
		"disposal_type": "Construction Debris",
		"legality":      "legal",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated domain.Contractor
	testutil.DecodeData(t, resp, &updated)
	assert.Equal(t, domain.ContractorStatusWarning, updated.Status)
	assert.InDelta(t, 850, updated.CurrentWaste, 0.001)
	require.Len(t, updated.History, 1)

	resp, err = client.POST("/api/v1/users/"+contractor.ID+"/fines", map[string]interface{}{
		"amount": 250,
		"reason": "Dumping outside permitted zone",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = client.POST("/api/v1/users/"+contractor.ID+"/credit", map[string]int{"delta": -4})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.DecodeData(t, resp, &updated)
	assert.Equal(t, 0, updated.CreditScore)
	assert.Contains(t, updated.Tags, "Low Credit")

	// Everything above is read back from the database.
	resp, err = client.GET("/api/v1/users/" + contractor.ID)
	require.NoError(t, err)
	var stored domain.Contractor
	testutil.DecodeData(t, resp, &stored)
	assert.InDelta(t, 250, stored.FinesTotal, 0.001)
	assert.Equal(t, domain.ContractorStatusWarning, stored.Status)
	require.Len(t, stored.History, 1)
	assert.Equal(t, "Construction Debris", stored.History[0].DisposalType)

	resp, err = client.GET("/api/v1/users/" + contractor.ID + "/fines")
	require.NoError(t, err)
	var fines []domain.Fine
	testutil.DecodeData(t, resp, &fines)
	require.Len(t, fines, 1)
	assert.Equal(t, "Dumping outside permitted zone", fines[0].Reason)

	resp, err = client.GET("/api/v1/users/" + contractor.ID + "/compliance")
	require.NoError(t, err)
	var prediction coordination.CompliancePrediction
	testutil.DecodeData(t, resp, &prediction)
	// 0.6 * 15 (usage headroom) + 0.4 * 0 (credit)
	assert.InDelta(t, 9.0, prediction.Probability, 0.001)
}

func TestCompliance_Validation(t *testing.T) {
	client := newTestClientWithoutValidation()
	contractor := onboardContractor(t, newTestClient(t), "Validated Hauling", 500)

	tests := []struct {
		name string
		path string
		body interface{}
		want int
	}{
		{"onboard without limit", "/api/v1/users", map[string]string{"name": "No Limit"}, http.StatusBadRequest},
		{"negative usage", "/api/v1/users/" + contractor.ID + "/usage", map[string]float64{"amount_kg": -1}, http.StatusBadRequest},
		{"unknown legality", "/api/v1/users/" + contractor.ID + "/usage", map[string]interface{}{"amount_kg": 1, "legality": "maybe"}, http.StatusBadRequest},
		{"fractional credit score", "/api/v1/users", map[string]interface{}{"name": "Half Score", "waste_limit": 100, "credit_score": 2.5}, http.StatusBadRequest},
		{"fractional credit delta", "/api/v1/users/" + contractor.ID + "/credit", map[string]float64{"delta": 0.25}, http.StatusBadRequest},
		{"zero fine", "/api/v1/users/" + contractor.ID + "/fines", map[string]float64{"amount": 0}, http.StatusBadRequest},
		{"usage for unknown contractor", "/api/v1/users/missing/usage", map[string]float64{"amount_kg": 1}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.POST(tt.path, tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			_ = resp.Body.Close()
		})
	}
}
