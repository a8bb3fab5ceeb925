//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"

	"github.com/bissquit/wastewatch/internal/coordination"
	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detectionBody(fill float64, contractorID string) map[string]interface{} {
	body := map[string]interface{}{
		"detections": []map[string]interface{}{
			{"label": "Plastic Bag", "confidence": 0.91, "box": map[string]float64{"x1": 10, "y1": 10, "x2": 200, "y2": 150}},
			{"label": "cardboard", "confidence": 0.64},
		},
		"fill_percentage": fill,
		"location":        map[string]float64{"lat": 28.6139, "lng": 77.209},
		"type":            "Roadside Dumping",
	}
	if contractorID != "" {
		body["contractor_id"] = contractorID
	}
	return body
}

func TestDetections_IngestChargesContractorAndEscalates(t *testing.T) {
	client := newTestClient(t)
	contractor := onboardContractor(t, client, "Dumpers Ltd", 10000)

	resp, err := client.POST("/api/v1/detections", detectionBody(85, contractor.ID))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result coordination.IngestResult
	testutil.DecodeData(t, resp, &result)

	assert.True(t, result.IncidentCreated)
	assert.True(t, result.DetectionAttached)
	assert.True(t, result.ComplianceRecorded)
	assert.True(t, result.Escalated)
	require.NotNil(t, result.Incident)
	assert.Equal(t, domain.SeverityHigh, result.Incident.Severity)
	require.NotNil(t, result.Incident.Detection)
	assert.Equal(t, "plastic-bag", result.Incident.Detection.Detections[0].Class)

	// The incident and its detection survive a round trip through the database.
	stored := getIncident(t, client, result.Incident.ID)
	require.NotNil(t, stored.Detection)
	assert.InDelta(t, 85, stored.Detection.FillPercentage, 0.01)
	require.NotNil(t, stored.ContractorID)
	assert.Equal(t, contractor.ID, *stored.ContractorID)

	resp, err = client.GET("/api/v1/users/" + contractor.ID)
	require.NoError(t, err)
	var charged domain.Contractor
	testutil.DecodeData(t, resp, &charged)
	assert.InDelta(t, stored.Detection.EstimatedWeight*1000, charged.CurrentWaste, 0.001)
	require.Len(t, charged.History, 1)
	assert.Equal(t, domain.LegalityIllegal, charged.History[0].Legality)
	assert.Equal(t, "Roadside Dumping", charged.History[0].DisposalType)

	d := waitForEscalation(t, result.Incident.ID)
	assert.True(t, d.SignedOK, "webhook body must carry a valid signature")
	assert.Equal(t, domain.SeverityHigh, d.Escalation.Severity)
	assert.Contains(t, d.Escalation.Reasons, "high_severity")
	assert.Contains(t, d.Subject, "Roadside Dumping")
}

func TestDetections_ContractorWarningEscalates(t *testing.T) {
	client := newTestClient(t)
	// 50% fill loads 6 t, past 80% of a 7 t allowance.
	contractor := onboardContractor(t, client, "Near Limit Hauling", 7000)

	resp, err := client.POST("/api/v1/detections", detectionBody(50, contractor.ID))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result coordination.IngestResult
	testutil.DecodeData(t, resp, &result)
	assert.Equal(t, domain.SeverityMedium, result.Incident.Severity)
	assert.True(t, result.Escalated)

	d := waitForEscalation(t, result.Incident.ID)
	assert.Equal(t, []string{"contractor_warning"}, d.Escalation.Reasons)
	require.NotNil(t, d.Escalation.ContractorID)
	assert.Equal(t, contractor.ID, *d.Escalation.ContractorID)

	var status string
	err = testDB.QueryRow(context.Background(), "SELECT status FROM contractors WHERE id = $1", contractor.ID).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, string(domain.ContractorStatusWarning), status)
}

func TestDetections_UnknownContractorIsPartial(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.POST("/api/v1/detections", detectionBody(20, "no-such-contractor"))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result coordination.IngestResult
	testutil.DecodeData(t, resp, &result)
	assert.True(t, result.IncidentCreated)
	assert.True(t, result.DetectionAttached)
	assert.False(t, result.ComplianceRecorded)
	assert.NotEmpty(t, result.ComplianceError)
	assert.False(t, result.Complete())

	assert.Equal(t, domain.IncidentStatusOpen, getIncident(t, client, result.Incident.ID).Status)
}

func TestDetections_MalformedStoresNothing(t *testing.T) {
	client := newTestClientWithoutValidation()
	before := getStats(t, newTestClient(t))

	resp, err := client.POST("/api/v1/detections", map[string]interface{}{
		"detections": []map[string]interface{}{{"label": "", "confidence": 0.5}},
		"location":   map[string]float64{"lat": 1, "lng": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	after := getStats(t, newTestClient(t))
	assert.Equal(t, before.TotalIncidents, after.TotalIncidents)
}

func TestDetections_ImageUploadWithoutModel(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.POSTMultipart("/api/v1/detect",
		map[string]string{"lat": "12.97", "lng": "77.59"}, "dump.jpg", []byte("\xff\xd8\xff\xe0 not really a jpeg"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, testutil.DecodeError(t, resp).Error.Message, "detector unavailable")
}
