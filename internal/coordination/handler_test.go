package coordination

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/testutil"
	"github.com/bissquit/wastewatch/internal/vision"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAPISpecPath = "../../api/openapi/openapi.yaml"

func newTestServer(t *testing.T) (*testutil.Client, *fixture) {
	t.Helper()

	f := newFixture(t)
	h := NewHandler(f.service, 1<<20)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		h.RegisterPublicRoutes(r)
		h.RegisterOperatorRoutes(r)
		h.RegisterDetectionRoutes(r)
		h.RegisterAdminRoutes(r)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return testutil.NewClientWithValidation(t, srv.URL, openAPISpecPath), f
}

func createIncident(t *testing.T, client *testutil.Client) domain.Incident {
	t.Helper()
	resp, err := client.POST("/api/v1/incidents", map[string]interface{}{
		"location": map[string]float64{"lat": 19.076, "lng": 72.8777},
		"type":     "Illegal Dumping",
		"severity": "medium",
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

func TestHandler_DispatchFlow(t *testing.T) {
	client, _ := newTestServer(t)

	incident := createIncident(t, client)
	alpha := createTeam(t, client, "Alpha")
	bravo := createTeam(t, client, "Bravo")
	assert.Equal(t, domain.IncidentStatusOpen, incident.Status)

	resp, err := client.POST("/api/v1/incidents/"+incident.ID+"/assign", map[string]string{"crew_id": alpha.ID})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var assignment domain.Assignment
	testutil.DecodeData(t, resp, &assignment)
	assert.Equal(t, alpha.ID, assignment.CrewID)

	t.Run("second crew is rejected with a reason", func(t *testing.T) {
		client.SetT(t)
		resp, err := client.POST("/api/v1/incidents/"+incident.ID+"/assign", map[string]string{"crew_id": bravo.ID})
		require.NoError(t, err)
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		body := testutil.DecodeError(t, resp)
		assert.Equal(t, "incident_not_open", body.Error.Code)
	})

	client.SetT(t)
	resp, err = client.GET("/api/v1/assignments")
	require.NoError(t, err)
	var assignments []domain.Assignment
	testutil.DecodeData(t, resp, &assignments)
	require.Len(t, assignments, 1)

	resp, err = client.POST("/api/v1/incidents/"+incident.ID+"/complete", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resolved domain.Incident
	testutil.DecodeData(t, resp, &resolved)
	assert.Equal(t, domain.IncidentStatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)

	resp, err = client.POST("/api/v1/incidents/"+incident.ID+"/complete", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "no_active_assignment", testutil.DecodeError(t, resp).Error.Code)

	resp, err = client.GET("/api/v1/stats")
	require.NoError(t, err)
	var stats domain.IncidentStats
	testutil.DecodeData(t, resp, &stats)
	assert.Equal(t, domain.IncidentStats{TotalIncidents: 1, PendingCases: 0}, stats)

	resp, err = client.GET("/api/v1/teams?available=true")
	require.NoError(t, err)
	var available []domain.Crew
	testutil.DecodeData(t, resp, &available)
	assert.Len(t, available, 2)
}

func TestHandler_TransitionIntoAssignedIsConflict(t *testing.T) {
	client, _ := newTestServer(t)
	incident := createIncident(t, client)

	resp, err := client.POST("/api/v1/incidents/"+incident.ID+"/status", map[string]string{"status": "assigned"})
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "illegal_transition", testutil.DecodeError(t, resp).Error.Code)
}

func TestHandler_ErrorStatuses(t *testing.T) {
	client, f := newTestServer(t)
	raw := client.WithoutValidation()

	tests := []struct {
		name   string
		setup  func()
		do     func() (*http.Response, error)
		status int
	}{
		{
			name: "invalid json",
			do: func() (*http.Response, error) {
				return raw.POST("/api/v1/incidents", "not an object")
			},
			status: http.StatusBadRequest,
		},
		{
			name: "latitude out of range",
			do: func() (*http.Response, error) {
				return raw.POST("/api/v1/incidents", map[string]interface{}{
					"location": map[string]float64{"lat": 120, "lng": 0},
				})
			},
			status: http.StatusBadRequest,
		},
		{
			name: "unknown status filter",
			do: func() (*http.Response, error) {
				return raw.GET("/api/v1/incidents?status=closed")
			},
			status: http.StatusBadRequest,
		},
		{
			name: "missing waste limit",
			do: func() (*http.Response, error) {
				return raw.POST("/api/v1/users", map[string]string{"name": "Acme"})
			},
			status: http.StatusBadRequest,
		},
		{
			name: "unknown incident",
			do: func() (*http.Response, error) {
				return raw.GET("/api/v1/incidents/missing")
			},
			status: http.StatusNotFound,
		},
		{
			name: "unknown contractor",
			do: func() (*http.Response, error) {
				return raw.GET("/api/v1/users/missing/compliance")
			},
			status: http.StatusNotFound,
		},
		{
			name: "storage unavailable",
			setup: func() {
				f.store.failures.Store(10)
			},
			do: func() (*http.Response, error) {
				return raw.POST("/api/v1/teams", map[string]string{"name": "Alpha"})
			},
			status: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.store.failures.Store(0)
			if tt.setup != nil {
				tt.setup()
			}
			resp, err := tt.do()
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestHandler_SubmitDetectionJSON(t *testing.T) {
	client, _ := newTestServer(t)

	resp, err := client.POST("/api/v1/detections", map[string]interface{}{
		"detections": []map[string]interface{}{
			{"label": "Plastic Bag", "confidence": 0.91},
		},
		"fill_percentage": 85,
		"location":        map[string]float64{"lat": 51.5, "lng": -0.1},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result IngestResult
	testutil.DecodeData(t, resp, &result)
	assert.True(t, result.IncidentCreated)
	assert.True(t, result.DetectionAttached)
	assert.True(t, result.Escalated)
	require.NotNil(t, result.Incident)
	assert.Equal(t, domain.SeverityHigh, result.Incident.Severity)
	require.NotNil(t, result.Incident.Detection)
	assert.Equal(t, "plastic-bag", result.Incident.Detection.Detections[0].Class)
}

func TestHandler_SubmitDetectionJSON_Malformed(t *testing.T) {
	client, _ := newTestServer(t)

	resp, err := client.WithoutValidation().POST("/api/v1/detections", map[string]interface{}{
		"detections": []map[string]interface{}{{"label": "plastic"}},
		"location":   map[string]float64{"lat": 51.5, "lng": -0.1},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, testutil.DecodeError(t, resp).Error.Message, "malformed detection")
}

func TestHandler_DetectImage(t *testing.T) {
	client, f := newTestServer(t)
	fields := map[string]string{"lat": "51.5", "lng": "-0.1", "type": "Construction Debris"}

	t.Run("success", func(t *testing.T) {
		f.detector.reading = reading(50)
		f.detector.err = nil

		resp, err := client.POSTMultipart("/api/v1/detect", fields, "dump.jpg", []byte("jpeg"))
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var result IngestResult
		testutil.DecodeData(t, resp, &result)
		assert.Equal(t, domain.SeverityMedium, result.Incident.Severity)
		assert.Equal(t, "Construction Debris", result.Incident.Type)
		assert.NotEmpty(t, result.ProcessedImage)
	})

	t.Run("missing file", func(t *testing.T) {
		resp, err := client.POSTMultipart("/api/v1/detect", fields, "", nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing coordinates", func(t *testing.T) {
		resp, err := client.POSTMultipart("/api/v1/detect", map[string]string{"lat": "51.5"}, "dump.jpg", []byte("jpeg"))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("detector down", func(t *testing.T) {
		f.detector.err = fmt.Errorf("dial: %w", vision.ErrDetectorUnavailable)

		resp, err := client.POSTMultipart("/api/v1/detect", fields, "dump.jpg", []byte("jpeg"))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}

func TestHandler_DetectImage_TooLarge(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.service, 1024)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("lat", "51.5"))
	require.NoError(t, mw.WriteField("lng", "-0.1"))
	part, err := mw.CreateFormFile("file", "dump.jpg")
	require.NoError(t, err)
	_, err = part.Write(make([]byte, 4096))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/detect", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	h.SubmitDetectionImage(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandler_AnalyzeTruck(t *testing.T) {
	client, f := newTestServer(t)
	f.detector.reading = vision.RawReading{
		Detections:     []vision.RawDetection{{Label: "truck", Confidence: confidence(0.97)}},
		FillPercentage: fill(50),
	}

	resp, err := client.POSTMultipart("/api/v1/analyze-truck", nil, "truck.jpg", []byte("jpeg"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report vision.TruckReport
	testutil.DecodeData(t, resp, &report)
	assert.True(t, report.Stats.TruckDetected)
	assert.Equal(t, 10.0, report.Stats.EstimatedVolumeM3)
	assert.Equal(t, 6.0, report.Stats.EstimatedWeightTons)
	assert.Equal(t, domain.SeverityMedium, report.Severity)
}

func TestHandler_ContractorLedger(t *testing.T) {
	client, _ := newTestServer(t)

	resp, err := client.POST("/api/v1/users", map[string]interface{}{
		"name":         "Acme Haulage",
		"license_type": "commercial",
		"waste_limit":  1000,
		"credit_score": 4,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var contractor domain.Contractor
	testutil.DecodeData(t, resp, &contractor)
	assert.Equal(t, domain.ContractorStatusCompliant, contractor.Status)

	base := "/api/v1/users/" + contractor.ID

	resp, err = client.POST(base+"/usage", map[string]interface{}{
		"amount_kg":     850,
		"disposal_type": "construction",
		"legality":      "legal",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.DecodeData(t, resp, &contractor)
	assert.Equal(t, domain.ContractorStatusWarning, contractor.Status)
	assert.Contains(t, contractor.Tags, domain.TagHighRisk)

	resp, err = client.POST(base+"/fines", map[string]interface{}{"amount": 250, "reason": "overflow"})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = client.GET(base + "/fines")
	require.NoError(t, err)
	var fines []domain.Fine
	testutil.DecodeData(t, resp, &fines)
	require.Len(t, fines, 1)
	assert.Equal(t, 250.0, fines[0].Amount)

	resp, err = client.POST(base+"/credit", map[string]int{"delta": -3})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.DecodeData(t, resp, &contractor)
	assert.Equal(t, 1, contractor.CreditScore)
	assert.Contains(t, contractor.Tags, domain.TagLowCredit)

	resp, err = client.GET(base + "/compliance")
	require.NoError(t, err)
	var prediction CompliancePrediction
	testutil.DecodeData(t, resp, &prediction)
	assert.Equal(t, contractor.ID, prediction.ContractorID)
	assert.Equal(t, domain.ContractorStatusWarning, prediction.Status)

	resp, err = client.GET("/api/v1/users")
	require.NoError(t, err)
	var all []domain.Contractor
	testutil.DecodeData(t, resp, &all)
	assert.Len(t, all, 1)
}

func TestHandler_CreditScoreIsWholeNumber(t *testing.T) {
	client, _ := newTestServer(t)
	raw := client.WithoutValidation()

	resp, err := raw.POST("/api/v1/users", map[string]interface{}{
		"name":         "Fractional Haulage",
		"waste_limit":  1000,
		"credit_score": 2.5,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = client.POST("/api/v1/users", map[string]interface{}{"name": "Whole Haulage", "waste_limit": 1000})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var contractor domain.Contractor
	testutil.DecodeData(t, resp, &contractor)
	assert.Equal(t, DefaultCreditScore, contractor.CreditScore)

	resp, err = raw.POST("/api/v1/users/"+contractor.ID+"/credit", map[string]float64{"delta": 0.25})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}
