package coordination

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bissquit/wastewatch/internal/compliance"
	"github.com/bissquit/wastewatch/internal/crews"
	"github.com/bissquit/wastewatch/internal/dispatch"
	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/incidents"
	"github.com/bissquit/wastewatch/internal/pkg/httputil"
	"github.com/bissquit/wastewatch/internal/vision"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// DefaultMaxUploadBytes bounds multipart image uploads when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

var errorMappings = []httputil.ErrorMapping{
	{Error: vision.ErrMalformedDetection, Status: http.StatusBadRequest},
	{Error: vision.ErrImageRejected, Status: http.StatusBadRequest},
	{Error: incidents.ErrInvalidLocation, Status: http.StatusBadRequest},
	{Error: incidents.ErrInvalidSeverity, Status: http.StatusBadRequest},
	{Error: incidents.ErrInvalidStatus, Status: http.StatusBadRequest},
	{Error: crews.ErrInvalidName, Status: http.StatusBadRequest},
	{Error: compliance.ErrInvalidInput, Status: http.StatusBadRequest},
	{Error: compliance.ErrInvalidAmount, Status: http.StatusBadRequest},
	{Error: compliance.ErrInvalidLegality, Status: http.StatusBadRequest},

	{Error: incidents.ErrNotFound, Status: http.StatusNotFound, Message: "incident not found"},
	{Error: crews.ErrNotFound, Status: http.StatusNotFound, Message: "crew not found"},
	{Error: compliance.ErrUnknownContractor, Status: http.StatusNotFound, Message: "contractor not found"},

	{Error: dispatch.ErrDispatchRejected, Status: http.StatusConflict},
	{Error: dispatch.ErrNoActiveAssignment, Status: http.StatusConflict, Code: "no_active_assignment"},
	{Error: incidents.ErrIllegalTransition, Status: http.StatusConflict, Code: "illegal_transition"},
	{Error: incidents.ErrIncidentClosed, Status: http.StatusConflict, Code: "incident_closed"},
	{Error: incidents.ErrDetectionAttached, Status: http.StatusConflict, Code: "detection_attached"},
	{Error: crews.ErrCrewUnavailable, Status: http.StatusConflict, Code: "crew_not_available"},

	{Error: domain.ErrStorageUnavailable, Status: http.StatusServiceUnavailable, Message: "storage unavailable, try again later"},
	{Error: vision.ErrDetectorUnavailable, Status: http.StatusBadGateway, Message: "detector unavailable"},
}

// Handler handles HTTP requests for the coordination API.
type Handler struct {
	service        *Service
	validator      *validator.Validate
	maxUploadBytes int64
}

// NewHandler creates a new coordination handler.
func NewHandler(service *Service, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		service:        service,
		validator:      validator.New(),
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterPublicRoutes registers read-only routes.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/incidents", h.GetIncidents)
	r.Get("/incidents/{id}", h.GetIncident)
	r.Get("/assignments", h.GetAssignments)
	r.Get("/stats", h.GetStats)
	r.Get("/teams", h.GetTeams)
	r.Get("/users", h.GetUsers)
	r.Get("/users/{id}", h.GetUser)
	r.Get("/users/{id}/fines", h.GetFines)
	r.Get("/users/{id}/compliance", h.PredictCompliance)
}

// RegisterOperatorRoutes registers routes that require operator role.
func (h *Handler) RegisterOperatorRoutes(r chi.Router) {
	r.Post("/incidents", h.ReportIncident)
	r.Post("/incidents/{id}/status", h.TransitionIncident)
	r.Post("/incidents/{id}/assign", h.AssignCrew)
	r.Post("/incidents/{id}/complete", h.CompleteIncident)
	r.Post("/incidents/{id}/cancel", h.CancelAssignment)
	r.Post("/users/{id}/usage", h.RecordUsage)
}

// RegisterDetectionRoutes registers the vision routes. They are operator
// routes and are rate limited by the caller.
func (h *Handler) RegisterDetectionRoutes(r chi.Router) {
	r.Post("/detections", h.SubmitDetectionJSON)
	r.Post("/detect", h.SubmitDetectionImage)
	r.Post("/analyze-truck", h.AnalyzeTruck)
}

// RegisterAdminRoutes registers routes that require admin role.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/teams", h.RegisterTeam)
	r.Post("/users", h.OnboardUser)
	r.Post("/users/{id}/fines", h.IssueFine)
	r.Post("/users/{id}/credit", h.AdjustCredit)
}

// GetIncidents handles GET /incidents.
func (h *Handler) GetIncidents(w http.ResponseWriter, r *http.Request) {
	var status *domain.IncidentStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := domain.IncidentStatus(s)
		status = &st
	}

	list, err := h.service.GetIncidents(r.Context(), status)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

// GetIncident handles GET /incidents/{id}.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// ReportIncident handles POST /incidents.
func (h *Handler) ReportIncident(w http.ResponseWriter, r *http.Request) {
	var req ReportIncidentRequest
	if !h.decode(w, r, &req) {
		return
	}

	incident, err := h.service.ReportIncident(r.Context(), req.ToDomain())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// TransitionIncident handles POST /incidents/{id}/status.
func (h *Handler) TransitionIncident(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}

	incident, err := h.service.TransitionIncident(r.Context(), chi.URLParam(r, "id"), domain.IncidentStatus(req.Status))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// AssignCrew handles POST /incidents/{id}/assign.
func (h *Handler) AssignCrew(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !h.decode(w, r, &req) {
		return
	}

	assignment, err := h.service.Assign(r.Context(), chi.URLParam(r, "id"), req.CrewID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, assignment)
}

// CompleteIncident handles POST /incidents/{id}/complete.
func (h *Handler) CompleteIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// CancelAssignment handles POST /incidents/{id}/cancel.
func (h *Handler) CancelAssignment(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// GetAssignments handles GET /assignments.
func (h *Handler) GetAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Assignments(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

// GetStats handles GET /stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// GetTeams handles GET /teams.
func (h *Handler) GetTeams(w http.ResponseWriter, r *http.Request) {
	availableOnly := r.URL.Query().Get("available") == "true"

	list, err := h.service.GetTeams(r.Context(), availableOnly)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

// RegisterTeam handles POST /teams.
func (h *Handler) RegisterTeam(w http.ResponseWriter, r *http.Request) {
	var req RegisterTeamRequest
	if !h.decode(w, r, &req) {
		return
	}

	crew, err := h.service.RegisterTeam(r.Context(), req.ToDomain())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, crew)
}

// GetUsers handles GET /users.
func (h *Handler) GetUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.GetUsers(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

// GetUser handles GET /users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	contractor, err := h.service.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, contractor)
}

// OnboardUser handles POST /users.
func (h *Handler) OnboardUser(w http.ResponseWriter, r *http.Request) {
	var req OnboardUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	contractor, err := h.service.OnboardUser(r.Context(), req.ToDomain())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, contractor)
}

// RecordUsage handles POST /users/{id}/usage.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req UsageRequest
	if !h.decode(w, r, &req) {
		return
	}

	contractor, err := h.service.RecordUsage(r.Context(), chi.URLParam(r, "id"), req.ToDomain())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, contractor)
}

// IssueFine handles POST /users/{id}/fines.
func (h *Handler) IssueFine(w http.ResponseWriter, r *http.Request) {
	var req FineRequest
	if !h.decode(w, r, &req) {
		return
	}

	fine, err := h.service.IssueFine(r.Context(), chi.URLParam(r, "id"), *req.Amount, req.Reason)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, fine)
}

// GetFines handles GET /users/{id}/fines.
func (h *Handler) GetFines(w http.ResponseWriter, r *http.Request) {
	fines, err := h.service.Fines(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, fines)
}

// AdjustCredit handles POST /users/{id}/credit.
func (h *Handler) AdjustCredit(w http.ResponseWriter, r *http.Request) {
	var req CreditRequest
	if !h.decode(w, r, &req) {
		return
	}

	contractor, err := h.service.AdjustCredit(r.Context(), chi.URLParam(r, "id"), *req.Delta)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, contractor)
}

// PredictCompliance handles GET /users/{id}/compliance.
func (h *Handler) PredictCompliance(w http.ResponseWriter, r *http.Request) {
	prediction, err := h.service.PredictCompliance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, prediction)
}

// SubmitDetectionJSON handles POST /detections.
func (h *Handler) SubmitDetectionJSON(w http.ResponseWriter, r *http.Request) {
	var req DetectionRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.IngestDetection(r.Context(), req.ToDomain())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, result)
}

// SubmitDetectionImage handles POST /detect.
func (h *Handler) SubmitDetectionImage(w http.ResponseWriter, r *http.Request) {
	image, filename, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	form, err := parseDetectForm(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, err := h.service.SubmitDetection(r.Context(), SubmitInput{
		Image:        image,
		Filename:     filename,
		Location:     domain.Location{Lat: *form.Lat, Lng: *form.Lng},
		Type:         form.Type,
		Description:  form.Description,
		ContractorID: form.ContractorID,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, result)
}

// AnalyzeTruck handles POST /analyze-truck.
func (h *Handler) AnalyzeTruck(w http.ResponseWriter, r *http.Request) {
	image, filename, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	report, err := h.service.AnalyzeTruck(r.Context(), image, filename)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, report)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httputil.ValidationError(w, err)
		return false
	}
	return true
}

// readUpload reads the "file" part of a multipart request.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "upload too large")
			return nil, "", false
		}
		httputil.Error(w, http.StatusBadRequest, "invalid multipart form")
		return nil, "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "file is required")
		return nil, "", false
	}
	defer func() { _ = file.Close() }()

	image, err := io.ReadAll(file)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "failed to read file")
		return nil, "", false
	}
	if len(image) == 0 {
		httputil.Error(w, http.StatusBadRequest, "file is empty")
		return nil, "", false
	}

	return image, header.Filename, true
}

func parseDetectForm(r *http.Request) (*detectForm, error) {
	form := &detectForm{
		Type:        strings.TrimSpace(r.FormValue("type")),
		Description: strings.TrimSpace(r.FormValue("description")),
	}

	var err error
	if form.Lat, err = parseCoordinate(r.FormValue("lat"), "lat"); err != nil {
		return nil, err
	}
	if form.Lng, err = parseCoordinate(r.FormValue("lng"), "lng"); err != nil {
		return nil, err
	}
	if id := strings.TrimSpace(r.FormValue("contractor_id")); id != "" {
		form.ContractorID = &id
	}
	return form, nil
}

func parseCoordinate(raw, name string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", name)
	}
	return &v, nil
}
