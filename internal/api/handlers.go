package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/klabs/labelqueue/internal/api/middleware"
	"github.com/klabs/labelqueue/internal/core"
	"github.com/klabs/labelqueue/internal/dispatcher"
	"github.com/klabs/labelqueue/internal/export"
	"github.com/klabs/labelqueue/internal/tenant"
)

// Handlers groups the dependencies every labeling-queue HTTP handler needs (§6).
type Handlers struct {
	Store        core.Store
	Dispatcher   *dispatcher.Dispatcher
	Bridge       core.SampleBridge
	Exporter     *export.Exporter
	Access       tenant.Access
	Clock        core.Clock
	Hub          *Hub
	URLSigner    *tenant.SignedURLSigner
	SignedURLTTL time.Duration
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// --- Schemas ---

type createSchemaRequest struct {
	Name   string       `json:"name"`
	Fields []core.Field `json:"fields"`
}

func (h *Handlers) CreateSchema(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.GetTenant(r.Context())

	var req createSchemaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, core.ErrInvalidType)
		return
	}

	schema := core.Schema{
		ID:        uuid.NewString(),
		Tenant:    tenantID,
		Name:      req.Name,
		Fields:    req.Fields,
		CreatedAt: h.Clock.Now(),
	}
	created, err := h.Store.Schemas().Create(r.Context(), schema)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) GetSchema(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.GetTenant(r.Context())
	id := mux.Vars(r)["id"]

	s, err := h.Store.Schemas().Get(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// --- Queues ---

type createQueueRequest struct {
	Name            string            `json:"name"`
	SchemaVersion   string            `json:"schema_version"`
	ComponentModule string            `json:"component_module"`
	Policy          core.PolicyConfig `json:"policy"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
}

func (h *Handlers) CreateQueue(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.GetTenant(r.Context())

	var req createQueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, core.ErrInvalidType)
		return
	}
	if req.ComponentModule == "" {
		writeError(w, r, core.ErrComponentModuleRequired)
		return
	}

	queue := core.Queue{
		ID:              uuid.NewString(),
		Tenant:          tenantID,
		Name:            req.Name,
		SchemaVersion:   req.SchemaVersion,
		Policy:          req.Policy,
		Status:          core.QueueActive,
		ComponentModule: req.ComponentModule,
		TimeoutSeconds:  req.TimeoutSeconds,
	}
	created, err := h.Store.Queues().Create(r.Context(), queue)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type queueResponse struct {
	core.Queue
	Stats core.QueueStats `json:"stats"`
}

func (h *Handlers) GetQueue(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.GetTenant(r.Context())
	id := mux.Vars(r)["id"]

	q, err := h.Store.Queues().Get(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := h.Store.Queues().Stats(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queueResponse{Queue: q, Stats: stats})
}

// --- Samples ---

type createSampleRequest struct {
	SampleID string                 `json:"sample_id"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	// QueueIDs, if given, immediately seeds a pending assignment for this sample in each queue.
	QueueIDs []string `json:"queue_ids,omitempty"`
}

func (h *Handlers) CreateSample(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.GetTenant(r.Context())

	var req createSampleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, core.ErrInvalidType)
		return
	}

	if h.Bridge != nil {
		exists, err := h.Bridge.VerifyExists(r.Context(), req.SampleID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !exists {
			writeError(w, r, core.ErrNotFound)
			return
		}
	}

	sample := core.SampleRef{
		ID:       uuid.NewString(),
		Tenant:   tenantID,
		SampleID: req.SampleID,
		Metadata: req.Metadata,
	}
	created, err := h.Store.Samples().Create(r.Context(), sample)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for _, queueID := range req.QueueIDs {
		if err := h.Dispatcher.SeedAssignments(r.Context(), tenantID, queueID, []string{created.SampleID}); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, created)
}

type sampleResponse struct {
	core.SampleRef
	Content core.SampleDTO `json:"content,omitempty"`
}

func (h *Handlers) GetSample(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.GetTenant(r.Context())
	id := mux.Vars(r)["id"]

	s, err := h.Store.Samples().Get(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.Bridge == nil {
		writeJSON(w, http.StatusOK, s)
		return
	}
	dto, err := h.Bridge.FetchSample(r.Context(), s.SampleID, core.FetchOptions{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.URLSigner != nil {
		signed := make([]string, 0, len(dto.AssetURLs))
		for _, raw := range dto.AssetURLs {
			url, err := h.URLSigner.Sign(raw, tenantID, h.SignedURLTTL)
			if err != nil {
				writeError(w, r, err)
				return
			}
			signed = append(signed, url)
		}
		dto.AssetURLs = signed
	}
	writeJSON(w, http.StatusOK, sampleResponse{SampleRef: s, Content: dto})
}

// --- Assignments ---

func (h *Handlers) FetchNextAssignment(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.GetTenant(r.Context())
	queueID := mux.Vars(r)["queue_id"]
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID, _ = middleware.GetUserID(r.Context())
	}

	a, err := h.Dispatcher.FetchNext(r.Context(), tenantID, queueID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.broadcastStats(r.Context(), tenantID, queueID)
	writeJSON(w, http.StatusOK, a)
}

type skipAssignmentRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) SkipAssignment(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.GetTenant(r.Context())
	userID, _ := middleware.GetUserID(r.Context())
	id := mux.Vars(r)["id"]

	var req skipAssignmentRequest
	_ = decodeJSON(r, &req)

	a, err := h.Dispatcher.Skip(r.Context(), tenantID, id, userID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.broadcastStats(r.Context(), tenantID, a.Queue)
	writeJSON(w, http.StatusOK, a)
}

// --- Labels ---

type submitLabelRequest struct {
	Assignment string                 `json:"assignment_id"`
	Payload    map[string]interface{} `json:"payload"`
}

func (h *Handlers) SubmitLabel(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.GetTenant(r.Context())
	userID, _ := middleware.GetUserID(r.Context())

	var req submitLabelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, core.ErrInvalidType)
		return
	}

	label, err := h.Dispatcher.SubmitLabel(r.Context(), tenantID, req.Assignment, userID, req.Payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if assignment, err := h.Store.Assignments().Get(r.Context(), tenantID, req.Assignment); err == nil {
		h.broadcastStats(r.Context(), tenantID, assignment.Queue)
	}
	writeJSON(w, http.StatusCreated, label)
}

// --- Datasets (export) ---

func (h *Handlers) GetDataset(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.GetTenant(r.Context())
	queueID := mux.Vars(r)["id"]

	q, err := h.Store.Queues().Get(r.Context(), tenantID, queueID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handlers) GetDatasetSlice(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.GetTenant(r.Context())
	vars := mux.Vars(r)
	queueID := vars["id"]
	name := vars["name"]

	labels, err := h.Store.Labels().ListForExport(r.Context(), tenantID, queueID, name, core.ListOptions{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, labels)
}

// HealthHandler is the unauthenticated liveness probe.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}
