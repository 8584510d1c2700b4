package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hirewise/magpie/internal/domain"
	"github.com/hirewise/magpie/internal/match"
	"github.com/hirewise/magpie/internal/repository"
	"github.com/hirewise/magpie/internal/scan"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	detector *scan.Detector
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, detector *scan.Detector, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		detector: detector,
		version:  version,
	}
}

// ScanRequestBody is the request body for POST /scan and POST /scan/async.
type ScanRequestBody struct {
	EntityType string `json:"entityType"`
	RuleID     string `json:"ruleId,omitempty"`
}

// Scan handles POST /scan: runs a synchronous detection batch and returns
// the scan report.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	var req ScanRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	entityType, err := domain.ParseEntityType(req.EntityType)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	report, err := h.detector.Run(ctx, &domain.ScanRequest{
		OrganizationID: orgID,
		EntityType:     entityType,
		RuleID:         req.RuleID,
	})
	if err != nil {
		slog.Error("scan failed",
			"organization_id", orgID,
			"entity_type", entityType,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "scan failed: " + err.Error(),
		})
		return
	}

	// Notify downstream consumers when new candidates landed.
	if h.bus != nil && report.DuplicatesInserted > 0 {
		payload, _ := json.Marshal(report)
		if err := h.bus.Publish(ctx, orgID, domain.TopicDuplicatesDetected, payload); err != nil {
			slog.Warn("failed to publish duplicates detected event", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, report)
}

// ScanAsync handles POST /scan/async: enqueues a scan request on the event
// bus and returns immediately. A worker picks it up.
func (h *Handler) ScanAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	var req ScanRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	entityType, err := domain.ParseEntityType(req.EntityType)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	scanReq := &domain.ScanRequest{
		OrganizationID: orgID,
		EntityType:     entityType,
		RuleID:         req.RuleID,
	}
	payload, err := json.Marshal(scanReq)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode scan request",
		})
		return
	}

	if err := h.bus.Publish(ctx, orgID, domain.TopicScanRequested, payload); err != nil {
		slog.Error("failed to enqueue scan", "organization_id", orgID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to enqueue scan",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"entityType": string(entityType),
	})
}

// ListDuplicates handles GET /duplicates?entityType=&status=.
func (h *Handler) ListDuplicates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	entityType, err := domain.ParseEntityType(r.URL.Query().Get("entityType"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entityType query parameter is required",
		})
		return
	}

	status := r.URL.Query().Get("status")

	dups, err := h.repo.ListDuplicates(ctx, orgID, entityType, status)
	if err != nil {
		slog.Error("failed to list duplicates", "organization_id", orgID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list duplicates",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"duplicates": dups,
		"count":      len(dups),
	})
}

// GetDuplicate handles GET /duplicates/{id}.
func (h *Handler) GetDuplicate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	dupID := chi.URLParam(r, "id")

	dup, err := h.repo.GetDuplicate(ctx, orgID, dupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "duplicate not found",
			})
			return
		}
		slog.Error("failed to get duplicate", "id", dupID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get duplicate",
		})
		return
	}

	writeJSON(w, http.StatusOK, dup)
}

// UpdateStatusRequest is the request body for PATCH /duplicates/{id}.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateDuplicateStatus handles PATCH /duplicates/{id}: moves a candidate
// through the review workflow (pending, confirmed, dismissed, merged).
func (h *Handler) UpdateDuplicateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	dupID := chi.URLParam(r, "id")

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.repo.UpdateDuplicateStatus(ctx, orgID, dupID, req.Status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "duplicate not found",
			})
			return
		}
		if errors.Is(err, repository.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid status: " + req.Status,
			})
			return
		}
		slog.Error("failed to update duplicate status", "id", dupID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update duplicate",
		})
		return
	}

	slog.Info("duplicate status updated", "id", dupID, "status", req.Status)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     dupID,
		"status": req.Status,
	})
}

// ListRules handles GET /rules?entityType=.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	entityType, err := domain.ParseEntityType(r.URL.Query().Get("entityType"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entityType query parameter is required",
		})
		return
	}

	rules, err := h.repo.ListMatchRules(ctx, orgID, entityType)
	if err != nil {
		slog.Error("failed to list rules", "organization_id", orgID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetMatchRule(ctx, orgID, ruleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to get rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// RuleRequest is the request body for creating or updating a rule.
type RuleRequest struct {
	Name             string   `json:"name"`
	EntityType       string   `json:"entityType"`
	MatchFields      []string `json:"matchFields"`
	MatchType        string   `json:"matchType"`
	FuzzyThreshold   float64  `json:"fuzzyThreshold,omitempty"`
	FilterExpression string   `json:"filterExpression,omitempty"`
	Enabled          bool     `json:"enabled"`
}

// CreateRule handles POST /rules: validates and persists a new match rule,
// then invalidates the cached rule list for its entity type.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	h.saveRule(w, r, uuid.New().String())
}

// UpdateRule handles PUT /rules/{id}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}
	h.saveRule(w, r, ruleID)
}

func (h *Handler) saveRule(w http.ResponseWriter, r *http.Request, ruleID string) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}

	entityType, err := domain.ParseEntityType(req.EntityType)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	rule := &domain.MatchRule{
		ID:               ruleID,
		OrganizationID:   orgID,
		Name:             req.Name,
		EntityType:       entityType,
		MatchFields:      req.MatchFields,
		MatchType:        domain.MatchType(req.MatchType),
		FuzzyThreshold:   req.FuzzyThreshold,
		FilterExpression: req.FilterExpression,
		Enabled:          req.Enabled,
	}

	if err := rule.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	// Reject filter expressions that won't compile before they reach a scan.
	if err := match.ValidateFilter(rule.FilterExpression); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid filter expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveMatchRule(ctx, orgID, rule); err != nil {
		slog.Error("failed to save rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	if h.cache != nil {
		if err := h.cache.InvalidateRules(ctx, orgID, rule.EntityType); err != nil {
			slog.Warn("failed to invalidate rule cache", "error", err)
		}
	}

	slog.Info("rule saved", "id", rule.ID, "name", rule.Name, "entity_type", rule.EntityType)
	writeJSON(w, http.StatusCreated, rule)
}

// DisableRule handles DELETE /rules/{id}: rules are disabled, never
// physically removed, so existing duplicate candidates keep a valid ruleId.
func (h *Handler) DisableRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetMatchRule(ctx, orgID, ruleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to get rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get rule",
		})
		return
	}

	if err := h.repo.DisableMatchRule(ctx, orgID, ruleID); err != nil {
		slog.Error("failed to disable rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to disable rule",
		})
		return
	}

	if h.cache != nil {
		if err := h.cache.InvalidateRules(ctx, orgID, rule.EntityType); err != nil {
			slog.Warn("failed to invalidate rule cache", "error", err)
		}
	}

	slog.Info("rule disabled", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     ruleID,
		"status": "disabled",
	})
}

// RecordRequest is the request body for PUT /records/{entityType}/{id}.
type RecordRequest struct {
	Fields map[string]any `json:"fields"`
}

// PutRecord handles PUT /records/{entityType}/{id}: upserts a record snapshot.
func (h *Handler) PutRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	recordID := chi.URLParam(r, "id")

	entityType, err := domain.ParseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	if recordID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "record id is required",
		})
		return
	}

	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Fields) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "fields must not be empty",
		})
		return
	}

	rec := &domain.EntityRecord{
		ID:             recordID,
		OrganizationID: orgID,
		EntityType:     entityType,
		Fields:         req.Fields,
		UpdatedAt:      time.Now().UTC(),
	}

	if err := h.repo.SaveEntityRecord(ctx, orgID, rec); err != nil {
		slog.Error("failed to save record", "id", recordID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save record",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetRecord handles GET /records/{entityType}/{id}.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	recordID := chi.URLParam(r, "id")

	entityType, err := domain.ParseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	rec, err := h.repo.GetEntityRecord(ctx, orgID, entityType, recordID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "record not found",
			})
			return
		}
		slog.Error("failed to get record", "id", recordID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get record",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// DeleteRecord handles DELETE /records/{entityType}/{id}: soft-deletes the
// record so future scans skip it.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	recordID := chi.URLParam(r, "id")

	entityType, err := domain.ParseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.DeleteEntityRecord(ctx, orgID, entityType, recordID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "record not found",
			})
			return
		}
		slog.Error("failed to delete record", "id", recordID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete record",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     recordID,
		"status": "deleted",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
