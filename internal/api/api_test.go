package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hirewise/magpie/internal/bus"
	"github.com/hirewise/magpie/internal/cache"
	"github.com/hirewise/magpie/internal/domain"
	"github.com/hirewise/magpie/internal/repository"
	"github.com/hirewise/magpie/internal/scan"
)

// createTestServer builds a server on a throwaway SQLite database with the
// in-process cache and bus.
func createTestServer(t *testing.T) (*Server, *bus.ChannelBus) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "magpie.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	cacheImpl := cache.NewLRUCache(100)
	busImpl := bus.NewChannelBus(10)
	detector := scan.NewDetector(repo, cacheImpl, domain.DetectorConfig{MaxRecords: 1000})

	t.Cleanup(func() {
		busImpl.Close()
		repo.Close()
	})

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	return NewServer(cfg, repo, cacheImpl, busImpl, detector, "test-v1"), busImpl
}

func doRequest(server *Server, method, path, orgID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if orgID != "" {
		req.Header.Set("X-Org-ID", orgID)
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func putRecord(t *testing.T, server *Server, orgID, entityType, id string, fields map[string]any) {
	t.Helper()
	rr := doRequest(server, http.MethodPut, "/records/"+entityType+"/"+id, orgID, RecordRequest{Fields: fields})
	if rr.Code != http.StatusOK {
		t.Fatalf("failed to put record %s: %d: %s", id, rr.Code, rr.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/health", "", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/ready", "", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestRecordEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("MissingOrgID", func(t *testing.T) {
		rr := doRequest(server, http.MethodPut, "/records/candidates/rec-1", "", RecordRequest{
			Fields: map[string]any{"email": "jane@example.com"},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 without X-Org-ID, got %d", rr.Code)
		}
	})

	t.Run("PutAndGet", func(t *testing.T) {
		putRecord(t, server, "org-001", "candidates", "rec-1", map[string]any{
			"email":      "jane@example.com",
			"first_name": "Jane",
		})

		rr := doRequest(server, http.MethodGet, "/records/candidates/rec-1", "org-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var rec domain.EntityRecord
		if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if rec.ID != "rec-1" || rec.Fields["email"] != "jane@example.com" {
			t.Errorf("unexpected record round-trip: %+v", rec)
		}
	})

	t.Run("EmptyFields", func(t *testing.T) {
		rr := doRequest(server, http.MethodPut, "/records/candidates/rec-2", "org-001", RecordRequest{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for empty fields, got %d", rr.Code)
		}
	})

	t.Run("UnknownEntityType", func(t *testing.T) {
		rr := doRequest(server, http.MethodPut, "/records/widgets/rec-1", "org-001", RecordRequest{
			Fields: map[string]any{"email": "x"},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for unknown entity type, got %d", rr.Code)
		}
	})

	t.Run("OrganizationIsolation", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/records/candidates/rec-1", "org-002", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 across organizations, got %d", rr.Code)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rr := doRequest(server, http.MethodDelete, "/records/candidates/rec-1", "org-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "deleted" {
			t.Errorf("expected status 'deleted', got '%s'", resp["status"])
		}
	})

	t.Run("DeleteUnknown", func(t *testing.T) {
		rr := doRequest(server, http.MethodDelete, "/records/candidates/no-such", "org-001", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("CreateRule", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/rules", "org-001", RuleRequest{
			Name:        "Email exact",
			EntityType:  "candidates",
			MatchFields: []string{"email"},
			MatchType:   "exact",
			Enabled:     true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var rule domain.MatchRule
		if err := json.Unmarshal(rr.Body.Bytes(), &rule); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if rule.ID == "" {
			t.Error("expected generated rule id")
		}
	})

	t.Run("MissingName", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/rules", "org-001", RuleRequest{
			EntityType:  "candidates",
			MatchFields: []string{"email"},
			MatchType:   "exact",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidFilterExpression", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/rules", "org-001", RuleRequest{
			Name:             "Broken filter",
			EntityType:       "candidates",
			MatchFields:      []string{"email"},
			MatchType:        "exact",
			FilterExpression: "record.country ==",
			Enabled:          true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for invalid filter, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("InvalidFuzzyThreshold", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/rules", "org-001", RuleRequest{
			Name:           "Bad threshold",
			EntityType:     "candidates",
			MatchFields:    []string{"email"},
			MatchType:      "fuzzy",
			FuzzyThreshold: 2.0,
			Enabled:        true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for invalid threshold, got %d", rr.Code)
		}
	})

	t.Run("UpdateRule", func(t *testing.T) {
		rr := doRequest(server, http.MethodPut, "/rules/rule-42", "org-001", RuleRequest{
			Name:        "Phone exact",
			EntityType:  "contacts",
			MatchFields: []string{"phone"},
			MatchType:   "exact",
			Enabled:     true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		get := doRequest(server, http.MethodGet, "/rules/rule-42", "org-001", nil)
		if get.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", get.Code)
		}

		var rule domain.MatchRule
		json.Unmarshal(get.Body.Bytes(), &rule)
		if rule.Name != "Phone exact" {
			t.Errorf("expected updated rule name, got %q", rule.Name)
		}
	})

	t.Run("ListRules", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/rules?entityType=contacts", "org-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Rules []*domain.MatchRule `json:"rules"`
			Count int                 `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 contact rule, got %d", resp.Count)
		}
	})

	t.Run("DisableRule", func(t *testing.T) {
		rr := doRequest(server, http.MethodDelete, "/rules/rule-42", "org-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "disabled" {
			t.Errorf("expected status 'disabled', got '%s'", resp["status"])
		}

		list := doRequest(server, http.MethodGet, "/rules?entityType=contacts", "org-001", nil)
		var listResp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(list.Body.Bytes(), &listResp)
		if listResp.Count != 0 {
			t.Errorf("expected disabled rule to leave listing, got count %d", listResp.Count)
		}
	})

	t.Run("DisableUnknown", func(t *testing.T) {
		rr := doRequest(server, http.MethodDelete, "/rules/no-such", "org-001", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestScanEndpoint(t *testing.T) {
	server, _ := createTestServer(t)

	putRecord(t, server, "org-001", "candidates", "rec-1", map[string]any{
		"email": "jane@example.com", "first_name": "Jane", "last_name": "Doe",
	})
	putRecord(t, server, "org-001", "candidates", "rec-2", map[string]any{
		"email": "jane@example.com", "first_name": "Janie", "last_name": "Doe",
	})
	putRecord(t, server, "org-001", "candidates", "rec-3", map[string]any{
		"email": "bob@example.com", "first_name": "Bob", "last_name": "Smith",
	})

	t.Run("SuccessfulScan", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/scan", "org-001", ScanRequestBody{EntityType: "candidates"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var report domain.ScanReport
		if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if report.RecordsScanned != 3 {
			t.Errorf("expected 3 records scanned, got %d", report.RecordsScanned)
		}
		if report.DuplicatesFound != 1 {
			t.Errorf("expected 1 duplicate found, got %d", report.DuplicatesFound)
		}
		if report.DuplicatesInserted != 1 {
			t.Errorf("expected 1 duplicate inserted, got %d", report.DuplicatesInserted)
		}
	})

	t.Run("RescanSkipsExisting", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/scan", "org-001", ScanRequestBody{EntityType: "candidates"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var report domain.ScanReport
		json.Unmarshal(rr.Body.Bytes(), &report)
		if report.DuplicatesInserted != 0 || report.DuplicatesSkipped != 1 {
			t.Errorf("expected re-scan to skip the known pair, got inserted=%d skipped=%d",
				report.DuplicatesInserted, report.DuplicatesSkipped)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/scan", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Org-ID", "org-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownEntityType", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/scan", "org-001", ScanRequestBody{EntityType: "widgets"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/scan", "org-001", ScanRequestBody{EntityType: "candidates"})

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestDuplicateEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	putRecord(t, server, "org-001", "contacts", "rec-1", map[string]any{"email": "a@example.com"})
	putRecord(t, server, "org-001", "contacts", "rec-2", map[string]any{"email": "a@example.com"})

	rr := doRequest(server, http.MethodPost, "/scan", "org-001", ScanRequestBody{EntityType: "contacts"})
	if rr.Code != http.StatusOK {
		t.Fatalf("scan failed: %d: %s", rr.Code, rr.Body.String())
	}

	var dupID string

	t.Run("ListDuplicates", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/duplicates?entityType=contacts", "org-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Duplicates []*domain.DuplicateCandidate `json:"duplicates"`
			Count      int                          `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 {
			t.Fatalf("expected 1 duplicate, got %d", resp.Count)
		}

		dup := resp.Duplicates[0]
		if dup.RecordIDLow != "rec-1" || dup.RecordIDHigh != "rec-2" {
			t.Errorf("expected canonical pair (rec-1, rec-2), got (%s, %s)", dup.RecordIDLow, dup.RecordIDHigh)
		}
		if dup.Status != domain.DuplicateStatusPending {
			t.Errorf("expected pending status, got %q", dup.Status)
		}
		dupID = dup.ID
	})

	t.Run("MissingEntityType", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/duplicates", "org-001", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("GetDuplicate", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/duplicates/"+dupID, "org-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var dup domain.DuplicateCandidate
		json.Unmarshal(rr.Body.Bytes(), &dup)
		if dup.ConfidenceScore != 1.0 {
			t.Errorf("expected confidence 1.0, got %v", dup.ConfidenceScore)
		}
	})

	t.Run("GetUnknown", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/duplicates/no-such", "org-001", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		rr := doRequest(server, http.MethodPatch, "/duplicates/"+dupID, "org-001", UpdateStatusRequest{
			Status: domain.DuplicateStatusConfirmed,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		list := doRequest(server, http.MethodGet, "/duplicates?entityType=contacts&status=confirmed", "org-001", nil)
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(list.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 confirmed duplicate, got %d", resp.Count)
		}
	})

	t.Run("InvalidStatus", func(t *testing.T) {
		rr := doRequest(server, http.MethodPatch, "/duplicates/"+dupID, "org-001", UpdateStatusRequest{
			Status: "archived",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UpdateUnknown", func(t *testing.T) {
		rr := doRequest(server, http.MethodPatch, "/duplicates/no-such", "org-001", UpdateStatusRequest{
			Status: domain.DuplicateStatusDismissed,
		})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestScanAsyncEndpoint(t *testing.T) {
	server, busImpl := createTestServer(t)

	var received atomic.Bool
	sub, err := busImpl.Subscribe(context.Background(), "org-001", domain.TopicScanRequested,
		func(ctx context.Context, msg *domain.Message) error {
			var req domain.ScanRequest
			if json.Unmarshal(msg.Payload, &req) == nil && req.EntityType == domain.EntityCandidates {
				received.Store(true)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	t.Run("Accepted", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/scan/async", "org-001", ScanRequestBody{EntityType: "candidates"})
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "accepted" {
			t.Errorf("expected status 'accepted', got '%s'", resp["status"])
		}

		time.Sleep(50 * time.Millisecond)
		if !received.Load() {
			t.Error("expected scan request to be published on the bus")
		}
	})

	t.Run("UnknownEntityType", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/scan/async", "org-001", ScanRequestBody{EntityType: "widgets"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("OrgMiddlewareExtractsID", func(t *testing.T) {
		var capturedOrgID string

		handler := OrgMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedOrgID = GetOrgID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Org-ID", "my-org-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedOrgID != "my-org-123" {
			t.Errorf("expected org ID 'my-org-123', got '%s'", capturedOrgID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
