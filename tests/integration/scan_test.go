//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Magpie duplicate
// detection engine.
//
// These tests verify the COMPLETE detection pipeline:
//
//	Records → Rules → Pairwise Matching → Duplicate Candidates → Review
//
// Run against a live server:
//
//	MAGPIE_TEST_URL=http://localhost:8080 go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. RECORD: A CRM record snapshot (candidate, contact, account, or lead)
//    with free-form fields, pushed via PUT /records/{entityType}/{id}.
//
// 2. MATCH RULE: How two records are compared. Each rule has:
//   - MatchFields: the fields to compare
//   - MatchType: exact, fuzzy (bigram Dice), or phonetic (Soundex)
//   - FuzzyThreshold: per-field minimum similarity for fuzzy rules
//
// 3. SCAN: One batch run over all live records of an entity type. Every
//    unordered pair is compared against the rules in order; the first rule
//    that qualifies wins the pair.
//
// 4. DUPLICATE CANDIDATE: A flagged pair with a confidence score (average
//    over compared fields, floor 0.5) awaiting human review: pending →
//    confirmed / dismissed / merged.
//
// Tests use a unique organization per run so re-runs don't collide.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
	OrgID   string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("MAGPIE_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL: baseURL,
		OrgID:   fmt.Sprintf("integration-%d", time.Now().UnixNano()),
	}
}

// ============================================================================
// API Request/Response Types (matching Magpie's API contract)
// ============================================================================

type RecordRequest struct {
	Fields map[string]any `json:"fields"`
}

type RuleRequest struct {
	Name             string   `json:"name"`
	EntityType       string   `json:"entityType"`
	MatchFields      []string `json:"matchFields"`
	MatchType        string   `json:"matchType"`
	FuzzyThreshold   float64  `json:"fuzzyThreshold,omitempty"`
	FilterExpression string   `json:"filterExpression,omitempty"`
	Enabled          bool     `json:"enabled"`
}

type ScanRequest struct {
	EntityType string `json:"entityType"`
	RuleID     string `json:"ruleId,omitempty"`
}

type ScanReport struct {
	OrganizationID     string `json:"organizationId"`
	EntityType         string `json:"entityType"`
	RecordsScanned     int    `json:"recordsScanned"`
	DuplicatesFound    int    `json:"duplicatesFound"`
	DuplicatesInserted int    `json:"duplicatesInserted"`
	DuplicatesSkipped  int    `json:"duplicatesSkipped"`
	DuplicatesFailed   int    `json:"duplicatesFailed"`
	RulesApplied       int    `json:"rulesApplied"`
	DurationMs         int64  `json:"durationMs"`
}

type DuplicateCandidate struct {
	ID              string   `json:"id"`
	EntityType      string   `json:"entityType"`
	RecordIDLow     string   `json:"recordIdLow"`
	RecordIDHigh    string   `json:"recordIdHigh"`
	ConfidenceScore float64  `json:"confidenceScore"`
	MatchedFields   []string `json:"matchedFields"`
	RuleID          string   `json:"ruleId"`
	Status          string   `json:"status"`
}

type DuplicateList struct {
	Duplicates []DuplicateCandidate `json:"duplicates"`
	Count      int                  `json:"count"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func doJSON(t *testing.T, config TestConfig, method, path string, payload any, out any) int {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Org-ID", config.OrgID)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}

	return resp.StatusCode
}

func putRecord(t *testing.T, config TestConfig, entityType, id string, fields map[string]any) {
	t.Helper()
	code := doJSON(t, config, http.MethodPut, "/records/"+entityType+"/"+id, RecordRequest{Fields: fields}, nil)
	if code != http.StatusOK {
		t.Fatalf("Failed to put record %s: HTTP %d", id, code)
	}
}

func runScan(t *testing.T, config TestConfig, entityType string) ScanReport {
	t.Helper()
	var report ScanReport
	code := doJSON(t, config, http.MethodPost, "/scan", ScanRequest{EntityType: entityType}, &report)
	if code != http.StatusOK {
		t.Fatalf("Scan failed: HTTP %d", code)
	}
	return report
}

func listDuplicates(t *testing.T, config TestConfig, entityType, status string) DuplicateList {
	t.Helper()
	path := "/duplicates?entityType=" + entityType
	if status != "" {
		path += "&status=" + status
	}
	var list DuplicateList
	code := doJSON(t, config, http.MethodGet, path, nil, &list)
	if code != http.StatusOK {
		t.Fatalf("Failed to list duplicates: HTTP %d", code)
	}
	return list
}

// ============================================================================
// SCENARIO 1: Default Rules Find Exact Email Duplicates
// ============================================================================

func TestDefaultRulesScan(t *testing.T) {
	/*
	   SCENARIO: Three candidates, two sharing an email address, no rules
	   configured for the organization.

	   EXPECTED BEHAVIOR:
	   - The scan falls back to the built-in candidate defaults
	   - The shared-email pair is flagged with confidence 1.0
	   - The pair is stored in canonical order (low id first)
	*/
	config := getTestConfig()

	putRecord(t, config, "candidates", "cand-001", map[string]any{
		"email": "jane.doe@example.com", "first_name": "Jane", "last_name": "Doe",
	})
	putRecord(t, config, "candidates", "cand-002", map[string]any{
		"email": "JANE.DOE@example.com", "first_name": "Janie", "last_name": "Doe",
	})
	putRecord(t, config, "candidates", "cand-003", map[string]any{
		"email": "bob@example.com", "first_name": "Bob", "last_name": "Smith",
	})

	report := runScan(t, config, "candidates")

	if report.RecordsScanned != 3 {
		t.Errorf("Expected 3 records scanned, got %d", report.RecordsScanned)
	}
	if report.DuplicatesInserted != 1 {
		t.Errorf("Expected 1 duplicate inserted, got %d", report.DuplicatesInserted)
	}

	list := listDuplicates(t, config, "candidates", "")
	if list.Count != 1 {
		t.Fatalf("Expected 1 duplicate candidate, got %d", list.Count)
	}

	dup := list.Duplicates[0]
	if dup.RecordIDLow != "cand-001" || dup.RecordIDHigh != "cand-002" {
		t.Errorf("Expected canonical pair (cand-001, cand-002), got (%s, %s)",
			dup.RecordIDLow, dup.RecordIDHigh)
	}
	if dup.ConfidenceScore != 1.0 {
		t.Errorf("Expected confidence 1.0 for exact email match, got %.2f", dup.ConfidenceScore)
	}
	if dup.Status != "pending" {
		t.Errorf("Expected pending status, got %s", dup.Status)
	}

	t.Logf("✓ Default scan flagged pair (%s, %s) at %.2f", dup.RecordIDLow, dup.RecordIDHigh, dup.ConfidenceScore)
}

// ============================================================================
// SCENARIO 2: Scans Are Idempotent
// ============================================================================

func TestRescanIsIdempotent(t *testing.T) {
	/*
	   SCENARIO: Run the same scan twice.

	   EXPECTED BEHAVIOR:
	   - First run inserts the pair
	   - Second run finds the same pair but skips the insert
	   - The candidate's review status is untouched
	*/
	config := getTestConfig()

	putRecord(t, config, "contacts", "con-001", map[string]any{"email": "amy@example.com"})
	putRecord(t, config, "contacts", "con-002", map[string]any{"email": "amy@example.com"})

	first := runScan(t, config, "contacts")
	if first.DuplicatesInserted != 1 {
		t.Fatalf("Expected 1 insert on first scan, got %d", first.DuplicatesInserted)
	}

	second := runScan(t, config, "contacts")
	if second.DuplicatesInserted != 0 {
		t.Errorf("Expected 0 inserts on re-scan, got %d", second.DuplicatesInserted)
	}
	if second.DuplicatesSkipped != 1 {
		t.Errorf("Expected 1 skip on re-scan, got %d", second.DuplicatesSkipped)
	}

	t.Logf("✓ Re-scan skipped the known pair: inserted=%d skipped=%d",
		second.DuplicatesInserted, second.DuplicatesSkipped)
}

// ============================================================================
// SCENARIO 3: Custom Fuzzy Rule
// ============================================================================

func TestCustomFuzzyRule(t *testing.T) {
	/*
	   SCENARIO: An organization configures a fuzzy rule on account_name
	   with threshold 0.65, then scans accounts whose names are similar
	   but not identical.

	   EXPECTED BEHAVIOR:
	   - "Acme Corp" vs "Acme Corporation" has bigram similarity ≈ 0.70
	   - Above threshold 0.65 → the pair is flagged
	   - Confidence equals the similarity (single compared field)
	*/
	config := getTestConfig()

	code := doJSON(t, config, http.MethodPost, "/rules", RuleRequest{
		Name:           "Account name fuzzy",
		EntityType:     "accounts",
		MatchFields:    []string{"account_name"},
		MatchType:      "fuzzy",
		FuzzyThreshold: 0.65,
		Enabled:        true,
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("Failed to create rule: HTTP %d", code)
	}

	putRecord(t, config, "accounts", "acc-001", map[string]any{"account_name": "Acme Corp"})
	putRecord(t, config, "accounts", "acc-002", map[string]any{"account_name": "Acme Corporation"})
	putRecord(t, config, "accounts", "acc-003", map[string]any{"account_name": "Globex Industries"})

	report := runScan(t, config, "accounts")
	if report.DuplicatesInserted != 1 {
		t.Fatalf("Expected 1 duplicate, got %d", report.DuplicatesInserted)
	}

	list := listDuplicates(t, config, "accounts", "")
	dup := list.Duplicates[0]
	if dup.ConfidenceScore < 0.65 || dup.ConfidenceScore > 0.75 {
		t.Errorf("Expected confidence ≈ 0.70, got %.4f", dup.ConfidenceScore)
	}

	t.Logf("✓ Fuzzy rule flagged similar account names at %.4f", dup.ConfidenceScore)
}

// ============================================================================
// SCENARIO 4: Review Workflow
// ============================================================================

func TestReviewWorkflow(t *testing.T) {
	/*
	   SCENARIO: A flagged pair moves through the review workflow.

	   EXPECTED BEHAVIOR:
	   - New candidates start pending
	   - PATCH moves them to confirmed
	   - Status filters reflect the change
	   - Unknown statuses are rejected with HTTP 400
	*/
	config := getTestConfig()

	putRecord(t, config, "leads", "lead-001", map[string]any{"email": "sam@example.com"})
	putRecord(t, config, "leads", "lead-002", map[string]any{"email": "sam@example.com"})
	runScan(t, config, "leads")

	list := listDuplicates(t, config, "leads", "pending")
	if list.Count != 1 {
		t.Fatalf("Expected 1 pending candidate, got %d", list.Count)
	}
	dupID := list.Duplicates[0].ID

	code := doJSON(t, config, http.MethodPatch, "/duplicates/"+dupID,
		map[string]string{"status": "confirmed"}, nil)
	if code != http.StatusOK {
		t.Fatalf("Failed to confirm candidate: HTTP %d", code)
	}

	if got := listDuplicates(t, config, "leads", "pending").Count; got != 0 {
		t.Errorf("Expected 0 pending after confirm, got %d", got)
	}
	if got := listDuplicates(t, config, "leads", "confirmed").Count; got != 1 {
		t.Errorf("Expected 1 confirmed, got %d", got)
	}

	code = doJSON(t, config, http.MethodPatch, "/duplicates/"+dupID,
		map[string]string{"status": "archived"}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("Expected HTTP 400 for unknown status, got %d", code)
	}

	t.Logf("✓ Review workflow: pending → confirmed, bad status rejected")
}

// ============================================================================
// SCENARIO 5: Deleted Records Leave Scans
// ============================================================================

func TestDeletedRecordsAreSkipped(t *testing.T) {
	/*
	   SCENARIO: One half of a duplicate pair is deleted before the scan.

	   EXPECTED BEHAVIOR:
	   - Soft-deleted records are not fetched
	   - The scan finds nothing
	*/
	config := getTestConfig()

	putRecord(t, config, "candidates", "gone-001", map[string]any{"email": "gone@example.com"})
	putRecord(t, config, "candidates", "gone-002", map[string]any{"email": "gone@example.com"})

	code := doJSON(t, config, http.MethodDelete, "/records/candidates/gone-002", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("Failed to delete record: HTTP %d", code)
	}

	report := runScan(t, config, "candidates")
	if report.RecordsScanned != 1 {
		t.Errorf("Expected 1 live record, got %d", report.RecordsScanned)
	}
	if report.DuplicatesFound != 0 {
		t.Errorf("Expected no duplicates after delete, got %d", report.DuplicatesFound)
	}

	t.Logf("✓ Deleted record excluded: scanned=%d", report.RecordsScanned)
}

// ============================================================================
// SCENARIO 6: Input Validation
// ============================================================================

func TestValidation(t *testing.T) {
	config := getTestConfig()

	t.Run("MissingOrgHeader", func(t *testing.T) {
		httpReq, _ := http.NewRequest(http.MethodPost, config.BaseURL+"/scan",
			bytes.NewReader([]byte(`{"entityType":"candidates"}`)))
		httpReq.Header.Set("Content-Type", "application/json")
		// NO X-Org-ID header!

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(httpReq)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected HTTP 400 without org header, got %d", resp.StatusCode)
		}
	})

	t.Run("UnknownEntityType", func(t *testing.T) {
		code := doJSON(t, config, http.MethodPost, "/scan", ScanRequest{EntityType: "widgets"}, nil)
		if code != http.StatusBadRequest {
			t.Errorf("Expected HTTP 400 for unknown entity type, got %d", code)
		}
	})

	t.Run("EmptyRecordFields", func(t *testing.T) {
		code := doJSON(t, config, http.MethodPut, "/records/candidates/empty-001", RecordRequest{}, nil)
		if code != http.StatusBadRequest {
			t.Errorf("Expected HTTP 400 for empty fields, got %d", code)
		}
	})

	t.Run("InvalidFilterExpression", func(t *testing.T) {
		code := doJSON(t, config, http.MethodPost, "/rules", RuleRequest{
			Name:             "Broken",
			EntityType:       "candidates",
			MatchFields:      []string{"email"},
			MatchType:        "exact",
			FilterExpression: "record.country ==",
			Enabled:          true,
		}, nil)
		if code != http.StatusBadRequest {
			t.Errorf("Expected HTTP 400 for invalid filter, got %d", code)
		}
	})
}
