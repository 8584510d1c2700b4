// Benchmark tool for testing Magpie against labeled duplicate data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/records.csv -url http://localhost:8080
//
// This tool:
//   1. Reads CRM record data with duplicate-group labels
//   2. Ingests each record into Magpie
//   3. Runs a detection scan and fetches the duplicate candidates
//   4. Compares detected pairs with the labeled pairs
//   5. Calculates precision, recall, F1-score, and confusion counts
//
// The CSV must have an "id" column and a "dup_group" column; records
// sharing a non-empty dup_group value are true duplicates of each other.
// Every other column is ingested as a record field.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledRecord is a row from the benchmark dataset.
type LabeledRecord struct {
	ID       string
	Fields   map[string]any
	DupGroup string
}

// RecordRequest is the Magpie record ingestion format.
type RecordRequest struct {
	Fields map[string]any `json:"fields"`
}

// ScanRequest is the Magpie scan request format.
type ScanRequest struct {
	EntityType string `json:"entityType"`
}

// ScanReport is the Magpie scan response format.
type ScanReport struct {
	RecordsScanned     int   `json:"recordsScanned"`
	DuplicatesFound    int   `json:"duplicatesFound"`
	DuplicatesInserted int   `json:"duplicatesInserted"`
	DurationMs         int64 `json:"durationMs"`
}

// DuplicateCandidate is the subset of the duplicates response we score.
type DuplicateCandidate struct {
	RecordIDLow     string  `json:"recordIdLow"`
	RecordIDHigh    string  `json:"recordIdHigh"`
	ConfidenceScore float64 `json:"confidenceScore"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Labeled pair detected
	FalsePositives int64 // Unlabeled pair detected
	FalseNegatives int64 // Labeled pair missed

	TotalRecords  int64
	IngestErrors  int64
	IngestTimeMs  int64
	LabeledPairs  int64
	DetectedPairs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled records CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Magpie base URL")
	orgID := flag.String("org", "benchmark-test", "Organization ID for requests")
	entityType := flag.String("entity", "candidates", "Entity type to ingest and scan")
	limit := flag.Int("limit", 10000, "Maximum records to ingest (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent ingest workers")
	verbose := flag.Bool("verbose", false, "Print each detected pair")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/records.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         MAGPIE BENCHMARK - Duplicate Detection                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Magpie URL:  %s\n", *baseURL)
	fmt.Printf("Org ID:      %s\n", *orgID)
	fmt.Printf("Entity Type: %s\n", *entityType)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Magpie is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Magpie not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Magpie is running:")
		fmt.Println("  cd magpie && go run cmd/magpie/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Magpie is healthy")

	// Read labeled data
	fmt.Printf("\nReading labeled records from %s...\n", *csvPath)
	records, err := readLabeledCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d records\n", len(records))

	// Build ground-truth pairs from duplicate groups
	truth := buildTruthPairs(records)
	fmt.Printf("  - Labeled duplicate pairs: %d\n", len(truth))

	metrics := &Metrics{LabeledPairs: int64(len(truth))}

	// Ingest records
	fmt.Printf("\nIngesting with %d workers...\n", *workers)
	ingestStart := time.Now()
	ingestRecords(records, *baseURL, *orgID, *entityType, *workers, metrics)
	fmt.Printf("✓ Ingested %d records in %v (%d errors)\n",
		metrics.TotalRecords, time.Since(ingestStart).Round(time.Millisecond), metrics.IngestErrors)

	// Run the scan
	fmt.Println("\nRunning detection scan...")
	report, err := runScan(*baseURL, *orgID, *entityType)
	if err != nil {
		fmt.Printf("ERROR: Scan failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Scanned %d records, found %d candidates in %d ms\n",
		report.RecordsScanned, report.DuplicatesFound, report.DurationMs)

	// Fetch and score detected pairs
	detected, err := fetchDuplicates(*baseURL, *orgID, *entityType)
	if err != nil {
		fmt.Printf("ERROR: Failed to fetch duplicates: %v\n", err)
		os.Exit(1)
	}
	scorePairs(truth, detected, metrics, *verbose)

	printResults(metrics, report)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readLabeledCSV(path string, limit int) ([]LabeledRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	idCol, ok := colIndex["id"]
	if !ok {
		return nil, fmt.Errorf("CSV must have an 'id' column")
	}
	groupCol, ok := colIndex["dup_group"]
	if !ok {
		return nil, fmt.Errorf("CSV must have a 'dup_group' column")
	}

	var records []LabeledRecord

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		rec := LabeledRecord{
			ID:       row[idCol],
			DupGroup: strings.TrimSpace(row[groupCol]),
			Fields:   make(map[string]any),
		}
		if rec.ID == "" {
			continue
		}
		for name, idx := range colIndex {
			if idx == idCol || idx == groupCol || idx >= len(row) {
				continue
			}
			rec.Fields[name] = row[idx]
		}

		records = append(records, rec)

		if limit > 0 && len(records) >= limit {
			break
		}
	}

	return records, nil
}

// buildTruthPairs returns canonical "low|high" keys for every pair of
// records sharing a duplicate group.
func buildTruthPairs(records []LabeledRecord) map[string]bool {
	groups := make(map[string][]string)
	for _, rec := range records {
		if rec.DupGroup != "" {
			groups[rec.DupGroup] = append(groups[rec.DupGroup], rec.ID)
		}
	}

	truth := make(map[string]bool)
	for _, ids := range groups {
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				truth[pairKey(ids[i], ids[j])] = true
			}
		}
	}
	return truth
}

func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

func ingestRecords(records []LabeledRecord, baseURL, orgID, entityType string, numWorkers int, metrics *Metrics) {
	work := make(chan LabeledRecord, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for rec := range work {
				start := time.Now()
				err := putRecord(client, baseURL, orgID, entityType, rec)
				atomic.AddInt64(&metrics.IngestTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalRecords, 1)
				if err != nil {
					atomic.AddInt64(&metrics.IngestErrors, 1)
				}
			}
		}()
	}

	for _, rec := range records {
		work <- rec
	}
	close(work)

	wg.Wait()
}

func putRecord(client *http.Client, baseURL, orgID, entityType string, rec LabeledRecord) error {
	body, err := json.Marshal(RecordRequest{Fields: rec.Fields})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/records/%s/%s", baseURL, entityType, rec.ID)
	httpReq, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Org-ID", orgID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func runScan(baseURL, orgID, entityType string) (*ScanReport, error) {
	body, err := json.Marshal(ScanRequest{EntityType: entityType})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/scan", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Org-ID", orgID)

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var report ScanReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

func fetchDuplicates(baseURL, orgID, entityType string) ([]DuplicateCandidate, error) {
	url := fmt.Sprintf("%s/duplicates?entityType=%s", baseURL, entityType)
	httpReq, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-Org-ID", orgID)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result struct {
		Duplicates []DuplicateCandidate `json:"duplicates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Duplicates, nil
}

func scorePairs(truth map[string]bool, detected []DuplicateCandidate, metrics *Metrics, verbose bool) {
	detectedKeys := make(map[string]bool, len(detected))
	for _, d := range detected {
		key := pairKey(d.RecordIDLow, d.RecordIDHigh)
		detectedKeys[key] = true

		if truth[key] {
			metrics.TruePositives++
		} else {
			metrics.FalsePositives++
		}

		if verbose {
			status := "✓"
			if !truth[key] {
				status = "✗"
			}
			fmt.Printf("%s %s <-> %s (%.2f)\n", status, d.RecordIDLow, d.RecordIDHigh, d.ConfidenceScore)
		}
	}
	for key := range truth {
		if !detectedKeys[key] {
			metrics.FalseNegatives++
		}
	}
	metrics.DetectedPairs = int64(len(detected))
}

func printResults(m *Metrics, report *ScanReport) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Records Ingested:  %d\n", m.TotalRecords)
	fmt.Printf("   Labeled Pairs:     %d\n", m.LabeledPairs)
	fmt.Printf("   Detected Pairs:    %d\n", m.DetectedPairs)
	fmt.Printf("   Ingest Errors:     %d\n", m.IngestErrors)

	fmt.Printf("\n📈 PAIR COUNTS\n")
	fmt.Printf("   True Positives:   %d  (labeled and detected)\n", m.TruePositives)
	fmt.Printf("   False Positives:  %d  (detected but unlabeled)\n", m.FalsePositives)
	fmt.Printf("   False Negatives:  %d  (labeled but missed)\n", m.FalseNegatives)

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of detected pairs, how many were real duplicates)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of real duplicates, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Scan Duration:    %d ms\n", report.DurationMs)
	if m.TotalRecords > 0 {
		avgMs := float64(m.IngestTimeMs) / float64(m.TotalRecords)
		fmt.Printf("   Avg Ingest:       %.2f ms\n", avgMs)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most duplicates")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some duplicates")
	} else {
		fmt.Println("   ❌ Poor recall - most duplicates are being missed!")
	}

	if precision >= 0.8 {
		fmt.Println("   ✅ Good precision - candidates are meaningful")
	} else if precision >= 0.5 {
		fmt.Println("   ⚠️  Moderate precision - review queue has noise")
	} else {
		fmt.Println("   ❌ Low precision - mostly false candidates")
	}

	fmt.Println()
}
