// Package worker provides async scan processing over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hirewise/magpie/internal/domain"
	"github.com/hirewise/magpie/internal/scan"
)

// Worker consumes scan requests from the EventBus and runs them through
// the detector.
type Worker struct {
	bus      domain.EventBus
	detector *scan.Detector

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// OrganizationIDs is the list of organizations to process
	// (empty = all via the global subscription)
	OrganizationIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, detector *scan.Detector) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		detector: detector,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing scan requests for the given organizations.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.OrganizationIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, orgID := range cfg.OrganizationIDs {
		if err := w.startOrgWorker(orgID); err != nil {
			slog.Error("failed to start worker for organization",
				"organization_id", orgID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"organization_count", len(cfg.OrganizationIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all organizations
// (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" organization ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicScanRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startOrgWorker starts a worker for a specific organization.
func (w *Worker) startOrgWorker(orgID string) error {
	sub, err := w.bus.Subscribe(w.ctx, orgID, domain.TopicScanRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processScanRequest(ctx, orgID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("organization worker started",
		"organization_id", orgID,
		"topic", domain.TopicScanRequested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processScanRequest(ctx, msg.OrganizationID, msg)
}

// processScanRequest runs one detection batch for a queued scan request.
func (w *Worker) processScanRequest(ctx context.Context, orgID string, msg *domain.Message) error {
	start := time.Now()

	var req domain.ScanRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse scan request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message organization if provided
	if req.OrganizationID == "" {
		req.OrganizationID = orgID
	}

	slog.Debug("processing scan request",
		"organization_id", req.OrganizationID,
		"entity_type", req.EntityType,
		"rule_id", req.RuleID,
	)

	report, err := w.detector.Run(ctx, &req)
	if err != nil {
		slog.Error("async scan failed",
			"organization_id", req.OrganizationID,
			"entity_type", req.EntityType,
			"error", err,
		)
		failure, _ := json.Marshal(map[string]string{
			"entityType": string(req.EntityType),
			"error":      err.Error(),
		})
		if pubErr := w.bus.Publish(ctx, req.OrganizationID, domain.TopicScanFailed, failure); pubErr != nil {
			slog.Error("failed to publish scan failure", "error", pubErr)
		}
		return err
	}

	// Publish the completed report
	payload, _ := json.Marshal(report)
	if err := w.bus.Publish(ctx, req.OrganizationID, domain.TopicScanCompleted, payload); err != nil {
		slog.Error("failed to publish scan completion",
			"organization_id", req.OrganizationID,
			"error", err,
		)
	}

	// Notify downstream consumers when the run found something new
	if report.DuplicatesInserted > 0 {
		if err := w.bus.Publish(ctx, req.OrganizationID, domain.TopicDuplicatesDetected, payload); err != nil {
			slog.Error("failed to publish duplicates detected event",
				"organization_id", req.OrganizationID,
				"error", err,
			)
		}
	}

	slog.Info("scan request processed",
		"organization_id", req.OrganizationID,
		"entity_type", req.EntityType,
		"duplicates_found", report.DuplicatesFound,
		"duplicates_inserted", report.DuplicatesInserted,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
