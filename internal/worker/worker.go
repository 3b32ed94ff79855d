// Package worker assesses transaction batches arriving on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/riskscore"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// GlobalTenant is the shared ingestion queue. Batches published there carry
// their owning tenant in TransactionBatch.TenantID.
const GlobalTenant = "_global"

// DefaultAlertThreshold is the risk score at which an alert is published.
const DefaultAlertThreshold = 0.7

var errMissingUser = errors.New("batch has no userId")

// Worker scores and risk-assesses ingested batches.
type Worker struct {
	bus            domain.EventBus
	repo           domain.Repository
	predictor      scoring.Predictor
	analyzer       *riskscore.Analyzer
	alertThreshold float64

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs get their own subscriptions in addition to GlobalTenant
	TenantIDs []string

	// AlertThreshold overrides DefaultAlertThreshold when positive
	AlertThreshold float64
}

// NewWorker creates a worker. A nil repo skips persistence.
func NewWorker(b domain.EventBus, repo domain.Repository, predictor scoring.Predictor, analyzer *riskscore.Analyzer) *Worker {
	if predictor == nil {
		predictor = scoring.NewLocalPredictor()
	}
	if analyzer == nil {
		analyzer = riskscore.NewAnalyzer(domain.DefaultCryptoKeywords, riskscore.DefaultLargeTxnFloor)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:            b,
		repo:           repo,
		predictor:      predictor,
		analyzer:       analyzer,
		alertThreshold: DefaultAlertThreshold,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start subscribes to the ingestion topic for each tenant.
func (w *Worker) Start(cfg Config) error {
	if cfg.AlertThreshold > 0 {
		w.alertThreshold = cfg.AlertThreshold
	}

	tenants := []string{GlobalTenant}
	for _, id := range cfg.TenantIDs {
		if id != "" && id != GlobalTenant {
			tenants = append(tenants, id)
		}
	}

	started := 0
	for _, tenantID := range tenants {
		tenantID := tenantID
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionsIngested, func(ctx context.Context, msg *domain.Message) error {
			return w.handle(ctx, tenantID, msg)
		})
		if err != nil {
			slog.Error("failed to start worker for tenant", "tenant_id", tenantID, "error", err)
			continue
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
		started++
	}
	if started == 0 {
		return fmt.Errorf("no worker subscriptions started")
	}

	slog.Info("workers started", "tenant_count", started, "topic", domain.TopicTransactionsIngested)
	return nil
}

func (w *Worker) handle(ctx context.Context, tenantID string, msg *domain.Message) error {
	err := w.Process(ctx, tenantID, msg)
	outcome := "processed"
	if err != nil {
		outcome = "failed"
		slog.Error("batch processing failed", "message_id", msg.ID, "tenant_id", tenantID, "error", err)
	}
	metrics.WorkerMessages.WithLabelValues(outcome).Inc()
	return err
}

// Process runs one bus message through scoring and risk assessment.
func (w *Worker) Process(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var batch domain.TransactionBatch
	if err := json.Unmarshal(msg.Payload, &batch); err != nil {
		return fmt.Errorf("parse batch: %w", err)
	}
	if batch.TenantID != "" {
		tenantID = batch.TenantID
	}
	if batch.UserID == "" {
		return errMissingUser
	}
	traceID := batch.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	score, err := w.predictor.Predict(ctx, &scoring.PredictInput{
		TenantID:     tenantID,
		UserID:       batch.UserID,
		Transactions: batch.Transactions,
	})
	if err != nil {
		return fmt.Errorf("score batch: %w", err)
	}
	metrics.CreditScores.WithLabelValues(string(score.Tier), score.Source).Inc()

	risk := w.analyzer.Analyze(riskscore.FromRaw(batch.Transactions))
	alerted := risk.RiskScore >= w.alertThreshold
	metrics.RiskAssessments.WithLabelValues(metrics.Bool(alerted)).Inc()

	if w.repo != nil {
		rec := &domain.CreditScoreRecord{
			UserID:      batch.UserID,
			Score:       score.Score,
			Tier:        score.Tier,
			Probability: score.Probability,
			Source:      score.Source,
		}
		if score.Features != nil {
			rec.Features = *score.Features
		}
		if err := w.repo.SaveCreditScore(ctx, tenantID, rec); err != nil {
			return fmt.Errorf("save credit score: %w", err)
		}
		if err := w.repo.SaveTransactionRisk(ctx, tenantID, &domain.TransactionRiskRecord{
			UserID:  batch.UserID,
			Result:  risk,
			TxCount: len(batch.Transactions),
		}); err != nil {
			return fmt.Errorf("save transaction risk: %w", err)
		}
	}

	assessed := domain.RiskAssessedEvent{
		TenantID: tenantID,
		UserID:   batch.UserID,
		TraceID:  traceID,
		Result:   risk,
		TxCount:  len(batch.Transactions),
	}
	if err := bus.PublishJSON(ctx, w.bus, tenantID, domain.TopicRiskAssessed, assessed); err != nil {
		slog.Error("failed to publish risk assessment", "user_id", batch.UserID, "error", err)
	}
	if err := bus.PublishJSON(ctx, w.bus, tenantID, domain.TopicCreditScored, domain.CreditScoredEvent{
		TenantID:    tenantID,
		UserID:      batch.UserID,
		TraceID:     traceID,
		Score:       score.Score,
		Tier:        score.Tier,
		Probability: score.Probability,
		Source:      score.Source,
	}); err != nil {
		slog.Error("failed to publish credit score", "user_id", batch.UserID, "error", err)
	}
	if alerted {
		if err := bus.PublishJSON(ctx, w.bus, tenantID, domain.TopicAlert, assessed); err != nil {
			slog.Error("failed to publish alert", "user_id", batch.UserID, "error", err)
		}
	}

	slog.Info("batch processed",
		"tenant_id", tenantID,
		"user_id", batch.UserID,
		"trace_id", traceID,
		"transactions", len(batch.Transactions),
		"score", score.Score,
		"tier", score.Tier,
		"risk_score", risk.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes everything.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
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
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{SubscriptionCount: len(w.subscriptions), Topics: topics}
}
