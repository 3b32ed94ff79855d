package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Service assembles risk summaries from stored assessments.
type Service struct {
	repo       domain.Repository
	engine     *rules.Engine
	aggregator *Aggregator
}

// NewService creates a summary service. A nil engine skips alert rules.
func NewService(repo domain.Repository, engine *rules.Engine, aggregator *Aggregator) *Service {
	if aggregator == nil {
		aggregator = NewAggregator()
	}
	return &Service{repo: repo, engine: engine, aggregator: aggregator}
}

// Summarize loads the user's latest KYC check and transaction assessment,
// evaluates the alert rules and aggregates the result.
func (s *Service) Summarize(ctx context.Context, tenantID, userID, traceID string) (*domain.RiskSummary, error) {
	start := time.Now()

	var (
		kyc *domain.KYCResult
		txn *domain.TransactionRiskRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rec, err := s.repo.GetKYCCheck(gctx, tenantID, userID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("load kyc check: %w", err)
		}
		kyc = rec
		return nil
	})
	g.Go(func() error {
		rec, err := s.repo.GetTransactionRisk(gctx, tenantID, userID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("load transaction risk: %w", err)
		}
		txn = rec
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []domain.RuleResult
	if s.engine != nil {
		var err error
		results, err = s.engine.EvaluateAll(ctx, &rules.EvaluateInput{
			TenantID: tenantID,
			UserID:   userID,
			Profile:  s.aggregator.Profile(kyc, txn),
		})
		if err != nil {
			return nil, fmt.Errorf("evaluate rules: %w", err)
		}
	}

	summary := s.aggregator.Process(&Input{
		TenantID:     tenantID,
		UserID:       userID,
		TraceID:      traceID,
		KYC:          kyc,
		Transactions: txn,
		RuleResults:  results,
		StartTime:    start,
	})

	slog.Debug("risk summary",
		"tenant_id", tenantID,
		"user_id", userID,
		"status", summary.Status,
		"total_risk", summary.TotalRiskScore,
		"rules", len(results),
	)
	return summary, nil
}
