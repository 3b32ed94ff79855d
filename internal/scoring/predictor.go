package scoring

import (
	"context"
	"errors"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// ErrUpstream wraps every failure of the external model service.
var ErrUpstream = errors.New("ml service unavailable")

// PredictInput is everything a predictor may use to score a user.
type PredictInput struct {
	TenantID     string
	UserID       string
	Transactions []domain.RawTransaction

	// Features, when set, replaces extraction from Transactions.
	Features *domain.FeatureVector
}

// Predictor produces a credit score for a user.
type Predictor interface {
	Predict(ctx context.Context, in *PredictInput) (*domain.ScoreResult, error)
}

// LocalPredictor scores with the deterministic weighted scorer.
type LocalPredictor struct{}

// NewLocalPredictor creates a local predictor.
func NewLocalPredictor() *LocalPredictor {
	return &LocalPredictor{}
}

// Predict never fails.
func (p *LocalPredictor) Predict(ctx context.Context, in *PredictInput) (*domain.ScoreResult, error) {
	fv := FeaturesFor(in)
	res := Score(fv)
	return &res, nil
}

// FeaturesFor returns the supplied features or extracts them from the transactions.
func FeaturesFor(in *PredictInput) domain.FeatureVector {
	if in.Features != nil {
		return *in.Features
	}
	txs, _ := ingest.NormalizeAll(in.Transactions)
	return features.Extract(txs)
}

// FallbackPredictor tries a primary predictor and answers from a fallback on any error.
type FallbackPredictor struct {
	primary  Predictor
	fallback Predictor
}

// WithFallback composes a primary predictor with a deterministic fallback.
func WithFallback(primary, fallback Predictor) *FallbackPredictor {
	return &FallbackPredictor{primary: primary, fallback: fallback}
}

// Predict calls the primary first. A nil primary goes straight to the fallback.
func (p *FallbackPredictor) Predict(ctx context.Context, in *PredictInput) (*domain.ScoreResult, error) {
	if p.primary != nil {
		res, err := p.primary.Predict(ctx, in)
		if err == nil {
			return res, nil
		}
		slog.Warn("primary predictor failed, using fallback",
			"tenant_id", in.TenantID,
			"user_id", in.UserID,
			"error", err,
		)
		metrics.PredictorFallbacks.Inc()
	}
	return p.fallback.Predict(ctx, in)
}

// Fallback exposes the deterministic predictor for callers that bypass the model.
func (p *FallbackPredictor) Fallback() Predictor {
	return p.fallback
}
