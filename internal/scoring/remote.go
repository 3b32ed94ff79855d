package scoring

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel-scoring")

// maxResponseBytes bounds how much of an upstream body is read.
const maxResponseBytes = 1 << 20

// RemoteConfig configures the external model client.
type RemoteConfig struct {
	BaseURL     string
	Timeout     time.Duration
	Temperature float64

	// Cache is optional. Successful responses are kept for CacheTTL.
	Cache    domain.Cache
	CacheTTL time.Duration
}

// RemotePredictor calls an external model over HTTP and calibrates its probability.
type RemotePredictor struct {
	url         string
	client      *http.Client
	temperature float64
	cache       domain.Cache
	cacheTTL    time.Duration
}

// NewRemotePredictor creates a client for POST {BaseURL}/predict.
func NewRemotePredictor(cfg RemoteConfig) *RemotePredictor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	temp := cfg.Temperature
	if temp == 0 {
		temp = DefaultTemperature
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RemotePredictor{
		url:         strings.TrimRight(cfg.BaseURL, "/") + "/predict",
		client:      &http.Client{Timeout: timeout},
		temperature: temp,
		cache:       cfg.Cache,
		cacheTTL:    ttl,
	}
}

type modelRequest struct {
	UserID       string                  `json:"userId"`
	Transactions []domain.RawTransaction `json:"transactions"`
}

type modelContribution struct {
	Feature     string  `json:"feature"`
	Value       float64 `json:"value"`
	Description string  `json:"description"`
}

type modelResponse struct {
	ProbGood      *float64              `json:"prob_good"`
	Contributions []modelContribution   `json:"contributions"`
	Features      *domain.FeatureVector `json:"features"`
	Summary       []string              `json:"summary"`
}

// Predict scores via the external model. Every failure wraps ErrUpstream.
func (p *RemotePredictor) Predict(ctx context.Context, in *PredictInput) (*domain.ScoreResult, error) {
	ctx, span := tracer.Start(ctx, "ml.predict",
		trace.WithAttributes(
			attribute.String("tenant.id", in.TenantID),
			attribute.String("user.id", in.UserID),
			attribute.Int("transactions", len(in.Transactions)),
		),
	)
	defer span.End()

	txs := in.Transactions
	if txs == nil {
		txs = []domain.RawTransaction{}
	}
	body, err := json.Marshal(modelRequest{UserID: in.UserID, Transactions: txs})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrUpstream, err)
	}

	key := cacheKey(body)
	if resp := p.cached(ctx, in.TenantID, key); resp != nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return p.toResult(resp), nil
	}

	raw, err := p.call(ctx, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var resp modelResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		span.SetStatus(codes.Error, "decode")
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}

	if p.cache != nil && in.TenantID != "" {
		if err := p.cache.Set(ctx, in.TenantID, key, raw, p.cacheTTL); err != nil {
			slog.Debug("ml response cache write failed", "tenant_id", in.TenantID, "error", err)
		}
	}

	return p.toResult(&resp), nil
}

func (p *RemotePredictor) call(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	return raw, nil
}

func (p *RemotePredictor) cached(ctx context.Context, tenantID, key string) *modelResponse {
	if p.cache == nil || tenantID == "" {
		return nil
	}
	raw, err := p.cache.Get(ctx, tenantID, key)
	if err != nil || raw == nil {
		return nil
	}
	var resp modelResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil
	}
	return &resp
}

func (p *RemotePredictor) toResult(resp *modelResponse) *domain.ScoreResult {
	prob := 0.5
	if resp.ProbGood != nil {
		prob = *resp.ProbGood
	}
	calibrated := Calibrate(prob, p.temperature)
	score := ProbabilityToScore(calibrated)

	contributions := make([]domain.Contribution, 0, len(resp.Contributions))
	for _, c := range resp.Contributions {
		contributions = append(contributions, domain.Contribution{
			Feature:     c.Feature,
			Points:      int(jsRound(c.Value)),
			Description: c.Description,
		})
	}

	return &domain.ScoreResult{
		Score:         score,
		Tier:          TierFor(score),
		Probability:   calibrated,
		Contributions: contributions,
		Source:        domain.SourceModel,
		Features:      resp.Features,
		Summary:       resp.Summary,
	}
}

func cacheKey(body []byte) string {
	sum := sha256.Sum256(body)
	return "ml:predict:" + hex.EncodeToString(sum[:])
}
