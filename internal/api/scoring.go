package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// defaultUserID is used by /predict when the caller does not name a user.
const defaultUserID = "demo"

// noTransactionsMessage is returned when a statement yields nothing usable.
const noTransactionsMessage = "No transactions detected. Edit manually if needed."

// TransactionsRequest carries a user's transactions.
type TransactionsRequest struct {
	UserID       string                  `json:"userId"`
	Transactions []domain.RawTransaction `json:"transactions"`
}

// NormalizeResponse is the response for POST /transactions/normalize.
type NormalizeResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
	Dropped      int                  `json:"dropped"`
}

// NormalizeTransactions handles POST /transactions/normalize.
func (h *Handler) NormalizeTransactions(w http.ResponseWriter, r *http.Request) {
	var req TransactionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	txs, dropped := ingest.NormalizeAll(req.Transactions)
	writeJSON(w, http.StatusOK, NormalizeResponse{Transactions: txs, Dropped: dropped})
}

// IngestTransactions handles POST /transactions/ingest by queueing the batch
// on the worker's shared queue.
func (h *Handler) IngestTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	if h.bus == nil {
		writeError(w, r, unavailable("event bus"))
		return
	}

	var req TransactionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, r, badRequest("userId is required"))
		return
	}
	if req.Transactions == nil {
		req.Transactions = []domain.RawTransaction{}
	}

	batch := domain.TransactionBatch{
		UserID:       req.UserID,
		TenantID:     tenantID,
		TraceID:      traceID,
		Transactions: req.Transactions,
	}
	// The shared queue is always consumed; the batch carries its tenant.
	if err := bus.PublishJSON(ctx, h.bus, worker.GlobalTenant, domain.TopicTransactionsIngested, batch); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Debug("batch queued",
		"tenant_id", tenantID,
		"user_id", req.UserID,
		"trace_id", traceID,
		"transactions", len(req.Transactions),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"userId":       req.UserID,
		"traceId":      traceID,
		"transactions": len(req.Transactions),
	})
}

// StatementResponse is the response for POST /statements/parse.
type StatementResponse struct {
	Transactions []domain.RawTransaction `json:"transactions"`
	Message      string                  `json:"message,omitempty"`
}

// ParseStatement handles POST /statements/parse.
func (h *Handler) ParseStatement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	resp := StatementResponse{Transactions: ingest.ParseStatement(req.Text)}
	if len(resp.Transactions) == 0 {
		resp.Transactions = []domain.RawTransaction{}
		resp.Message = noTransactionsMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

// FeaturesResponse is the response for POST /features.
type FeaturesResponse struct {
	Features domain.FeatureVector `json:"features"`
	Used     int                  `json:"used"`
	Dropped  int                  `json:"dropped"`
}

// Features handles POST /features.
func (h *Handler) Features(w http.ResponseWriter, r *http.Request) {
	var req TransactionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	txs, dropped := ingest.NormalizeAll(req.Transactions)
	writeJSON(w, http.StatusOK, FeaturesResponse{
		Features: features.Extract(txs).Rounded(),
		Used:     len(txs),
		Dropped:  dropped,
	})
}

// PredictRequest is the request body for POST /predict.
type PredictRequest struct {
	UserID       string                  `json:"userId"`
	Transactions []domain.RawTransaction `json:"transactions"`
	Mode         string                  `json:"mode,omitempty"` // "ml" (default) or "fallback"
	Features     *domain.FeatureVector   `json:"features,omitempty"`
}

// PredictResponse is the response for POST /predict.
type PredictResponse struct {
	UserID        string                `json:"userId"`
	Score         int                   `json:"score"`
	Tier          domain.Tier           `json:"tier"`
	Probability   float64               `json:"probability"`
	Contributions []domain.Contribution `json:"contributions"`
	Features      *domain.FeatureVector `json:"features"`
	Summary       []string              `json:"summary"`
	Source        string                `json:"source"`
	TraceID       string                `json:"traceId"`
}

// Predict handles POST /predict. Transactions are validated strictly; the
// external model is tried unless disabled, with the local scorer as fallback.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req PredictRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := ingest.Validate(req.Transactions); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UserID == "" {
		req.UserID = defaultUserID
	}
	if req.Transactions == nil {
		req.Transactions = []domain.RawTransaction{}
	}

	predictor := h.predictor
	if req.Mode == domain.SourceFallback || h.disableML {
		predictor = h.fallback
	}

	in := &scoring.PredictInput{
		TenantID:     tenantID,
		UserID:       req.UserID,
		Transactions: req.Transactions,
		Features:     req.Features,
	}
	res, err := predictor.Predict(ctx, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Features == nil {
		fv := scoring.FeaturesFor(in).Rounded()
		res.Features = &fv
	}
	if res.Contributions == nil {
		res.Contributions = []domain.Contribution{}
	}
	metrics.CreditScores.WithLabelValues(string(res.Tier), res.Source).Inc()

	if h.repo != nil {
		rec := &domain.CreditScoreRecord{
			UserID:      req.UserID,
			Score:       res.Score,
			Tier:        res.Tier,
			Probability: domain.RoundTo(res.Probability, 4),
			Source:      res.Source,
			Features:    *res.Features,
		}
		if err := h.repo.SaveCreditScore(ctx, tenantID, rec); err != nil {
			slog.Error("failed to save credit score", "tenant_id", tenantID, "user_id", req.UserID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, PredictResponse{
		UserID:        req.UserID,
		Score:         res.Score,
		Tier:          res.Tier,
		Probability:   domain.RoundTo(res.Probability, 4),
		Contributions: res.Contributions,
		Features:      res.Features,
		Summary:       res.Summary,
		Source:        res.Source,
		TraceID:       GetTraceID(ctx),
	})
}

// CalibrateRequest is the request body for POST /calibrate.
type CalibrateRequest struct {
	Probability *float64 `json:"probability"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// CalibrateResponse is the response for POST /calibrate.
type CalibrateResponse struct {
	Probability float64     `json:"probability"`
	Temperature float64     `json:"temperature"`
	Score       int         `json:"score"`
	Tier        domain.Tier `json:"tier"`
}

// Calibrate handles POST /calibrate.
func (h *Handler) Calibrate(w http.ResponseWriter, r *http.Request) {
	var req CalibrateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Probability == nil || *req.Probability < 0 || *req.Probability > 1 {
		writeError(w, r, badRequest("probability must be between 0 and 1"))
		return
	}
	temperature := h.temperature
	if req.Temperature != nil {
		if *req.Temperature < 0.5 {
			writeError(w, r, badRequest("temperature must be at least 0.5"))
			return
		}
		temperature = *req.Temperature
	}

	p := scoring.Calibrate(*req.Probability, temperature)
	score := scoring.ProbabilityToScore(p)
	writeJSON(w, http.StatusOK, CalibrateResponse{
		Probability: domain.RoundTo(p, 4),
		Temperature: temperature,
		Score:       score,
		Tier:        scoring.TierFor(score),
	})
}

// ListScores handles GET /scores/{userId}, newest first.
func (h *Handler) ListScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userId")

	if h.repo == nil {
		writeError(w, r, unavailable("repository"))
		return
	}

	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, r, badRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}

	scores, err := h.repo.ListCreditScores(ctx, GetTenantID(ctx), userID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId": userID,
		"scores": scores,
		"count":  len(scores),
	})
}
