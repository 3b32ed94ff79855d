package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/kyc"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/namematch"
	"github.com/opensource-finance/kestrel/internal/riskscore"
)

// AssessTransactions handles POST /risk/transactions. The result replaces the
// user's previous assessment.
func (h *Handler) AssessTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req TransactionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, r, badRequest("userId is required"))
		return
	}
	if len(req.Transactions) == 0 {
		writeError(w, r, badRequest("transactions must not be empty"))
		return
	}

	result := h.analyzer.Analyze(riskscore.FromRaw(req.Transactions))
	alerted := result.RiskScore >= h.alertThreshold
	metrics.RiskAssessments.WithLabelValues(metrics.Bool(alerted)).Inc()

	if h.repo != nil {
		rec := &domain.TransactionRiskRecord{
			UserID:  req.UserID,
			Result:  result,
			TxCount: len(req.Transactions),
		}
		if err := h.repo.SaveTransactionRisk(ctx, tenantID, rec); err != nil {
			slog.Error("failed to save transaction risk", "tenant_id", tenantID, "user_id", req.UserID, "error", err)
		}
	}

	if h.bus != nil {
		event := domain.RiskAssessedEvent{
			TenantID: tenantID,
			UserID:   req.UserID,
			TraceID:  traceID,
			Result:   result,
			TxCount:  len(req.Transactions),
		}
		if err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicRiskAssessed, event); err != nil {
			slog.Error("failed to publish risk assessment", "user_id", req.UserID, "error", err)
		}
		if alerted {
			if err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicAlert, event); err != nil {
				slog.Error("failed to publish alert", "user_id", req.UserID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// KYCRequest is the request body for POST /kyc/verify.
type KYCRequest struct {
	UserID       string   `json:"userId"`
	Name         string   `json:"name"`
	Aliases      []string `json:"aliases"`
	DocumentText string   `json:"documentText"`
}

// VerifyKYC handles POST /kyc/verify on already OCR'd document text.
func (h *Handler) VerifyKYC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req KYCRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, r, badRequest("userId is required"))
		return
	}

	res := h.verifier.Verify(kyc.Input{
		UserID:       req.UserID,
		Name:         req.Name,
		Aliases:      req.Aliases,
		DocumentText: req.DocumentText,
	})
	res.TenantID = tenantID
	metrics.KYCChecks.WithLabelValues(metrics.Bool(res.Verified)).Inc()

	if h.repo != nil {
		if err := h.repo.SaveKYCCheck(ctx, tenantID, &res); err != nil {
			slog.Error("failed to save kyc check", "tenant_id", tenantID, "user_id", req.UserID, "error", err)
		}
	}

	slog.Info("kyc verified",
		"tenant_id", tenantID,
		"user_id", req.UserID,
		"verified", res.Verified,
		"fraud_score", res.FraudScore,
		"alerts", len(res.Alerts),
	)
	writeJSON(w, http.StatusOK, res)
}

// NameMatchRequest is the request body for POST /namematch.
type NameMatchRequest struct {
	ClaimedName  string   `json:"claimedName"`
	Aliases      []string `json:"aliases"`
	DocumentText string   `json:"documentText"`
	Threshold    *float64 `json:"threshold,omitempty"`
}

// MatchName handles POST /namematch.
func (h *Handler) MatchName(w http.ResponseWriter, r *http.Request) {
	var req NameMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	threshold := h.nameThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	writeJSON(w, http.StatusOK, namematch.Match(req.ClaimedName, req.Aliases, req.DocumentText, threshold))
}

// RiskSummary handles GET /risk/summary/{userId}.
func (h *Handler) RiskSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.summary == nil {
		writeError(w, r, unavailable("risk summary"))
		return
	}

	s, err := h.summary.Summarize(ctx, GetTenantID(ctx), chi.URLParam(r, "userId"), GetTraceID(ctx))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
