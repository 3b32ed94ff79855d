package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/kyc"
	"github.com/opensource-finance/kestrel/internal/mentor"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/riskscore"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/summary"
)

// maxBodyBytes bounds request bodies; statements and OCR text are the largest.
const maxBodyBytes = 10 << 20

// Deps are the collaborators the handlers use. Nil storage, bus and rule
// engine make their endpoints answer 503; the engines get defaults.
type Deps struct {
	Repo  domain.Repository
	Cache domain.Cache
	Bus   domain.EventBus

	Predictor scoring.Predictor
	Fallback  scoring.Predictor
	Analyzer  *riskscore.Analyzer
	Verifier  *kyc.Verifier
	Engine    *rules.Engine
	Summary   *summary.Service

	Temperature    float64
	DisableML      bool
	NameThreshold  float64
	AlertThreshold float64
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	predictor scoring.Predictor
	fallback  scoring.Predictor
	analyzer  *riskscore.Analyzer
	verifier  *kyc.Verifier
	engine    *rules.Engine
	summary   *summary.Service

	temperature    float64
	disableML      bool
	nameThreshold  float64
	alertThreshold float64
	version        string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string) *Handler {
	h := &Handler{
		repo:           deps.Repo,
		cache:          deps.Cache,
		bus:            deps.Bus,
		predictor:      deps.Predictor,
		fallback:       deps.Fallback,
		analyzer:       deps.Analyzer,
		verifier:       deps.Verifier,
		engine:         deps.Engine,
		summary:        deps.Summary,
		temperature:    deps.Temperature,
		disableML:      deps.DisableML,
		nameThreshold:  deps.NameThreshold,
		alertThreshold: deps.AlertThreshold,
		version:        version,
	}
	if h.fallback == nil {
		h.fallback = scoring.NewLocalPredictor()
	}
	if h.predictor == nil {
		h.predictor = h.fallback
	}
	if h.analyzer == nil {
		h.analyzer = riskscore.NewAnalyzer(domain.DefaultCryptoKeywords, riskscore.DefaultLargeTxnFloor)
	}
	if h.verifier == nil {
		h.verifier = kyc.NewVerifier(h.nameThreshold)
	}
	if h.summary == nil && h.repo != nil {
		h.summary = summary.NewService(h.repo, h.engine, nil)
	}
	if h.temperature == 0 {
		h.temperature = scoring.DefaultTemperature
	}
	if h.alertThreshold <= 0 {
		h.alertThreshold = 0.7
	}
	return h
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			slog.Warn("repository ping failed", "error", err)
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			slog.Warn("cache ping failed", "error", err)
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether storage is reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

type errorBody struct {
	Error string `json:"error"`
}

// requestError is a client mistake reported verbatim with 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

var errUnavailable = errors.New("not available")

func unavailable(what string) error {
	return fmt.Errorf("%s %w", what, errUnavailable)
}

func statusFor(err error) int {
	var re *requestError
	switch {
	case errors.As(err, &re),
		errors.Is(err, ingest.ErrInvalidTransaction),
		errors.Is(err, mentor.ErrInvalidLoan),
		errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"path", r.URL.Path,
			"tenant_id", GetTenantID(r.Context()),
			"trace_id", GetTraceID(r.Context()),
			"error", err,
		)
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid JSON request body")
	}
	return nil
}
