package api

import (
	"net/http"
	"strings"

	"github.com/opensource-finance/kestrel/internal/mentor"
)

// ChatRequest is the request body for POST /mentor/chat.
type ChatRequest struct {
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
}

// MentorChat handles POST /mentor/chat.
func (h *Handler) MentorChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, r, badRequest("text is required"))
		return
	}

	reply, err := mentor.Respond(req.Text, req.Meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// EMIRequest is the request body for POST /mentor/emi. Omitted fields take defaults.
type EMIRequest struct {
	Principal   *float64 `json:"principal"`
	RatePercent *float64 `json:"ratePercent"`
	Months      *int     `json:"months"`
}

// MentorEMI handles POST /mentor/emi.
func (h *Handler) MentorEMI(w http.ResponseWriter, r *http.Request) {
	var req EMIRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	principal, rate, months := float64(mentor.DefaultPrincipal), float64(mentor.DefaultRatePercent), mentor.DefaultMonths
	if req.Principal != nil {
		principal = *req.Principal
	}
	if req.RatePercent != nil {
		rate = *req.RatePercent
	}
	if req.Months != nil {
		months = *req.Months
	}

	res, err := mentor.EMI(principal, rate, months)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
