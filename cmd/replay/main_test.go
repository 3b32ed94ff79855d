package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const sampleCSV = `user_id,ts,amount,type,merchant,channel,category
u1,2025-10-01T10:00:00Z,80000,credit,Employer,Bank,
u2,2025-10-01T10:00:00Z,500,debit,Grocer,UPI,
u1,2025-10-02T12:00:00Z,500,debit,Grocer,UPI,Food
u2,2025-10-04T10:00:00Z,120000,debit,Binance,UPI,Crypto
,2025-10-05T10:00:00Z,1,debit,Nobody,UPI,
`

func TestReadCSV(t *testing.T) {
	batches, err := readCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("readCSV failed: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 users, got %d", len(batches))
	}
	if batches[0].UserID != "u1" || len(batches[0].Transactions) != 2 {
		t.Errorf("unexpected first batch: %+v", batches[0])
	}
	if got := batches[0].Transactions[1].Category; got != "Food" {
		t.Errorf("expected category Food, got %q", got)
	}

	t.Run("MissingColumn", func(t *testing.T) {
		if _, err := readCSV(strings.NewReader("user_id,ts\nu1,x\n")); err == nil {
			t.Error("expected error for missing amount column")
		}
	})
}

func TestRunOffline(t *testing.T) {
	batches, err := readCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("readCSV failed: %v", err)
	}

	m, err := runOffline(context.Background(), batches, 2, 0.7, false)
	if err != nil {
		t.Fatalf("runOffline failed: %v", err)
	}
	if m.TotalProcessed != 2 {
		t.Errorf("expected 2 processed, got %d", m.TotalProcessed)
	}

	var total int64
	for _, n := range m.Tiers {
		total += n
	}
	if total != 2 {
		t.Errorf("expected tiers to cover 2 users, got %d", total)
	}
}

func TestRunOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Tenant-ID") != "replay-test" {
			http.Error(w, "missing tenant", http.StatusBadRequest)
			return
		}
		var req struct {
			UserID string `json:"userId"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/predict":
			json.NewEncoder(w).Encode(map[string]any{"score": 700, "tier": "Silver"})
		case "/risk/transactions":
			risk := 0.1
			if req.UserID == "u2" {
				risk = 0.9
			}
			json.NewEncoder(w).Encode(map[string]any{"riskScore": risk})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	batches, _ := readCSV(strings.NewReader(sampleCSV))
	m := runOnline(batches, srv.URL, "replay-test", 2, 0.7, false)

	if m.TotalErrors != 0 {
		t.Errorf("expected no errors, got %d", m.TotalErrors)
	}
	if m.Tiers[domain.TierSilver] != 2 {
		t.Errorf("expected 2 Silver users, got %d", m.Tiers[domain.TierSilver])
	}
	if m.Alerted != 1 {
		t.Errorf("expected 1 alerted user, got %d", m.Alerted)
	}
}
