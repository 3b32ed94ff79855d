package riskscore

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func defaultAnalyzer() *Analyzer {
	return NewAnalyzer(domain.DefaultCryptoKeywords, DefaultLargeTxnFloor)
}

func countPrefix(alerts []string, prefix string) int {
	n := 0
	for _, a := range alerts {
		if strings.HasPrefix(a, prefix) {
			n++
		}
	}
	return n
}

func TestAnalyze(t *testing.T) {
	a := defaultAnalyzer()

	t.Run("Empty", func(t *testing.T) {
		res := a.Analyze(nil)
		assert.Zero(t, res.RiskScore)
		assert.NotNil(t, res.Alerts)
		assert.Empty(t, res.Alerts)
		assert.Equal(t, domain.RiskStats{}, res.Stats)
	})

	t.Run("SteadyIncomeNoAlerts", func(t *testing.T) {
		entries := []Entry{
			{Amount: 80000, Merchant: "Employer"},
			{Amount: 80000, Merchant: "Employer"},
			{Amount: 80000, Merchant: "Employer"},
			{Amount: 80000, Merchant: "Employer"},
			{Amount: 500, Merchant: "Grocer"},
			{Amount: 300, Merchant: "Cafe"},
			{Amount: 200, Merchant: "Metro"},
		}
		res := a.Analyze(entries)
		assert.Empty(t, res.Alerts)
		assert.Less(t, res.RiskScore, 0.15)
		assert.InDelta(t, 321000.0/7, res.Stats.Average, 1e-9)
		assert.Equal(t, 200.0, res.Stats.Last)
	})

	t.Run("CryptoOutlier", func(t *testing.T) {
		entries := []Entry{
			{Amount: 500, Merchant: "Grocer", Timestamp: "2025-10-01T10:00:00Z"},
			{Amount: 300, Merchant: "Cafe", Timestamp: "2025-10-02T10:00:00Z"},
			{Amount: 200, Merchant: "Metro", Timestamp: "2025-10-03T10:00:00Z"},
			{Amount: 120000, Merchant: "Wallet Topup", Category: "Crypto", Timestamp: "2025-10-04T10:00:00Z"},
		}
		res := a.Analyze(entries)
		assert.Equal(t, 1, res.CryptoCount)
		assert.Equal(t, 1, countPrefix(res.Alerts, "Crypto txn:"))
		assert.Contains(t, res.Alerts, "Crypto txn: ₹120,000 @ Wallet Topup")
		assert.Greater(t, res.RiskScore, 0.4)

		// mean+3σ exceeds the amount here, so no large-transfer alert
		assert.Greater(t, res.Threshold, 120000.0)
		assert.Zero(t, res.LargeCount)
	})

	t.Run("CryptoAndLarge", func(t *testing.T) {
		var entries []Entry
		for i := 0; i < 10; i++ {
			entries = append(entries, Entry{Amount: 500, Merchant: "Grocer"})
		}
		entries = append(entries, Entry{Amount: 120000, Merchant: "Binance", Timestamp: "2025-10-04T10:00:00Z"})

		res := a.Analyze(entries)
		require.Equal(t, 1, res.LargeCount)
		assert.Equal(t, []string{
			"Crypto txn: ₹120,000 @ Binance",
			"Large txn: ₹120,000 on 2025-10-04T10:00:00Z",
		}, res.Alerts)
		assert.Greater(t, res.RiskScore, 0.6)
		assert.LessOrEqual(t, res.RiskScore, 1.0)
		assert.Equal(t, 120000.0, res.Stats.Last)
	})

	t.Run("AbsoluteFloor", func(t *testing.T) {
		res := a.Analyze([]Entry{{Amount: 60000}, {Amount: 60000}, {Amount: 60000}})
		assert.Equal(t, 3, res.LargeCount)
		assert.Zero(t, res.MaxZ)
		assert.InDelta(t, 0.6, res.RiskScore, 1e-12)
	})

	t.Run("ScoreCapped", func(t *testing.T) {
		entries := []Entry{
			{Amount: 60000, Merchant: "coin exchange"},
			{Amount: 60000, Merchant: "coin exchange"},
			{Amount: 60000, Merchant: "coin exchange"},
			{Amount: 60000, Merchant: "coin exchange"},
		}
		res := a.Analyze(entries)
		assert.Equal(t, 4, res.LargeCount)
		assert.Equal(t, 1.0, res.RiskScore)
	})

	t.Run("LastPositiveAmount", func(t *testing.T) {
		res := a.Analyze([]Entry{{Amount: 100}, {Amount: 300}, {Amount: -50}})
		assert.Equal(t, 200.0, res.Stats.Average)
		assert.Equal(t, 300.0, res.Stats.Last)
	})

	t.Run("NonFiniteIgnored", func(t *testing.T) {
		res := a.Analyze([]Entry{{Amount: math.NaN()}, {Amount: 100}})
		assert.False(t, math.IsNaN(res.RiskScore))
	})
}

func TestKeywords(t *testing.T) {
	t.Run("Custom", func(t *testing.T) {
		a := NewAnalyzer([]string{"wazirx", "c++"}, 0)
		res := a.Analyze([]Entry{{Amount: 10, Merchant: "WazirX"}, {Amount: 10, Merchant: "C++ books"}, {Amount: 10, Merchant: "Binance"}})
		assert.Equal(t, 2, res.CryptoCount)
		assert.Equal(t, DefaultLargeTxnFloor, res.Threshold)
	})

	t.Run("Disabled", func(t *testing.T) {
		res := NewAnalyzer(nil, 1000).Analyze([]Entry{{Amount: 10, Merchant: "Binance"}})
		assert.Zero(t, res.CryptoCount)
	})
}

func TestFromRaw(t *testing.T) {
	entries := FromRaw([]domain.RawTransaction{
		{TS: "2025-10-01T10:00:00Z", Amount: "1,500", Merchant: " Shop ", Category: "Retail"},
		{TS: float64(1759312800000), Amount: -20.0},
		{Amount: nil},
	})
	require.Len(t, entries, 3)
	assert.Equal(t, 1500.0, entries[0].Amount)
	assert.Equal(t, "Shop", entries[0].Merchant)
	assert.Equal(t, "2025-10-01T10:00:00Z", entries[1].Timestamp)
	assert.Equal(t, -20.0, entries[1].Amount)
	assert.Zero(t, entries[2].Amount)
}
