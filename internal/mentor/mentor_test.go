package mentor

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"EMI kitni banegi?", IntentEMI},
		{"what is my monthly payment", IntentEMI},
		{"mujhe loan chahiye", IntentLoan},
		{"SIP kaise start karu", IntentInvestment},
		{"mutual fund me invest karna hai", IntentInvestment},
		{"simulate my score", IntentScoreSimulate},
		{"mera CIBIL kya hai", IntentCreditScore},
		{"monthly budget plan", IntentBudgeting},
		{"bachat kaise karein", IntentSaving},
		{"मेरी किस्त कितनी है", IntentEMI},
		{"बचत के तरीके", IntentSaving},
		{"premium plan", IntentFallback},
		{"hello", IntentFallback},
		{"", IntentFallback},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectIntent(tt.text))
		})
	}
}

func TestTemplates(t *testing.T) {
	for _, intent := range []Intent{
		IntentEMI, IntentLoan, IntentInvestment, IntentCreditScore,
		IntentScoreSimulate, IntentBudgeting, IntentSaving, IntentFallback,
	} {
		_, ok := templates[intent]
		assert.True(t, ok, "missing template for %s", intent)
	}
}

func TestRender(t *testing.T) {
	t.Run("KeepsMissingPlaceholders", func(t *testing.T) {
		out := Render(IntentEMI, map[string]any{"P": "1000"})
		assert.Contains(t, out, "₹1000")
		assert.Contains(t, out, "{emi}")
	})

	t.Run("UnknownIntentFallsBack", func(t *testing.T) {
		assert.Equal(t, Render(IntentFallback, nil), Render(Intent("nope"), nil))
	})
}

func TestEMI(t *testing.T) {
	tests := []struct {
		name     string
		p, r     float64
		n        int
		emi      int64
		total    int64
		interest int64
	}{
		{"OneLakh", 100000, 10, 12, 8792, 105504, 5504},
		{"Defaults", DefaultPrincipal, DefaultRatePercent, DefaultMonths, 4396, 52752, 2752},
		{"ZeroRate", 12000, 0, 12, 1000, 12000, 0},
		{"ZeroPrincipal", 0, 10, 12, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := EMI(tt.p, tt.r, tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.emi, res.EMI)
			assert.Equal(t, tt.total, res.Total)
			assert.Equal(t, tt.interest, res.Interest)
			assert.NotEmpty(t, res.Breakdown)
		})
	}

	t.Run("Invalid", func(t *testing.T) {
		for _, args := range []struct {
			p, r float64
			n    int
		}{
			{1000, 10, 0},
			{1000, 10, -3},
			{-1, 10, 12},
			{1000, -1, 12},
			{math.NaN(), 10, 12},
			{1000, math.Inf(1), 12},
		} {
			_, err := EMI(args.p, args.r, args.n)
			assert.True(t, errors.Is(err, ErrInvalidLoan), "p=%v r=%v n=%d", args.p, args.r, args.n)
		}
	})
}

func TestRespond(t *testing.T) {
	t.Run("EMIDefaults", func(t *testing.T) {
		rep, err := Respond("emi samjhao", nil)
		require.NoError(t, err)
		assert.Equal(t, IntentEMI, rep.Intent)
		assert.Contains(t, rep.Answer, "₹4396")
		assert.Contains(t, rep.Answer, "₹50000")
		assert.Equal(t, int64(4396), rep.Meta["emi"])
		assert.Equal(t, 12, rep.Meta["n_months"])
	})

	t.Run("EMIFromMeta", func(t *testing.T) {
		rep, err := Respond("EMI batao", map[string]any{"P": "100000", "r": 10.0, "n": 12.0})
		require.NoError(t, err)
		assert.Equal(t, int64(8792), rep.Meta["emi"])
		assert.Equal(t, "100000", rep.Meta["P"])
		assert.NotContains(t, rep.Answer, "{")
	})

	t.Run("EMIInvalid", func(t *testing.T) {
		_, err := Respond("emi", map[string]any{"n": 0.0})
		assert.ErrorIs(t, err, ErrInvalidLoan)
	})

	t.Run("ScoreSimulate", func(t *testing.T) {
		rep, err := Respond("simulate my score", map[string]any{
			"features": map[string]any{
				"monthly_avg_income": 80000.0,
				"ontime_pct":         0.9,
				"merchant_diversity": 8.0,
			},
		})
		require.NoError(t, err)
		assert.Equal(t, IntentScoreSimulate, rep.Intent)

		lines := strings.Split(rep.Answer, "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[1], "Score: "))
		assert.True(t, strings.HasPrefix(lines[2], "Prob good: 0."))

		score, ok := rep.Meta["score"].(int)
		require.True(t, ok)
		assert.GreaterOrEqual(t, score, 300)
		assert.LessOrEqual(t, score, 850)
		assert.Contains(t, []domain.Tier{domain.TierBronze, domain.TierSilver, domain.TierGold}, rep.Meta["tier"])
	})

	t.Run("PlainTemplate", func(t *testing.T) {
		rep, err := Respond("budget tips", nil)
		require.NoError(t, err)
		assert.Equal(t, IntentBudgeting, rep.Intent)
		assert.Equal(t, templates[IntentBudgeting], rep.Answer)
		assert.Nil(t, rep.Meta)
	})
}
