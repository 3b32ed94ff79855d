// Package scoring maps feature vectors and model probabilities to credit scores.
package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Score range and tier cut-offs.
const (
	MinScore = 300
	MaxScore = 850

	GoldCutoff   = 720
	SilverCutoff = 640

	// DefaultTemperature softens external model probabilities.
	DefaultTemperature = 1.5
	minTemperature     = 0.5
	probabilityEpsilon = 1e-6

	// pointsScale converts weighted contributions into display points.
	pointsScale = 40
)

// Scaling caps for the unbounded features.
const (
	incomeCap     = 100000.0
	volatilityCap = 1.5
	diversityCap  = 12.0
)

type weight struct {
	feature string
	w       float64
	label   string
	scaled  func(domain.FeatureVector) float64
}

var weights = []weight{
	{domain.FeatureMonthlyAvgIncome, 1.2, "Stable monthly income", func(f domain.FeatureVector) float64 {
		return clamp(f.MonthlyAvgIncome, 0, incomeCap) / incomeCap
	}},
	{domain.FeatureIncomeVolatility, -1.0, "Income volatility", func(f domain.FeatureVector) float64 {
		return clamp(f.IncomeVolatility, 0, volatilityCap) / volatilityCap
	}},
	{domain.FeatureOntimePct, 1.2, "Daytime transactions (on-time proxy)", func(f domain.FeatureVector) float64 {
		return clamp(f.OntimePct, 0, 1)
	}},
	{domain.FeatureCashRatio, -1.0, "Cash spending ratio", func(f domain.FeatureVector) float64 {
		return clamp(f.CashRatio, 0, 1)
	}},
	{domain.FeatureMerchantDiversity, 0.6, "Merchant diversity", func(f domain.FeatureVector) float64 {
		return clamp(f.MerchantDiversity, 0, diversityCap) / diversityCap
	}},
	{domain.FeatureNightTxnRatio, -0.8, "Night transaction ratio", func(f domain.FeatureVector) float64 {
		return clamp(f.NightTxnRatio, 0, 1)
	}},
}

// Score runs the deterministic weighted scorer.
// Contribution points are rounded display values; the score is derived from
// the unrounded logit, so points need not add up to it.
func Score(fv domain.FeatureVector) domain.ScoreResult {
	var z float64
	contributions := make([]domain.Contribution, 0, len(weights))
	summary := make([]string, 0, len(weights))

	for _, wt := range weights {
		c := wt.w * wt.scaled(fv)
		z += c
		points := int(jsRound(c * pointsScale))
		contributions = append(contributions, domain.Contribution{
			Feature:     wt.feature,
			Points:      points,
			Description: fmt.Sprintf("%s %+d", wt.label, points),
		})
		summary = append(summary, fmt.Sprintf("%+d %s", points, wt.label))
	}

	p := sigmoid(z)
	score := ProbabilityToScore(p)
	rounded := fv.Rounded()

	return domain.ScoreResult{
		Score:         score,
		Tier:          TierFor(score),
		Probability:   p,
		Contributions: contributions,
		Source:        domain.SourceFallback,
		Features:      &rounded,
		Summary:       summary,
	}
}

// Calibrate applies temperature scaling to an untrusted probability.
// Temperatures below 0.5 are raised to 0.5; a missing temperature means 1.
func Calibrate(p, temperature float64) float64 {
	if math.IsNaN(p) {
		p = 0
	}
	p = clamp(p, probabilityEpsilon, 1-probabilityEpsilon)

	t := temperature
	if math.IsNaN(t) || t == 0 {
		t = 1
	}
	t = math.Max(minTemperature, t)

	logit := math.Log(p / (1 - p))
	return sigmoid(logit / t)
}

// ProbabilityToScore maps [0,1] onto the 300-850 score range.
func ProbabilityToScore(p float64) int {
	if math.IsNaN(p) {
		p = 0
	}
	p = clamp(p, 0, 1)
	return int(jsRound(MinScore + p*(MaxScore-MinScore)))
}

// TierFor returns the band for a score.
func TierFor(score int) domain.Tier {
	switch {
	case score >= GoldCutoff:
		return domain.TierGold
	case score >= SilverCutoff:
		return domain.TierSilver
	default:
		return domain.TierBronze
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// clamp also maps NaN to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// jsRound rounds halves toward positive infinity.
func jsRound(x float64) float64 {
	return math.Floor(x + 0.5)
}
