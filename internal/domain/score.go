package domain

import (
	"math"
	"time"
)

// FeatureVector is the fixed-shape summary of a transaction history.
// Keys keep the canonical feature names shared with contributions and the model wire format.
type FeatureVector struct {
	MonthlyAvgIncome  float64 `json:"monthly_avg_income"`
	IncomeVolatility  float64 `json:"income_volatility"`
	OntimePct         float64 `json:"ontime_pct"`
	CashRatio         float64 `json:"cash_ratio"`
	MerchantDiversity float64 `json:"merchant_diversity"`
	NightTxnRatio     float64 `json:"night_txn_ratio"`
}

// Feature names.
const (
	FeatureMonthlyAvgIncome  = "monthly_avg_income"
	FeatureIncomeVolatility  = "income_volatility"
	FeatureOntimePct         = "ontime_pct"
	FeatureCashRatio         = "cash_ratio"
	FeatureMerchantDiversity = "merchant_diversity"
	FeatureNightTxnRatio     = "night_txn_ratio"
)

// Rounded returns a copy rounded for presentation.
// Scoring must always use the unrounded vector.
func (f FeatureVector) Rounded() FeatureVector {
	return FeatureVector{
		MonthlyAvgIncome:  roundTo(f.MonthlyAvgIncome, 2),
		IncomeVolatility:  roundTo(f.IncomeVolatility, 4),
		OntimePct:         roundTo(f.OntimePct, 4),
		CashRatio:         roundTo(f.CashRatio, 4),
		MerchantDiversity: roundTo(f.MerchantDiversity, 2),
		NightTxnRatio:     roundTo(f.NightTxnRatio, 4),
	}
}

// Tier is a coarse credit-score band.
type Tier string

const (
	TierBronze Tier = "Bronze"
	TierSilver Tier = "Silver"
	TierGold   Tier = "Gold"
)

// Score sources.
const (
	SourceModel    = "ml"
	SourceFallback = "fallback"
)

// Contribution explains one weighted feature. Points are display-only.
type Contribution struct {
	Feature     string `json:"feature"`
	Points      int    `json:"points"`
	Description string `json:"description"`
}

// ScoreResult is the output of credit scoring.
type ScoreResult struct {
	Score         int            `json:"score"`
	Tier          Tier           `json:"tier"`
	Probability   float64        `json:"probability"`
	Contributions []Contribution `json:"contributions"`
	Source        string         `json:"source,omitempty"`

	// Features and Summary are filled by predictors that have them.
	Features *FeatureVector `json:"features,omitempty"`
	Summary  []string       `json:"summary,omitempty"`
}

// CreditScoreRecord is one persisted scoring outcome for a user.
type CreditScoreRecord struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenantId"`
	UserID      string        `json:"userId"`
	Score       int           `json:"score"`
	Tier        Tier          `json:"tier"`
	Probability float64       `json:"probability"`
	Source      string        `json:"source"`
	Features    FeatureVector `json:"features"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// RoundTo rounds half away from zero to the given number of decimals.
func RoundTo(v float64, places int) float64 {
	return roundTo(v, places)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
