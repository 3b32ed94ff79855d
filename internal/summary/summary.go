// Package summary blends transaction, identity and behavioral risk into a
// single per-user decision.
package summary

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// EngineVersion is reported in summary metadata.
const EngineVersion = "kestrel-1.0"

// AlertBehavior is raised when the latest amount deviates from the average.
const AlertBehavior = "Spending deviation > 3x average"

// Aggregator combines per-user signals and rule results into a decision.
type Aggregator struct {
	// Threshold at or above which a user is flagged as ALRT
	AlertThreshold float64

	TxnWeight      float64
	KYCWeight      float64
	BehaviorWeight float64

	// Last amount above DeviationMultiplier x average is a behavior anomaly
	DeviationMultiplier float64
	BehaviorScore       float64
}

// NewAggregator creates an aggregator with default weights.
func NewAggregator() *Aggregator {
	return &Aggregator{
		AlertThreshold:      0.7,
		TxnWeight:           0.5,
		KYCWeight:           0.4,
		BehaviorWeight:      0.1,
		DeviationMultiplier: 3,
		BehaviorScore:       0.7,
	}
}

// Input carries everything known about a user. Missing records are nil.
type Input struct {
	TenantID     string
	UserID       string
	TraceID      string
	KYC          *domain.KYCResult
	Transactions *domain.TransactionRiskRecord
	RuleResults  []domain.RuleResult
	StartTime    time.Time
}

type signals struct {
	txn, kyc, behavior, total float64
	deviation                 bool
}

func (a *Aggregator) signals(kyc *domain.KYCResult, txn *domain.TransactionRiskRecord) signals {
	var s signals
	if txn != nil {
		s.txn = txn.Result.RiskScore
		st := txn.Result.Stats
		if st.Average > 0 && st.Last > a.DeviationMultiplier*st.Average {
			s.deviation = true
			s.behavior = a.BehaviorScore
		}
	}
	if kyc != nil {
		s.kyc = kyc.FraudScore
	}
	s.total = clamp01(a.TxnWeight*s.txn + a.KYCWeight*s.kyc + a.BehaviorWeight*s.behavior)
	return s
}

// Profile builds the view alert rules are evaluated against.
func (a *Aggregator) Profile(kyc *domain.KYCResult, txn *domain.TransactionRiskRecord) rules.Profile {
	s := a.signals(kyc, txn)
	p := rules.Profile{
		TxnRisk:       s.txn,
		KYCScore:      s.kyc,
		BehaviorScore: s.behavior,
		TotalRisk:     s.total,
		HasKYC:        kyc != nil,
		HasTxn:        txn != nil,
	}
	if txn != nil {
		r := txn.Result
		p.CryptoCount = r.CryptoCount
		p.LargeCount = r.LargeCount
		p.MaxZ = r.MaxZ
		p.AvgAmount = r.Stats.Average
		p.LastAmount = r.Stats.Last
		p.AlertCount += len(r.Alerts)
	}
	if kyc != nil {
		p.PANValid = kyc.PANValid
		p.KYCVerified = kyc.Verified
		p.NameScore = kyc.NameScore
		p.AlertCount += len(kyc.Alerts)
	}
	if s.deviation {
		p.AlertCount++
	}
	return p
}

// Process produces the risk summary for one user.
func (a *Aggregator) Process(in *Input) *domain.RiskSummary {
	s := a.signals(in.KYC, in.Transactions)

	alerts := []string{}
	if in.KYC != nil {
		alerts = append(alerts, in.KYC.Alerts...)
	}
	if in.Transactions != nil {
		alerts = append(alerts, in.Transactions.Result.Alerts...)
	}
	if s.deviation {
		alerts = append(alerts, AlertBehavior)
	}

	status := domain.StatusNoAlert
	if s.total >= a.AlertThreshold || hasFailure(in.RuleResults) {
		status = domain.StatusAlert
	}

	start := in.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	return &domain.RiskSummary{
		ID:             uuid.New().String(),
		TenantID:       in.TenantID,
		UserID:         in.UserID,
		Status:         status,
		TotalRiskScore: s.total,
		BehaviorScore:  s.behavior,
		Alerts:         alerts,
		Reasons:        Reasons(in.RuleResults),
		KYC:            in.KYC,
		Transactions:   in.Transactions,
		RuleResults:    in.RuleResults,
		Timestamp:      time.Now().UTC(),
		Metadata: domain.SummaryMetadata{
			TraceID:        in.TraceID,
			RulesEvaluated: len(in.RuleResults),
			TotalMs:        time.Since(start).Milliseconds(),
			EngineVersion:  EngineVersion,
		},
	}
}

// ShouldAlert returns true if the summary should trigger an alert.
func ShouldAlert(s *domain.RiskSummary) bool {
	return s.Status == domain.StatusAlert
}

// Reasons extracts the reasons of failing and review rules.
func Reasons(results []domain.RuleResult) []string {
	var reasons []string
	for _, r := range results {
		if r.SubRuleRef == domain.RuleOutcomeFail || r.SubRuleRef == domain.RuleOutcomeReview {
			if r.Reason != "" {
				reasons = append(reasons, r.Reason)
			}
		}
	}
	return reasons
}

func hasFailure(results []domain.RuleResult) bool {
	for _, r := range results {
		if r.SubRuleRef == domain.RuleOutcomeFail {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(1, v)
}
