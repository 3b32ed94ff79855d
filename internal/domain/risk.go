package domain

import (
	"time"
)

// RiskStats carries the figures an external aggregator combines with other signals.
type RiskStats struct {
	Average float64 `json:"average"`
	Last    float64 `json:"last"`
}

// RiskResult is the output of the transaction risk scorer.
type RiskResult struct {
	RiskScore float64   `json:"riskScore"`
	Alerts    []string  `json:"alerts"`
	Stats     RiskStats `json:"stats"`

	// Signals behind the score, exposed for alert rules.
	CryptoCount int     `json:"cryptoCount"`
	LargeCount  int     `json:"largeCount"`
	MaxZ        float64 `json:"maxZ"`
	Threshold   float64 `json:"threshold"`
}

// TransactionRiskRecord is the latest risk assessment stored for a user.
type TransactionRiskRecord struct {
	TenantID  string     `json:"tenantId"`
	UserID    string     `json:"userId"`
	Result    RiskResult `json:"result"`
	TxCount   int        `json:"txCount"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// NameMatchResult is the verdict of comparing a claimed name against document text.
type NameMatchResult struct {
	Passed          bool    `json:"passed"`
	Score           float64 `json:"score"`
	MatchedWith     *string `json:"matchedWith"`
	MatchedFragment string  `json:"matchedFragment,omitempty"`
}

// KYCResult is the outcome of a document verification.
type KYCResult struct {
	TenantID        string    `json:"tenantId,omitempty"`
	UserID          string    `json:"userId"`
	FraudScore      float64   `json:"fraudScore"`
	Verified        bool      `json:"verified"`
	Alerts          []string  `json:"alerts"`
	PANValid        bool      `json:"panValid"`
	ExtractedPAN    *string   `json:"extractedPan"`
	Hash            string    `json:"hash"`
	NameScore       float64   `json:"nameScore"`
	NameThreshold   float64   `json:"nameThreshold"`
	NameMatchedWith *string   `json:"nameMatchedWith"`
	CheckedAt       time.Time `json:"checkedAt"`
}

// RiskSummary blends transaction, identity and behavioral risk for a user.
type RiskSummary struct {
	ID             string                 `json:"id"`
	TenantID       string                 `json:"tenantId"`
	UserID         string                 `json:"userId"`
	Status         string                 `json:"status"` // "ALRT" or "NALT"
	TotalRiskScore float64                `json:"totalRiskScore"`
	BehaviorScore  float64                `json:"behaviorScore"`
	Alerts         []string               `json:"alerts"`
	Reasons        []string               `json:"reasons,omitempty"`
	KYC            *KYCResult             `json:"kyc"`
	Transactions   *TransactionRiskRecord `json:"transactions"`
	RuleResults    []RuleResult           `json:"ruleResults,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Metadata       SummaryMetadata        `json:"metadata"`
}

// SummaryMetadata contains processing information.
type SummaryMetadata struct {
	TraceID        string `json:"traceId"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	TotalMs        int64  `json:"totalMs"`
	EngineVersion  string `json:"engineVersion"`
}

// Decision status constants
const (
	StatusAlert   = "ALRT" // Alert - risky profile
	StatusNoAlert = "NALT" // No alert
)
