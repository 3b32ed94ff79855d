package domain

import (
	"time"
)

// Direction is the money-flow direction of a transaction.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Transaction is the canonical, validated record consumed by the scoring engines.
// Amount is always non-negative; the sign lives in Direction.
type Transaction struct {
	Timestamp time.Time `json:"ts"`
	Amount    float64   `json:"amount"`
	Direction Direction `json:"type"`
	Merchant  string    `json:"merchant"`
	Category  string    `json:"category,omitempty"`
	Channel   string    `json:"channel"`
}

// IsCredit reports whether money flowed in.
func (t Transaction) IsCredit() bool {
	return t.Direction == DirectionCredit
}

// RawTransaction is the lenient wire shape of a transaction as it arrives from
// clients, statement parsing or hand-edited JSON.
// Timestamp and amount stay untyped so dirty records can be dropped one by one
// instead of failing the whole request decode.
type RawTransaction struct {
	TS        any    `json:"ts,omitempty"`
	Timestamp any    `json:"timestamp,omitempty"`
	Amount    any    `json:"amount,omitempty"`
	Type      string `json:"type,omitempty"`
	Direction string `json:"direction,omitempty"`
	Merchant  string `json:"merchant,omitempty"`
	Category  string `json:"category,omitempty"`
	Channel   string `json:"channel,omitempty"`
}

// TimestampValue returns whichever timestamp field was supplied, preferring ts.
func (r RawTransaction) TimestampValue() any {
	if r.TS != nil {
		return r.TS
	}
	return r.Timestamp
}

// DirectionValue returns whichever direction field was supplied, preferring type.
func (r RawTransaction) DirectionValue() string {
	if r.Type != "" {
		return r.Type
	}
	return r.Direction
}

// TransactionBatch is a user's transaction list travelling through the event bus.
type TransactionBatch struct {
	UserID       string           `json:"userId"`
	TenantID     string           `json:"tenantId"`
	TraceID      string           `json:"traceId,omitempty"`
	Transactions []RawTransaction `json:"transactions"`
}
