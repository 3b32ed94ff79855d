// Package ingest turns loosely typed transaction input into canonical records.
package ingest

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrInvalidTransaction is returned by Validate when a record fails strict checks.
var ErrInvalidTransaction = errors.New("invalid transaction")

// timestampLayouts are tried in order; zone-less layouts are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var amountReplacer = strings.NewReplacer(",", "", "₹", "", "INR", "", "inr", "", "Rs.", "", "Rs", "", "$", "", " ", "")

// Normalize converts one raw record into a canonical transaction.
// The second return value is false when the timestamp cannot be parsed; such
// records are excluded rather than reported as errors.
func Normalize(raw domain.RawTransaction) (domain.Transaction, bool) {
	ts, ok := ParseTimestamp(raw.TimestampValue())
	if !ok {
		return domain.Transaction{}, false
	}

	amount := CoerceAmount(raw.Amount)

	dir := domain.DirectionDebit
	switch strings.ToLower(strings.TrimSpace(raw.DirectionValue())) {
	case "credit", "cr":
		if amount >= 0 {
			dir = domain.DirectionCredit
		}
	}

	return domain.Transaction{
		Timestamp: ts,
		Amount:    math.Abs(amount),
		Direction: dir,
		Merchant:  strings.TrimSpace(raw.Merchant),
		Category:  strings.TrimSpace(raw.Category),
		Channel:   strings.TrimSpace(raw.Channel),
	}, true
}

// NormalizeAll normalizes a batch, returning the kept records and how many were dropped.
func NormalizeAll(raws []domain.RawTransaction) ([]domain.Transaction, int) {
	out := make([]domain.Transaction, 0, len(raws))
	dropped := 0
	for _, r := range raws {
		tx, ok := Normalize(r)
		if !ok {
			dropped++
			continue
		}
		out = append(out, tx)
	}
	return out, dropped
}

// Validate applies the strict checks used where malformed input rejects the
// whole request. The error names the first offending index.
func Validate(raws []domain.RawTransaction) error {
	for i, r := range raws {
		ts, isString := r.TimestampValue().(string)
		if !isString || strings.TrimSpace(ts) == "" {
			return fmt.Errorf("transactions[%d]: ts must be a non-empty string: %w", i, ErrInvalidTransaction)
		}
		amount, isNumber := r.Amount.(float64)
		if !isNumber || math.IsNaN(amount) || math.IsInf(amount, 0) {
			return fmt.Errorf("transactions[%d]: amount must be a number: %w", i, ErrInvalidTransaction)
		}
		switch r.DirectionValue() {
		case string(domain.DirectionCredit), string(domain.DirectionDebit):
		default:
			return fmt.Errorf("transactions[%d]: type must be credit or debit: %w", i, ErrInvalidTransaction)
		}
	}
	return nil
}

// ParseTimestamp accepts a string in one of the supported layouts or a number
// of Unix milliseconds.
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts.UTC(), true
			}
		}
		return time.Time{}, false
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(t)).UTC(), true
	case int64:
		return time.UnixMilli(t).UTC(), true
	case int:
		return time.UnixMilli(int64(t)).UTC(), true
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}

// CoerceAmount reads a number from a JSON value, tolerating currency
// decorations on strings. Anything unusable becomes 0.
func CoerceAmount(v any) float64 {
	var f float64
	switch a := v.(type) {
	case float64:
		f = a
	case float32:
		f = float64(a)
	case int:
		f = float64(a)
	case int64:
		f = float64(a)
	case string:
		s := amountReplacer.Replace(strings.TrimSpace(a))
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
