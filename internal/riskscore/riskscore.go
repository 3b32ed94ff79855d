// Package riskscore flags fraud-like patterns in a user's transactions.
package riskscore

import (
	"math"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
)

// Blend weights and caps for the risk score.
const (
	outlierWeight   = 0.5
	outlierZCap     = 6.0
	cryptoComponent = 0.4
	largeStep       = 0.2
	largeCountCap   = 3
	zMultiplier     = 3.0

	// DefaultLargeTxnFloor is the absolute large-transfer threshold.
	DefaultLargeTxnFloor = 50000.0
)

// Entry is one transaction as seen by the analyzer. Amount keeps its sign.
type Entry struct {
	Amount    float64
	Merchant  string
	Category  string
	Timestamp string
}

// FromRaw builds entries from raw records without dropping any.
func FromRaw(raws []domain.RawTransaction) []Entry {
	out := make([]Entry, 0, len(raws))
	for _, r := range raws {
		e := Entry{
			Amount:   ingest.CoerceAmount(r.Amount),
			Merchant: strings.TrimSpace(r.Merchant),
			Category: strings.TrimSpace(r.Category),
		}
		switch ts := r.TimestampValue().(type) {
		case string:
			e.Timestamp = ts
		case nil:
		default:
			if t, ok := ingest.ParseTimestamp(ts); ok {
				e.Timestamp = t.Format(time.RFC3339)
			}
		}
		out = append(out, e)
	}
	return out
}

// FromTransactions builds entries from normalized transactions.
// Both directions contribute their absolute amount.
func FromTransactions(txs []domain.Transaction) []Entry {
	out := make([]Entry, 0, len(txs))
	for _, tx := range txs {
		out = append(out, Entry{
			Amount:    tx.Amount,
			Merchant:  tx.Merchant,
			Category:  tx.Category,
			Timestamp: tx.Timestamp.Format(time.RFC3339),
		})
	}
	return out
}

// Analyzer scores statistical outliers, crypto exposure and large transfers.
type Analyzer struct {
	crypto        *regexp.Regexp
	largeTxnFloor float64
}

// NewAnalyzer creates an analyzer. Keywords match case-insensitively as
// substrings of merchant or category; an empty list disables crypto detection.
func NewAnalyzer(cryptoKeywords []string, largeTxnFloor float64) *Analyzer {
	a := &Analyzer{largeTxnFloor: largeTxnFloor}
	if largeTxnFloor <= 0 || math.IsNaN(largeTxnFloor) {
		a.largeTxnFloor = DefaultLargeTxnFloor
	}

	var quoted []string
	for _, kw := range cryptoKeywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			quoted = append(quoted, regexp.QuoteMeta(kw))
		}
	}
	if len(quoted) > 0 {
		a.crypto = regexp.MustCompile(`(?i)` + strings.Join(quoted, "|"))
	}
	return a
}

// Analyze computes the risk result. Empty input yields a zero score with no alerts.
func (a *Analyzer) Analyze(entries []Entry) domain.RiskResult {
	res := domain.RiskResult{Alerts: []string{}, Threshold: a.largeTxnFloor}
	if len(entries) == 0 {
		return res
	}

	var positives []float64
	for _, e := range entries {
		if e.Amount > 0 && !math.IsInf(e.Amount, 0) {
			positives = append(positives, e.Amount)
		}
	}
	mean, std := meanStd(positives)

	threshold := math.Max(a.largeTxnFloor, mean+zMultiplier*std)
	res.Threshold = threshold

	printer := message.NewPrinter(language.English)
	for _, e := range entries {
		desc := e.Merchant
		if a.crypto != nil && a.crypto.MatchString(e.Merchant+" "+e.Category) {
			res.CryptoCount++
			if desc == "" {
				desc = e.Category
			}
			res.Alerts = append(res.Alerts, "Crypto txn: ₹"+formatAmount(printer, e.Amount)+" @ "+desc)
		}
		if e.Amount >= threshold {
			res.LargeCount++
			res.Alerts = append(res.Alerts, "Large txn: ₹"+formatAmount(printer, e.Amount)+" on "+e.Timestamp)
		}
		if std > 0 {
			if z := math.Abs(e.Amount-mean) / std; z > res.MaxZ {
				res.MaxZ = z
			}
		}
	}

	score := outlierWeight * math.Min(1, res.MaxZ/outlierZCap)
	if res.CryptoCount > 0 {
		score += cryptoComponent
	}
	score += math.Min(1, float64(min(largeCountCap, res.LargeCount))*largeStep)
	res.RiskScore = math.Min(1, score)

	res.Stats = domain.RiskStats{Average: mean}
	if n := len(positives); n > 0 {
		res.Stats.Last = positives[n-1]
	}
	return res
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func formatAmount(p *message.Printer, v float64) string {
	return p.Sprint(number.Decimal(v, number.MaxFractionDigits(3)))
}
