// Package features aggregates transaction histories into credit features.
package features

import (
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Night hours are [22:00, 06:00) UTC; everything else counts as daytime.
const (
	nightStartHour = 22
	nightEndHour   = 6
)

type monthKey struct {
	year  int
	month int
}

// Extract computes the feature vector for a set of normalized transactions.
// Order does not matter. The result keeps full precision; use Rounded for display.
func Extract(txs []domain.Transaction) domain.FeatureVector {
	if len(txs) == 0 {
		return domain.FeatureVector{}
	}

	var (
		creditsByMonth   = make(map[monthKey]float64)
		merchantsByMonth = make(map[monthKey]map[string]struct{})
		cashDebit        float64
		totalDebit       float64
		nightCount       int
		dayCount         int
	)

	for _, tx := range txs {
		ts := tx.Timestamp.UTC()
		mk := monthKey{year: ts.Year(), month: int(ts.Month())}

		if hour := ts.Hour(); hour < nightEndHour || hour >= nightStartHour {
			nightCount++
		} else {
			dayCount++
		}

		amount := math.Abs(tx.Amount)
		if tx.IsCredit() {
			creditsByMonth[mk] += amount
		} else {
			totalDebit += amount
			if strings.EqualFold(strings.TrimSpace(tx.Channel), "cash") {
				cashDebit += amount
			}
		}

		merchants, ok := merchantsByMonth[mk]
		if !ok {
			merchants = make(map[string]struct{})
			merchantsByMonth[mk] = merchants
		}
		if m := strings.TrimSpace(tx.Merchant); m != "" {
			merchants[m] = struct{}{}
		}
	}

	fv := domain.FeatureVector{}

	if n := len(creditsByMonth); n > 0 {
		var sum float64
		for _, v := range creditsByMonth {
			sum += v
		}
		mean := sum / float64(n)

		var sq float64
		for _, v := range creditsByMonth {
			sq += (v - mean) * (v - mean)
		}
		fv.MonthlyAvgIncome = mean
		if mean > 0 {
			fv.IncomeVolatility = math.Sqrt(sq/float64(n)) / mean
		}
	}

	total := float64(len(txs))
	fv.NightTxnRatio = float64(nightCount) / total
	fv.OntimePct = float64(dayCount) / total

	if totalDebit > 0 {
		fv.CashRatio = cashDebit / totalDebit
	}

	months := len(merchantsByMonth)
	if months == 0 {
		months = 1
	}
	distinct := 0
	for _, set := range merchantsByMonth {
		distinct += len(set)
	}
	fv.MerchantDiversity = float64(distinct) / float64(months)

	return fv
}
