package mentor

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidLoan is returned for loan terms an EMI cannot be computed for.
var ErrInvalidLoan = errors.New("invalid loan terms")

// Defaults used when a chat message does not name the loan terms.
const (
	DefaultPrincipal   = 50000
	DefaultRatePercent = 10
	DefaultMonths      = 12
)

// EMIResult is a fixed monthly installment with its totals, in whole currency units.
type EMIResult struct {
	Principal   float64 `json:"principal"`
	RatePercent float64 `json:"ratePercent"`
	Months      int     `json:"months"`
	EMI         int64   `json:"emi"`
	Total       int64   `json:"total"`
	Interest    int64   `json:"interest"`
	Breakdown   string  `json:"breakdown"`
}

// EMI computes P·r·(1+r)^n / ((1+r)^n − 1) with r the monthly rate.
func EMI(principal, annualRatePercent float64, months int) (EMIResult, error) {
	if months <= 0 || principal < 0 || annualRatePercent < 0 ||
		math.IsNaN(principal) || math.IsInf(principal, 0) ||
		math.IsNaN(annualRatePercent) || math.IsInf(annualRatePercent, 0) {
		return EMIResult{}, fmt.Errorf("%w: principal=%v rate=%v months=%d", ErrInvalidLoan, principal, annualRatePercent, months)
	}

	p := decimal.NewFromFloat(principal)
	n := decimal.NewFromInt(int64(months))
	r := decimal.NewFromFloat(annualRatePercent).Div(decimal.NewFromInt(1200))

	res := EMIResult{Principal: principal, RatePercent: annualRatePercent, Months: months}

	if r.IsZero() {
		res.EMI = p.Div(n).Round(0).IntPart()
		res.Total = res.EMI * int64(months)
		res.Breakdown = fmt.Sprintf("Principal only, no interest. Monthly = %d", res.EMI)
		return res, nil
	}

	growth := decimal.NewFromInt(1).Add(r).Pow(n)
	emi := p.Mul(r).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1)))

	res.EMI = emi.Round(0).IntPart()
	res.Total = res.EMI * int64(months)
	res.Interest = decimal.NewFromInt(res.Total).Sub(p).Round(0).IntPart()
	res.Breakdown = fmt.Sprintf("P=%s, r=%s%%, n=%d months → EMI≈%d (Total≈%d, Interest≈%d)",
		p.String(), decimal.NewFromFloat(annualRatePercent).String(), months, res.EMI, res.Total, res.Interest)
	return res, nil
}
