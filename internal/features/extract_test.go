package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func tx(ts string, amount float64, dir domain.Direction, merchant, channel string) domain.Transaction {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return domain.Transaction{Timestamp: t, Amount: amount, Direction: dir, Merchant: merchant, Channel: channel}
}

func TestExtract(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		assert.Equal(t, domain.FeatureVector{}, Extract(nil))
		assert.Equal(t, domain.FeatureVector{}, Extract([]domain.Transaction{}))
	})

	t.Run("StableIncome", func(t *testing.T) {
		txs := []domain.Transaction{
			tx("2025-07-01T10:00:00Z", 80000, domain.DirectionCredit, "Employer", "Bank"),
			tx("2025-08-01T10:00:00Z", 80000, domain.DirectionCredit, "Employer", "Bank"),
			tx("2025-09-01T10:00:00Z", 80000, domain.DirectionCredit, "Employer", "Bank"),
			tx("2025-10-01T10:00:00Z", 80000, domain.DirectionCredit, "Employer", "Bank"),
			tx("2025-10-03T12:00:00Z", 500, domain.DirectionDebit, "Grocer", "Card"),
			tx("2025-10-05T15:00:00Z", 300, domain.DirectionDebit, "Cafe", "UPI"),
			tx("2025-10-07T18:00:00Z", 200, domain.DirectionDebit, "Metro", "UPI"),
		}
		fv := Extract(txs)

		assert.Equal(t, 80000.0, fv.MonthlyAvgIncome)
		assert.Equal(t, 0.0, fv.IncomeVolatility)
		assert.Equal(t, 1.0, fv.OntimePct)
		assert.Equal(t, 0.0, fv.NightTxnRatio)
		assert.Equal(t, 0.0, fv.CashRatio)
		// months: Jul{Employer} Aug{Employer} Sep{Employer} Oct{Employer,Grocer,Cafe,Metro}
		assert.InDelta(t, 7.0/4.0, fv.MerchantDiversity, 1e-12)
	})

	t.Run("VolatilityAndCash", func(t *testing.T) {
		txs := []domain.Transaction{
			tx("2025-01-10T10:00:00Z", 1000, domain.DirectionCredit, "A", "Bank"),
			tx("2025-02-10T10:00:00Z", 3000, domain.DirectionCredit, "A", "Bank"),
			tx("2025-02-11T23:30:00Z", 300, domain.DirectionDebit, "ATM", "CASH"),
			tx("2025-02-12T05:59:00Z", 100, domain.DirectionDebit, "Shop", "Card"),
		}
		fv := Extract(txs)

		assert.Equal(t, 2000.0, fv.MonthlyAvgIncome)
		assert.InDelta(t, 0.5, fv.IncomeVolatility, 1e-12)
		assert.InDelta(t, 0.75, fv.CashRatio, 1e-12)
		assert.Equal(t, 0.5, fv.NightTxnRatio)
		assert.Equal(t, 0.5, fv.OntimePct)
	})

	t.Run("NoCreditsMeansNoVolatility", func(t *testing.T) {
		fv := Extract([]domain.Transaction{
			tx("2025-01-10T22:00:00Z", 50, domain.DirectionDebit, "", "Card"),
		})
		assert.Equal(t, 0.0, fv.MonthlyAvgIncome)
		assert.Equal(t, 0.0, fv.IncomeVolatility)
		assert.Equal(t, 1.0, fv.NightTxnRatio)
		assert.Equal(t, 0.0, fv.MerchantDiversity)
	})

	t.Run("RatiosBounded", func(t *testing.T) {
		txs := []domain.Transaction{
			tx("2025-03-01T01:00:00Z", 10, domain.DirectionDebit, "X", "cash"),
			tx("2025-03-01T13:00:00Z", 0, domain.DirectionDebit, "Y", "cash"),
			tx("2025-04-01T21:59:00Z", 99, domain.DirectionCredit, "Z", "Bank"),
		}
		fv := Extract(txs)
		for _, v := range []float64{fv.CashRatio, fv.NightTxnRatio, fv.OntimePct} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
		assert.InDelta(t, 1.0, fv.OntimePct+fv.NightTxnRatio, 1e-12)
	})

	t.Run("Deterministic", func(t *testing.T) {
		txs := []domain.Transaction{
			tx("2025-03-01T10:00:00Z", 1234.5, domain.DirectionCredit, "A", "Bank"),
			tx("2025-04-01T10:00:00Z", 4321.5, domain.DirectionCredit, "B", "Bank"),
		}
		assert.Equal(t, Extract(txs), Extract(txs))
	})
}

func TestRounded(t *testing.T) {
	fv := domain.FeatureVector{
		MonthlyAvgIncome:  1234.5678,
		IncomeVolatility:  0.123456,
		MerchantDiversity: 2.3333333,
	}.Rounded()
	assert.Equal(t, 1234.57, fv.MonthlyAvgIncome)
	assert.Equal(t, 0.1235, fv.IncomeVolatility)
	assert.Equal(t, 2.33, fv.MerchantDiversity)
}
