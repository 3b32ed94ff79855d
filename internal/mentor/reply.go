package mentor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Reply is the chatbot's answer to one message.
type Reply struct {
	Answer string         `json:"answer"`
	Intent Intent         `json:"intent"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Respond detects the intent of text and answers it. meta may carry loan
// terms (P, r, n) or a features object for score simulation.
func Respond(text string, meta map[string]any) (Reply, error) {
	intent := DetectIntent(text)

	switch intent {
	case IntentEMI:
		p := number(meta, "P", DefaultPrincipal)
		r := number(meta, "r", DefaultRatePercent)
		n := int(number(meta, "n", DefaultMonths))
		res, err := EMI(p, r, n)
		if err != nil {
			return Reply{}, err
		}
		params := map[string]any{
			"P":         formatNumber(p),
			"r_percent": formatNumber(r),
			"n_months":  n,
			"emi":       res.EMI,
			"total":     res.Total,
			"interest":  res.Interest,
		}
		return Reply{Answer: Render(intent, params), Intent: intent, Meta: params}, nil

	case IntentScoreSimulate:
		fv := featuresFrom(meta)
		res := scoring.Score(fv)
		details := fmt.Sprintf("Score: %d (%s)\nProb good: %.2f", res.Score, res.Tier, res.Probability)
		return Reply{
			Answer: Render(intent, nil) + "\n" + details,
			Intent: intent,
			Meta: map[string]any{
				"score":         res.Score,
				"tier":          res.Tier,
				"probability":   domain.RoundTo(res.Probability, 4),
				"contributions": res.Contributions,
			},
		}, nil
	}

	return Reply{Answer: Render(intent, nil), Intent: intent}, nil
}

// number reads a numeric meta value sent either as a JSON number or a string.
func number(meta map[string]any, key string, def float64) float64 {
	switch v := meta[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func featuresFrom(meta map[string]any) domain.FeatureVector {
	var fv domain.FeatureVector
	raw, ok := meta["features"]
	if !ok {
		return fv
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fv
	}
	_ = json.Unmarshal(data, &fv)
	return fv
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
