// Package mentor answers simple personal-finance questions in Hinglish.
package mentor

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Intent identifies what a chat message is asking about.
type Intent string

const (
	IntentEMI           Intent = "emi_explain"
	IntentLoan          Intent = "loan_explain"
	IntentInvestment    Intent = "investment_basic"
	IntentCreditScore   Intent = "credit_score_explain"
	IntentScoreSimulate Intent = "score_simulate"
	IntentBudgeting     Intent = "budgeting_tips"
	IntentSaving        Intent = "saving_tips"
	IntentFallback      Intent = "fallback"
)

type rule struct {
	pattern *regexp.Regexp
	intent  Intent
}

// intentRules are tried in order; the first match wins.
var intentRules = []rule{
	{regexp.MustCompile(`(?i)\b(?:emi|installment|monthly payment)`), IntentEMI},
	{regexp.MustCompile(`(?i)\b(?:loan|borrow|interest)`), IntentLoan},
	{regexp.MustCompile(`(?i)\b(?:invest|sip\b|mutual fund)`), IntentInvestment},
	{regexp.MustCompile(`(?i)\b(?:simulate|improve score|what if|features)`), IntentScoreSimulate},
	{regexp.MustCompile(`(?i)\b(?:score|credit score|cibil)`), IntentCreditScore},
	{regexp.MustCompile(`(?i)\bbudget`), IntentBudgeting},
	{regexp.MustCompile(`(?i)\b(?:save|saving|bachat)`), IntentSaving},

	// Hindi hints
	{regexp.MustCompile(`क़िस्त|किस्त`), IntentEMI},
	{regexp.MustCompile(`कर्ज`), IntentLoan},
	{regexp.MustCompile(`निवेश`), IntentInvestment},
	{regexp.MustCompile(`स्कोर`), IntentCreditScore},
	{regexp.MustCompile(`बजट`), IntentBudgeting},
	{regexp.MustCompile(`बचत`), IntentSaving},
}

// DetectIntent classifies a chat message.
func DetectIntent(text string) Intent {
	for _, r := range intentRules {
		if r.pattern.MatchString(text) {
			return r.intent
		}
	}
	return IntentFallback
}

//go:embed kb/hinglish.json
var kbJSON []byte

var templates = mustLoadTemplates(kbJSON)

func mustLoadTemplates(data []byte) map[Intent]string {
	var kb struct {
		Intents map[Intent]string `json:"intents"`
	}
	if err := json.Unmarshal(data, &kb); err != nil {
		panic(fmt.Sprintf("mentor: invalid knowledge base: %v", err))
	}
	if _, ok := kb.Intents[IntentFallback]; !ok {
		panic("mentor: knowledge base has no fallback template")
	}
	return kb.Intents
}

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// Render fills the intent's template. Placeholders without a value are left as-is.
func Render(intent Intent, params map[string]any) string {
	tpl, ok := templates[intent]
	if !ok {
		tpl = templates[IntentFallback]
	}
	return placeholder.ReplaceAllStringFunc(tpl, func(m string) string {
		key := strings.Trim(m, "{}")
		v, ok := params[key]
		if !ok || v == nil {
			return m
		}
		return fmt.Sprint(v)
	})
}
