package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func bands(review, fail float64) []domain.RuleBand {
	zero := 0.0
	return []domain.RuleBand{
		{LowerLimit: &zero, UpperLimit: &review, SubRuleRef: domain.RuleOutcomePass, Reason: "Within limits"},
		{LowerLimit: &review, UpperLimit: &fail, SubRuleRef: domain.RuleOutcomeReview, Reason: "Elevated"},
		{LowerLimit: &fail, SubRuleRef: domain.RuleOutcomeFail, Reason: "Too risky"},
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	t.Run("Valid", func(t *testing.T) {
		rule := &domain.RuleConfig{ID: "crypto-exposure", Expression: "crypto_count > 0", Enabled: true}
		if err := engine.LoadRule(rule); err != nil {
			t.Fatalf("failed to load rule: %v", err)
		}
		if engine.RulesCount() != 1 {
			t.Errorf("expected 1 rule, got %d", engine.RulesCount())
		}
	})

	t.Run("InvalidSyntax", func(t *testing.T) {
		rule := &domain.RuleConfig{ID: "broken", Expression: "this is not valid CEL !!!", Enabled: true}
		if err := engine.LoadRule(rule); err == nil {
			t.Error("expected error for invalid CEL expression")
		}
	})

	t.Run("UnknownVariable", func(t *testing.T) {
		rule := &domain.RuleConfig{ID: "old-style", Expression: "amount > 100.0", Enabled: true}
		if err := engine.LoadRule(rule); err == nil {
			t.Error("expected error for undeclared variable")
		}
	})

	t.Run("StringResultRejected", func(t *testing.T) {
		rule := &domain.RuleConfig{ID: "string", Expression: "has_kyc ? 'yes' : 'no'", Enabled: true}
		if err := engine.ValidateRule(rule); err == nil {
			t.Error("expected error for non-numeric result type")
		}
	})

	if engine.RulesCount() != 1 {
		t.Errorf("failed loads must not change the rule set, got %d rules", engine.RulesCount())
	}
}

func TestEvaluateProfile(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "txn-risk",
		Expression: "txn_risk",
		Bands:      bands(0.5, 0.8),
		Weight:     1.0,
		Enabled:    true,
	})

	ctx := context.Background()
	tests := []struct {
		name    string
		risk    float64
		outcome string
	}{
		{"Low", 0.1, domain.RuleOutcomePass},
		{"Elevated", 0.5, domain.RuleOutcomeReview},
		{"High", 0.95, domain.RuleOutcomeFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := engine.EvaluateAll(ctx, &EvaluateInput{
				TenantID: "tenant-001",
				UserID:   "user-1",
				Profile:  Profile{TxnRisk: tt.risk},
			})
			if err != nil {
				t.Fatalf("evaluation failed: %v", err)
			}
			if len(results) != 1 {
				t.Fatalf("expected 1 result, got %d", len(results))
			}
			if results[0].Score != tt.risk {
				t.Errorf("expected score %.2f, got %.2f", tt.risk, results[0].Score)
			}
			if results[0].SubRuleRef != tt.outcome {
				t.Errorf("expected %s, got %s", tt.outcome, results[0].SubRuleRef)
			}
		})
	}
}

func TestEvaluateBooleanRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	one := 1.0
	engine.LoadRule(&domain.RuleConfig{
		ID:         "unverified-with-crypto",
		Expression: "has_kyc && !kyc_verified && crypto_count >= 1",
		Bands: []domain.RuleBand{
			{LowerLimit: &one, SubRuleRef: domain.RuleOutcomeFail, Reason: "Unverified identity moving crypto"},
		},
		Enabled: true,
	})

	ctx := context.Background()

	results, _ := engine.EvaluateAll(ctx, &EvaluateInput{Profile: Profile{HasKYC: true, KYCVerified: true, CryptoCount: 2}})
	if results[0].Score != 0.0 || results[0].SubRuleRef != domain.RuleOutcomePass {
		t.Errorf("expected pass with score 0, got %s %.2f", results[0].SubRuleRef, results[0].Score)
	}

	results, _ = engine.EvaluateAll(ctx, &EvaluateInput{Profile: Profile{HasKYC: true, CryptoCount: 2}})
	if results[0].Score != 1.0 || results[0].SubRuleRef != domain.RuleOutcomeFail {
		t.Errorf("expected fail with score 1, got %s %.2f", results[0].SubRuleRef, results[0].Score)
	}
	if results[0].Reason != "Unverified identity moving crypto" {
		t.Errorf("unexpected reason %q", results[0].Reason)
	}
}

func TestEvaluationError(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "div", Expression: "10 / (alert_count - alert_count)", Enabled: true})

	results, err := engine.EvaluateAll(context.Background(), &EvaluateInput{})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if results[0].SubRuleRef != domain.RuleOutcomeError {
		t.Errorf("expected %s, got %s", domain.RuleOutcomeError, results[0].SubRuleRef)
	}
}

func TestParallelExecution(t *testing.T) {
	engine, _ := NewEngine(3)
	defer engine.Close()

	for i := 0; i < 10; i++ {
		engine.LoadRule(&domain.RuleConfig{
			ID:         fmt.Sprintf("rule-%02d", i),
			Expression: "large_count > 0",
			Weight:     1.0,
			Enabled:    true,
		})
	}

	results, err := engine.EvaluateAll(context.Background(), &EvaluateInput{Profile: Profile{LargeCount: 2}})
	if err != nil {
		t.Fatalf("parallel evaluation failed: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}
	for i, r := range results {
		if want := fmt.Sprintf("rule-%02d", i); r.RuleID != want {
			t.Errorf("result %d: expected %s, got %s", i, want, r.RuleID)
		}
		if r.Score != 1.0 {
			t.Errorf("rule %d: expected score 1.0, got %.2f", i, r.Score)
		}
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "old", Expression: "has_txn", Enabled: true})

	err := engine.ReloadRules([]*domain.RuleConfig{
		{ID: "b", Expression: "max_z > 3.0", Enabled: true},
		{ID: "a", Expression: "name_score < 0.8", Enabled: true},
		{ID: "off", Expression: "has_kyc", Enabled: false},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	loaded := engine.GetLoadedRules()
	if len(loaded) != 2 || loaded[0].ID != "a" || loaded[1].ID != "b" {
		t.Fatalf("unexpected rules after reload: %+v", loaded)
	}

	err = engine.ReloadRules([]*domain.RuleConfig{{ID: "bad", Expression: "nope(", Enabled: true}})
	if err == nil {
		t.Fatal("expected reload error")
	}
	if engine.RulesCount() != 2 {
		t.Errorf("failed reload must keep previous rules, got %d", engine.RulesCount())
	}
}

func TestRuleResultMetadata(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "meta-test", Expression: "total_risk", Weight: 0.75, Enabled: true})

	results, _ := engine.EvaluateAll(context.Background(), &EvaluateInput{
		TenantID: "tenant-123",
		UserID:   "user-456",
		Profile:  Profile{TotalRisk: 0.4},
	})

	r := results[0]
	if r.RuleID != "meta-test" {
		t.Errorf("expected RuleID 'meta-test', got '%s'", r.RuleID)
	}
	if r.TenantID != "tenant-123" {
		t.Errorf("expected TenantID 'tenant-123', got '%s'", r.TenantID)
	}
	if r.UserID != "user-456" {
		t.Errorf("expected UserID 'user-456', got '%s'", r.UserID)
	}
	if r.Weight != 0.75 {
		t.Errorf("expected Weight 0.75, got %.2f", r.Weight)
	}
	if r.ProcessMs < 0 {
		t.Error("ProcessMs should be non-negative")
	}
}

func TestNoRules(t *testing.T) {
	engine, _ := NewEngine(0)
	results, err := engine.EvaluateAll(context.Background(), &EvaluateInput{})
	if err != nil || results != nil {
		t.Errorf("expected no results, got %v %v", results, err)
	}
}

func TestUnloadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "kyc-missing", Expression: "!has_kyc", Enabled: true})

	if !engine.UnloadRule("kyc-missing") {
		t.Error("expected loaded rule to be unloaded")
	}
	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
	if engine.UnloadRule("kyc-missing") {
		t.Error("unloading twice should report false")
	}
}

func TestOpenBottomBand(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	upper := 0.0
	engine.LoadRule(&domain.RuleConfig{
		ID:         "net-outflow",
		Expression: "last_amount - avg_amount",
		Bands:      []domain.RuleBand{{UpperLimit: &upper, SubRuleRef: domain.RuleOutcomeFail, Reason: "Below average"}},
		Enabled:    true,
	})

	results, err := engine.EvaluateAll(context.Background(), &EvaluateInput{
		Profile: Profile{AvgAmount: 500, LastAmount: 200},
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if results[0].Score != -300 {
		t.Errorf("expected score -300, got %.2f", results[0].Score)
	}
	if results[0].SubRuleRef != domain.RuleOutcomeFail {
		t.Errorf("negative score should match the open-bottom band, got %s", results[0].SubRuleRef)
	}
}
