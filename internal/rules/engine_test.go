package rules

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/farehawk/internal/detect"
	"github.com/opensource-finance/farehawk/internal/domain"
)

const tenantID = "tenant-001"

func testRule(id, expr string, priority int) *domain.HeuristicRuleConfig {
	return &domain.HeuristicRuleConfig{
		ID:         id,
		Name:       "Rule " + id,
		Expression: expr,
		Type:       domain.AnomalyRatio,
		Reason:     "matched " + id,
		Priority:   priority,
		Enabled:    true,
	}
}

func features(distance, duration, fare float64, passengers, hour int) detect.Features {
	return detect.NewFeatures(&domain.Trip{
		ID:          "trip-001",
		Timestamp:   time.Date(2024, 1, 15, hour, 0, 0, 0, time.UTC),
		DistanceKm:  distance,
		DurationMin: duration,
		Fare:        fare,
		SpeedKmh:    domain.SpeedKmh(distance, duration),
		Passengers:  passengers,
	})
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount(tenantID) != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount(tenantID))
	}
	if rules := engine.HeuristicRules(tenantID); len(rules) != 0 {
		t.Errorf("expected no heuristic rules, got %d", len(rules))
	}
}

func TestValidateRule(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	tests := []struct {
		name    string
		rule    *domain.HeuristicRuleConfig
		wantErr string
	}{
		{"Valid", testRule("r1", "passengers > 4 && hour < 6", 0), ""},
		{"UsesRatio", testRule("r2", "ratio > 20.0 && distance_km > 1.0", 0), ""},
		{"Nil", nil, "required"},
		{"MissingID", &domain.HeuristicRuleConfig{Expression: "true", Type: domain.AnomalyRatio}, "id is required"},
		{"MissingExpression", testRule("r3", "", 0), "expression is required"},
		{"InvalidSyntax", testRule("r4", "this is not valid CEL !!!", 0), "failed to compile"},
		{"UnknownVariable", testRule("r5", "amount > 100.0", 0), "failed to compile"},
		{"NotBool", testRule("r6", "fare * 2.0", 0), "must return bool"},
		{"BadType", &domain.HeuristicRuleConfig{ID: "r7", Expression: "true", Type: "velocity"}, "unknown anomaly type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.ValidateRule(tt.rule)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected valid rule, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
			}
			if !errors.Is(err, ErrInvalidRule) {
				t.Errorf("expected ErrInvalidRule, got: %v", err)
			}
		})
	}

	if engine.RulesCount(tenantID) != 0 {
		t.Error("expected validation not to load rules")
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	if err := engine.LoadRule(tenantID, testRule("crowded", "passengers >= 5", 0)); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount(tenantID) != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount(tenantID))
	}
	if engine.RulesCount("tenant-002") != 0 {
		t.Error("expected rules to be tenant scoped")
	}

	disabled := testRule("crowded", "passengers >= 5", 0)
	disabled.Enabled = false
	if err := engine.LoadRule(tenantID, disabled); err != nil {
		t.Fatalf("failed to load disabled rule: %v", err)
	}
	if engine.RulesCount(tenantID) != 0 {
		t.Error("expected disabling a rule to unload it")
	}

	if err := engine.LoadRule(tenantID, testRule("bad", "nope(", 0)); err == nil {
		t.Error("expected error for invalid CEL expression")
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	_ = engine.LoadRule(tenantID, testRule("old", "fare > 100.0", 0))

	disabled := testRule("off", "true", 0)
	disabled.Enabled = false

	err := engine.ReloadRules(tenantID, []*domain.HeuristicRuleConfig{
		testRule("late", "hour < 5", 20),
		testRule("crowded", "passengers >= 5", 10),
		testRule("alpha", "duration_min > 180.0", 10),
		disabled,
	})
	if err != nil {
		t.Fatalf("ReloadRules failed: %v", err)
	}

	loaded := engine.GetLoadedRules(tenantID)
	var ids []string
	for _, r := range loaded {
		ids = append(ids, r.Config.ID)
	}
	if got := strings.Join(ids, ","); got != "alpha,crowded,late" {
		t.Errorf("expected priority order alpha,crowded,late, got %s", got)
	}

	t.Run("FailedReloadKeepsPreviousSet", func(t *testing.T) {
		err := engine.ReloadRules(tenantID, []*domain.HeuristicRuleConfig{
			testRule("good", "true", 0),
			testRule("broken", "fare >", 0),
		})
		if err == nil {
			t.Fatal("expected reload error")
		}
		if engine.RulesCount(tenantID) != 3 {
			t.Errorf("expected previous 3 rules, got %d", engine.RulesCount(tenantID))
		}
	})

	t.Run("Unload", func(t *testing.T) {
		engine.UnloadRule(tenantID, "late")
		if engine.RulesCount(tenantID) != 2 {
			t.Errorf("expected 2 rules after unload, got %d", engine.RulesCount(tenantID))
		}
	})
}

func TestCompiledRuleMatch(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	tests := []struct {
		name string
		expr string
		f    detect.Features
		want bool
	}{
		{"PassengersMatch", "passengers >= 5", features(5, 15, 20, 6, 10), true},
		{"PassengersNoMatch", "passengers >= 5", features(5, 15, 20, 1, 10), false},
		{"Hour", "hour < 5", features(5, 15, 20, 1, 3), true},
		{"Ratio", "ratio > 10.0", features(1, 5, 12, 1, 10), true},
		{"ZeroDistanceRatio", "ratio > 1000000.0", features(0, 5, 1, 1, 10), true},
		{"Speed", "speed_kmh > 100.0", features(50, 20, 60, 1, 10), true},
		{"Duration", "duration_min > 120.0 && fare < 20.0", features(5, 150, 15, 1, 10), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.LoadRule(tenantID, testRule(tt.name, tt.expr, 0)); err != nil {
				t.Fatalf("failed to load rule: %v", err)
			}
			var rule *CompiledRule
			for _, r := range engine.GetLoadedRules(tenantID) {
				if r.Config.ID == tt.name {
					rule = r
				}
			}
			if got := rule.Match(tt.f); got != tt.want {
				t.Errorf("expected match=%v, got %v", tt.want, got)
			}
		})
	}

	t.Run("RuntimeErrorIsNoMatch", func(t *testing.T) {
		if err := engine.LoadRule(tenantID, testRule("divzero", "passengers / (hour - hour) > 1", 0)); err != nil {
			t.Fatalf("failed to load rule: %v", err)
		}
		for _, r := range engine.GetLoadedRules(tenantID) {
			if r.Config.ID == "divzero" && r.Match(features(5, 15, 20, 1, 10)) {
				t.Error("expected evaluation error to count as no match")
			}
		}
	})
}

func TestHeuristicRulesInDetector(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	crowded := testRule("crowded", "passengers >= 5", 0)
	crowded.Reason = ""
	_ = engine.LoadRule(tenantID, crowded)

	d := detect.NewHeuristicDetector(engine.HeuristicRules(tenantID)...)

	full := features(5, 15, 20, 6, 10).Trip
	got, ok := d.Classify(full)
	if !ok {
		t.Fatal("expected CEL rule to match")
	}
	if got.Type != domain.AnomalyRatio {
		t.Errorf("expected type ratio, got %s", got.Type)
	}
	if got.Reason != "Rule crowded" {
		t.Errorf("expected rule name as fallback reason, got %q", got.Reason)
	}

	fast := features(100, 20, 60, 6, 10).Trip
	got, _ = d.Classify(fast)
	if got.Type != domain.AnomalySpeed {
		t.Errorf("expected built-in speed rule to win over CEL rule, got %s", got.Type)
	}
}

func TestConcurrentLoadAndRead(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = engine.ReloadRules(tenantID, []*domain.HeuristicRuleConfig{testRule("r", "fare > 1.0", 0)})
		}()
		go func() {
			defer wg.Done()
			for _, r := range engine.HeuristicRules(tenantID) {
				r.Match(features(5, 15, 20, 1, 10))
			}
		}()
	}
	wg.Wait()

	if engine.RulesCount(tenantID) != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount(tenantID))
	}
}
