// Package rules compiles operator-defined heuristics written in CEL.
package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/farehawk/internal/detect"
	"github.com/opensource-finance/farehawk/internal/domain"
)

// ErrInvalidRule is returned by ValidateRule for rules that cannot be compiled.
var ErrInvalidRule = errors.New("invalid rule")

// Engine holds compiled heuristic rules per tenant.
type Engine struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules map[string]map[string]*CompiledRule // tenant -> rule id -> rule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.HeuristicRuleConfig
	Program cel.Program
}

// NewEngine creates a rule engine with the trip feature variables declared.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("fare", cel.DoubleType),
		cel.Variable("distance_km", cel.DoubleType),
		cel.Variable("duration_min", cel.DoubleType),
		cel.Variable("speed_kmh", cel.DoubleType),
		// fare per km; +Inf for zero distance
		cel.Variable("ratio", cel.DoubleType),
		cel.Variable("passengers", cel.IntType),
		cel.Variable("hour", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:   env,
		rules: make(map[string]map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded rules.
func (e *Engine) ValidateRule(cfg *domain.HeuristicRuleConfig) error {
	if _, err := e.compileRule(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return nil
}

// LoadRule compiles a rule and adds it to the tenant's set.
// Disabled rules are validated but not loaded.
func (e *Engine) LoadRule(tenantID string, cfg *domain.HeuristicRuleConfig) error {
	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	set := e.rules[tenantID]
	if !cfg.Enabled {
		delete(set, cfg.ID)
		return nil
	}
	if set == nil {
		set = make(map[string]*CompiledRule)
		e.rules[tenantID] = set
	}
	set[cfg.ID] = compiled

	return nil
}

// UnloadRule removes a rule from the tenant's set.
func (e *Engine) UnloadRule(tenantID, ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rules[tenantID], ruleID)
}

// ReloadRules replaces the tenant's rule set. Nothing changes if any enabled
// rule fails to compile.
func (e *Engine) ReloadRules(tenantID string, configs []*domain.HeuristicRuleConfig) error {
	set := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		set[cfg.ID] = compiled
	}

	e.mu.Lock()
	e.rules[tenantID] = set
	e.mu.Unlock()

	return nil
}

// RulesCount returns the number of loaded rules for a tenant.
func (e *Engine) RulesCount(tenantID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules[tenantID])
}

// GetLoadedRules returns the tenant's loaded rules in evaluation order:
// ascending priority, then id.
func (e *Engine) GetLoadedRules(tenantID string) []*CompiledRule {
	e.mu.RLock()
	out := make([]*CompiledRule, 0, len(e.rules[tenantID]))
	for _, r := range e.rules[tenantID] {
		out = append(out, r)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Config, out[j].Config
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
	return out
}

// HeuristicRules adapts the tenant's loaded rules to the detector chain.
func (e *Engine) HeuristicRules(tenantID string) []detect.HeuristicRule {
	loaded := e.GetLoadedRules(tenantID)
	out := make([]detect.HeuristicRule, 0, len(loaded))
	for _, r := range loaded {
		out = append(out, r.HeuristicRule())
	}
	return out
}

// Close drops all loaded rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = make(map[string]map[string]*CompiledRule)
	return nil
}

// Match evaluates the rule against one trip. Evaluation errors count as no match.
func (r *CompiledRule) Match(f detect.Features) bool {
	out, _, err := r.Program.Eval(activation(f))
	if err != nil {
		slog.Warn("heuristic rule evaluation failed",
			"rule_id", r.Config.ID,
			"trip_id", f.Trip.ID,
			"error", err,
		)
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// HeuristicRule wraps the compiled rule for detect.HeuristicDetector.
func (r *CompiledRule) HeuristicRule() detect.HeuristicRule {
	reason := r.Config.Reason
	if reason == "" {
		reason = r.Config.Name
	}
	return detect.HeuristicRule{
		Name:   r.Config.ID,
		Type:   r.Config.Type,
		Match:  r.Match,
		Reason: func(detect.Features) string { return reason },
	}
}

func activation(f detect.Features) map[string]any {
	t := f.Trip
	return map[string]any{
		"fare":         t.Fare,
		"distance_km":  t.DistanceKm,
		"duration_min": t.DurationMin,
		"speed_kmh":    t.SpeedKmh,
		"ratio":        f.Ratio,
		"passengers":   int64(t.Passengers),
		"hour":         int64(t.Hour()),
	}
}

func (e *Engine) compileRule(cfg *domain.HeuristicRuleConfig) (*CompiledRule, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rule config is required")
	}
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	if cfg.Expression == "" {
		return nil, fmt.Errorf("rule %s: expression is required", cfg.ID)
	}
	if !cfg.Type.Valid() {
		return nil, fmt.Errorf("rule %s: unknown anomaly type %q", cfg.ID, cfg.Type)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if outputType := ast.OutputType(); !outputType.IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
