package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/farehawk/internal/domain"
)

// ErrNoRuleEngine is returned by rule operations when no engine is configured.
var ErrNoRuleEngine = errors.New("rule engine not configured")

// ensureRules loads a tenant's stored rules the first time the tenant is seen.
func (s *Service) ensureRules(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	loaded := s.rulesLoaded[tenantID]
	s.mu.Unlock()
	if loaded {
		return nil
	}
	_, err := s.ReloadRules(ctx, tenantID)
	return err
}

// ReloadRules replaces the tenant's compiled rules with the stored set.
func (s *Service) ReloadRules(ctx context.Context, tenantID string) (int, error) {
	if s.engine == nil {
		return 0, ErrNoRuleEngine
	}

	configs, err := s.repo.ListHeuristicRules(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}
	if err := s.engine.ReloadRules(tenantID, configs); err != nil {
		return 0, fmt.Errorf("failed to reload rules: %w", err)
	}

	s.mu.Lock()
	s.rulesLoaded[tenantID] = true
	s.mu.Unlock()

	count := s.engine.RulesCount(tenantID)
	slog.Info("heuristic rules reloaded",
		"tenant_id", tenantID,
		"rule_count", count,
	)
	return count, nil
}

// SaveRule validates, stores and loads a rule. Invalid expressions are never stored.
func (s *Service) SaveRule(ctx context.Context, tenantID string, cfg *domain.HeuristicRuleConfig) error {
	if s.engine == nil {
		return ErrNoRuleEngine
	}
	if err := s.engine.ValidateRule(cfg); err != nil {
		return err
	}
	if err := s.ensureRules(ctx, tenantID); err != nil {
		return err
	}

	now := s.now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	cfg.TenantID = tenantID

	if err := s.repo.SaveHeuristicRule(ctx, tenantID, cfg); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return s.engine.LoadRule(tenantID, cfg)
}

// DeleteRule removes a stored rule and unloads it.
func (s *Service) DeleteRule(ctx context.Context, tenantID, ruleID string) error {
	if s.engine == nil {
		return ErrNoRuleEngine
	}
	if err := s.repo.DeleteHeuristicRule(ctx, tenantID, ruleID); err != nil {
		return err
	}
	s.engine.UnloadRule(tenantID, ruleID)
	return nil
}

// Rules lists the tenant's stored rules, enabled or not.
func (s *Service) Rules(ctx context.Context, tenantID string) ([]*domain.HeuristicRuleConfig, error) {
	return s.repo.ListHeuristicRules(ctx, tenantID)
}

// ruleTimeout bounds rule loading at startup.
const ruleTimeout = 10 * time.Second

// PreloadRules loads stored rules for the given tenants, logging failures.
func (s *Service) PreloadRules(tenantIDs []string) {
	if s.engine == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ruleTimeout)
	defer cancel()
	for _, tenantID := range tenantIDs {
		if _, err := s.ReloadRules(ctx, tenantID); err != nil {
			slog.Warn("failed to preload rules",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}
}
