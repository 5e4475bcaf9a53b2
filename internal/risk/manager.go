// Package risk applies pre- and post-cycle policy checks over recent bet
// history.
//
// Each rule is a pure threshold over the bet history (consecutive-loss
// streak, daily loss percentage, rolling win rate) and carries one of two
// composable responses: halt placing new bets, or shrink the stake by a
// fraction. The default deployment disables every threshold, making the
// manager a passthrough (multiplier 1.0, never stops) — but the interface
// stays general so deployments can turn rules on without code changes.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vig/internal/config"
	"vig/pkg/types"
)

// Alert is one triggered policy rule.
type Alert struct {
	Rule    string
	Message string
	Halt    bool    // stop placing bets this cycle
	Shrink  float64 // fraction to shave off the clip, 0 if none
}

// BetHistory supplies recent bets for policy evaluation. Implemented by
// *store.Store.
type BetHistory interface {
	RecentBets(ctx context.Context, n int) ([]types.BetRecord, error)
}

// Manager evaluates risk policies before and after each cycle.
type Manager struct {
	cfg     config.RiskConfig
	history BetHistory
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager creates a risk manager.
func NewManager(cfg config.RiskConfig, history BetHistory, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		history: history,
		logger:  logger.With("component", "risk"),
		now:     time.Now,
	}
}

// CheckPreCycle evaluates placement-gating rules before a cycle starts.
// A history read failure yields no alerts: risk checks degrade open, the
// stop decision is policy, not plumbing.
func (m *Manager) CheckPreCycle(ctx context.Context) []Alert {
	bets, err := m.recent(ctx)
	if err != nil {
		m.logger.Warn("risk history unavailable, skipping pre-cycle checks", "error", err)
		return nil
	}

	var alerts []Alert
	if a := m.checkConsecutiveLosses(bets); a != nil {
		alerts = append(alerts, *a)
	}
	if a := m.checkWinRate(bets); a != nil {
		alerts = append(alerts, *a)
	}
	return alerts
}

// CheckPostCycle evaluates rules after a cycle's settlement pass.
func (m *Manager) CheckPostCycle(ctx context.Context, losses int) []Alert {
	bets, err := m.recent(ctx)
	if err != nil {
		m.logger.Warn("risk history unavailable, skipping post-cycle checks", "error", err)
		return nil
	}

	var alerts []Alert
	if a := m.checkDailyLoss(bets); a != nil {
		alerts = append(alerts, *a)
	}
	if len(alerts) > 0 {
		m.logger.Warn("post-cycle risk alerts", "count", len(alerts), "cycle_losses", losses)
	}
	return alerts
}

// ShouldStop reports whether any alert demands halting bet placement.
func (m *Manager) ShouldStop(alerts []Alert) bool {
	for _, a := range alerts {
		if a.Halt {
			m.logger.Warn("risk halt", "rule", a.Rule, "message", a.Message)
			return true
		}
	}
	return false
}

// ClipMultiplier composes shrink responses into a stake multiplier in
// (0,1]. Multiple shrink alerts compound; the floor keeps the multiplier
// strictly positive.
func (m *Manager) ClipMultiplier(alerts []Alert) float64 {
	mult := 1.0
	for _, a := range alerts {
		if a.Shrink > 0 && a.Shrink < 1 {
			mult *= 1 - a.Shrink
		}
	}
	if mult < 0.1 {
		mult = 0.1
	}
	return mult
}

func (m *Manager) recent(ctx context.Context) ([]types.BetRecord, error) {
	n := m.cfg.WinRateWindow
	if n < 50 {
		n = 50
	}
	return m.history.RecentBets(ctx, n)
}

// checkConsecutiveLosses fires when the latest settled bets form a losing
// streak at or above the threshold. Zero threshold disables the rule.
func (m *Manager) checkConsecutiveLosses(bets []types.BetRecord) *Alert {
	if m.cfg.MaxConsecutiveLosses <= 0 {
		return nil
	}

	streak := 0
	for _, b := range bets { // newest first
		if !b.Settled() {
			continue
		}
		if b.Result != types.ResultLost {
			break
		}
		streak++
	}
	if streak < m.cfg.MaxConsecutiveLosses {
		return nil
	}
	return &Alert{
		Rule:    "consecutive_losses",
		Message: fmt.Sprintf("%d consecutive losses (limit %d)", streak, m.cfg.MaxConsecutiveLosses),
		Halt:    true,
	}
}

// checkWinRate fires a shrink response when the settled win rate over the
// configured window of most recent settled bets drops below the minimum.
// Zero threshold disables the rule.
func (m *Manager) checkWinRate(bets []types.BetRecord) *Alert {
	if m.cfg.MinWinRate <= 0 {
		return nil
	}

	var won, settled int
	for _, b := range bets { // newest first
		if !b.Settled() {
			continue
		}
		settled++
		if b.Result == types.ResultWon {
			won++
		}
		if m.cfg.WinRateWindow > 0 && settled == m.cfg.WinRateWindow {
			break
		}
	}
	// Too little history to judge.
	if settled < 10 {
		return nil
	}

	rate := float64(won) / float64(settled)
	if rate >= m.cfg.MinWinRate {
		return nil
	}
	return &Alert{
		Rule:    "win_rate",
		Message: fmt.Sprintf("win rate %.2f below minimum %.2f over %d bets", rate, m.cfg.MinWinRate, settled),
		Shrink:  m.cfg.ShrinkFraction,
	}
}

// checkDailyLoss fires a halt when today's realized losses exceed the
// configured percentage of today's deployed stake. Zero disables.
func (m *Manager) checkDailyLoss(bets []types.BetRecord) *Alert {
	if m.cfg.MaxDailyLossPct <= 0 {
		return nil
	}

	dayStart := m.now().Truncate(24 * time.Hour)
	var staked, profit float64
	for _, b := range bets {
		if b.ResolvedAt == nil || b.ResolvedAt.Before(dayStart) {
			continue
		}
		staked += b.Amount
		profit += b.Profit
	}
	if staked == 0 || profit >= 0 {
		return nil
	}

	lossPct := -profit / staked * 100
	if lossPct < m.cfg.MaxDailyLossPct {
		return nil
	}
	return &Alert{
		Rule:    "daily_loss",
		Message: fmt.Sprintf("daily loss %.1f%% exceeds limit %.1f%%", lossPct, m.cfg.MaxDailyLossPct),
		Halt:    true,
	}
}
