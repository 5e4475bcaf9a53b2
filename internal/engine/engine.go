// Package engine is the central orchestrator of the betting bot.
//
// It drives the core loop:
//
//  1. Scanner finds near-expiry favorite-priced markets.
//  2. Risk manager vets the cycle before any order goes out.
//  3. Placer submits one bet per approved candidate.
//  4. Settlement engine resolves the cycle's bets and sweeps any backlog.
//  5. Snowball updates the clip from the cycle's net profit.
//
// Lifecycle: New() → Run() → [runs until SIGINT] → context cancel
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vig/internal/config"
	"vig/internal/risk"
	"vig/internal/settle"
	"vig/internal/snowball"
	"vig/pkg/types"
)

// CandidateSource discovers betting candidates. Implemented by *market.Scanner.
type CandidateSource interface {
	Scan(ctx context.Context) []types.MarketCandidate
}

// BetPlacer submits bets for a cycle. Implemented by *betting.Placer.
type BetPlacer interface {
	PlaceBets(ctx context.Context, candidates []types.MarketCandidate, cycleID int64, stakeMultiplier float64) []types.BetRecord
}

// Settler resolves pending bets. Implemented by *settle.Engine.
type Settler interface {
	SettleAllPending(ctx context.Context, cycleID int64) (settle.Summary, error)
	SweepBacklog(ctx context.Context, beforeCycleID int64) (settle.Summary, error)
}

// RiskPolicy vets cycles against trading guards. Implemented by *risk.Manager.
type RiskPolicy interface {
	CheckPreCycle(ctx context.Context) []risk.Alert
	CheckPostCycle(ctx context.Context, losses int) []risk.Alert
	ShouldStop(alerts []risk.Alert) bool
	ClipMultiplier(alerts []risk.Alert) float64
}

// EngineStore is the persistence surface the orchestrator needs.
// Implemented by *store.Store.
type EngineStore interface {
	Heartbeat(ctx context.Context, status string) error
	OpenMarketIDs(ctx context.Context) (map[string]bool, error)
	NextCycleID(ctx context.Context) (int64, error)
	InsertCycle(ctx context.Context, c *types.CycleRecord) error
	FinishCycle(ctx context.Context, c *types.CycleRecord) error
	LatestCycle(ctx context.Context) (*types.CycleRecord, error)
	SumPocketed(ctx context.Context) (float64, error)
}

// Engine runs the scan/bet/settle/snowball loop.
type Engine struct {
	cfg      config.Config
	scanner  CandidateSource
	placer   BetPlacer
	settler  Settler
	riskMgr  RiskPolicy
	snowball *snowball.Snowball
	store    EngineStore
	logger   *slog.Logger
}

func New(cfg config.Config, scanner CandidateSource, placer BetPlacer, settler Settler,
	riskMgr RiskPolicy, sb *snowball.Snowball, st EngineStore, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		scanner:  scanner,
		placer:   placer,
		settler:  settler,
		riskMgr:  riskMgr,
		snowball: sb,
		store:    st,
		logger:   logger.With("component", "engine"),
	}
}

// Run restores snowball state and executes cycles until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.restoreState(ctx); err != nil {
		return err
	}

	e.logger.Info("engine started",
		"cycle_interval", e.cfg.Engine.CycleInterval,
		"paper", e.cfg.Paper)

	for {
		e.runCycleSafe(ctx)

		if !e.sleep(ctx, e.cfg.Engine.CycleInterval) {
			e.logger.Info("engine stopping")
			return nil
		}
	}
}

// restoreState resumes the snowball from the last finished cycle so a
// restart picks up where the previous process left off.
func (e *Engine) restoreState(ctx context.Context) error {
	last, err := e.store.LatestCycle(ctx)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	if last == nil {
		return nil
	}

	pocketed, err := e.store.SumPocketed(ctx)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	e.snowball.Restore(types.SnowballState{
		ClipSize:        last.ClipSize,
		Phase:           last.Phase,
		TotalPocketed:   pocketed,
		CyclesCompleted: int(last.ID),
	})
	st := e.snowball.Snapshot()
	e.logger.Info("state restored",
		"last_cycle", last.ID, "clip", st.ClipSize,
		"phase", st.Phase, "pocketed", st.TotalPocketed)
	return nil
}

// runCycleSafe isolates one cycle from the loop. A panic in any subsystem
// aborts the cycle, not the bot.
func (e *Engine) runCycleSafe(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("cycle panicked", "panic", r)
		}
	}()
	if err := e.RunCycle(ctx); err != nil {
		e.logger.Error("cycle failed", "error", err)
	}
}

// RunCycle executes one full scan/bet/settle/snowball pass.
func (e *Engine) RunCycle(ctx context.Context) error {
	e.heartbeat(ctx, "scanning")

	preAlerts := e.riskMgr.CheckPreCycle(ctx)
	if e.riskMgr.ShouldStop(preAlerts) {
		e.logger.Warn("risk halt, skipping cycle")
		e.heartbeat(ctx, "halted")
		e.sweepBacklogOnly(ctx)
		return nil
	}
	multiplier := e.riskMgr.ClipMultiplier(preAlerts)

	candidates := e.scanner.Scan(ctx)
	candidates = e.excludeOpen(ctx, candidates)
	if len(candidates) == 0 {
		e.logger.Info("no candidates this cycle")
		e.heartbeat(ctx, "idle")
		e.sweepBacklogOnly(ctx)
		return nil
	}

	cycleID, err := e.store.NextCycleID(ctx)
	if err != nil {
		return fmt.Errorf("allocate cycle id: %w", err)
	}

	e.heartbeat(ctx, "betting")
	bets := e.placer.PlaceBets(ctx, candidates, cycleID, multiplier)
	if len(bets) == 0 {
		// No cycle record without at least one confirmed bet.
		e.logger.Info("no bets placed", "candidates", len(candidates))
		e.heartbeat(ctx, "idle")
		e.sweepBacklogOnly(ctx)
		return nil
	}

	snap := e.snowball.Snapshot()
	cycle := &types.CycleRecord{
		ID:         cycleID,
		StartedAt:  time.Now().UTC(),
		BetsPlaced: len(bets),
		ClipSize:   snap.ClipSize,
		Phase:      snap.Phase,
	}
	for _, b := range bets {
		cycle.TotalStaked += b.Amount
	}
	if err := e.store.InsertCycle(ctx, cycle); err != nil {
		return fmt.Errorf("record cycle %d: %w", cycleID, err)
	}
	e.logger.Info("cycle opened",
		"cycle_id", cycleID, "bets", len(bets),
		"staked", cycle.TotalStaked, "clip", snap.ClipSize)

	e.heartbeat(ctx, "settling")
	sum := e.awaitSettlement(ctx, cycleID)

	if _, err := e.settler.SweepBacklog(ctx, cycleID); err != nil {
		e.logger.Warn("backlog sweep failed", "error", err)
	}

	postAlerts := e.riskMgr.CheckPostCycle(ctx, sum.Lost)
	if e.riskMgr.ShouldStop(postAlerts) {
		e.logger.Warn("risk halt raised after settlement")
	}

	outcome := e.snowball.ProcessCycle(sum.Profit, len(bets))

	cycle.EndedAt = time.Now().UTC()
	cycle.BetsWon = sum.Won
	cycle.BetsLost = sum.Lost
	cycle.BetsPending = sum.Pending
	cycle.TotalReturned = sum.Returned
	cycle.NetProfit = sum.Profit
	cycle.Pocketed = outcome.Pocketed
	// The finished record is the restart checkpoint: it must carry the
	// post-update clip, or a restart replays the cycle's adjustment away.
	cycle.ClipSize = outcome.NewClip
	cycle.Phase = outcome.Phase
	if err := e.store.FinishCycle(ctx, cycle); err != nil {
		return fmt.Errorf("finish cycle %d: %w", cycleID, err)
	}

	if outcome.HitMax {
		e.logger.Info("clip reached ceiling, switching to harvest",
			"clip", outcome.NewClip)
	}
	e.logger.Info("cycle closed",
		"cycle_id", cycleID,
		"won", sum.Won, "lost", sum.Lost, "pending", sum.Pending,
		"profit", sum.Profit, "pocketed", outcome.Pocketed,
		"next_clip", outcome.NewClip, "phase", outcome.Phase)
	e.heartbeat(ctx, "idle")
	return nil
}

// awaitSettlement polls until the cycle's bets resolve or the settlement
// timeout passes. Paper bets settle against the same market data, so paper
// mode gets a single pass and leaves unresolved bets to later sweeps.
func (e *Engine) awaitSettlement(ctx context.Context, cycleID int64) settle.Summary {
	total, err := e.settler.SettleAllPending(ctx, cycleID)
	if err != nil {
		e.logger.Error("settlement pass failed", "cycle_id", cycleID, "error", err)
		return total
	}
	if total.Settled() || e.cfg.Paper {
		return total
	}

	deadline := time.Now().Add(e.cfg.Settlement.Timeout)
	for time.Now().Before(deadline) {
		if !e.sleep(ctx, e.cfg.Settlement.CheckInterval) {
			return total
		}
		sum, err := e.settler.SettleAllPending(ctx, cycleID)
		if err != nil {
			e.logger.Error("settlement pass failed", "cycle_id", cycleID, "error", err)
			continue
		}
		total.Won += sum.Won
		total.Lost += sum.Lost
		total.Returned += sum.Returned
		total.Profit += sum.Profit
		total.Pending = sum.Pending
		if total.Settled() {
			return total
		}
	}

	e.logger.Warn("settlement timed out, remaining bets go to backlog",
		"cycle_id", cycleID, "pending", total.Pending)
	return total
}

// sweepBacklogOnly settles leftovers on cycles that place no bets.
func (e *Engine) sweepBacklogOnly(ctx context.Context) {
	next, err := e.store.NextCycleID(ctx)
	if err != nil {
		e.logger.Warn("backlog sweep skipped", "error", err)
		return
	}
	if _, err := e.settler.SweepBacklog(ctx, next); err != nil {
		e.logger.Warn("backlog sweep failed", "error", err)
	}
}

// excludeOpen drops candidates whose market already carries a pending bet.
func (e *Engine) excludeOpen(ctx context.Context, candidates []types.MarketCandidate) []types.MarketCandidate {
	if len(candidates) == 0 {
		return candidates
	}
	open, err := e.store.OpenMarketIDs(ctx)
	if err != nil {
		e.logger.Warn("open-market lookup failed, keeping all candidates", "error", err)
		return candidates
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if open[c.Market.ID] {
			e.logger.Debug("skipping market with open bet", "market_id", c.Market.ID)
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func (e *Engine) heartbeat(ctx context.Context, status string) {
	if err := e.store.Heartbeat(ctx, status); err != nil {
		e.logger.Warn("heartbeat failed", "status", status, "error", err)
	}
}

// sleep waits for d in chunks so shutdown is never more than one chunk away.
// Returns false when ctx was cancelled.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	chunk := e.cfg.Engine.SleepChunk
	if chunk <= 0 || chunk > d {
		chunk = d
	}
	deadline := time.Now().Add(d)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return true
		}
		if remain > chunk {
			remain = chunk
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(remain):
		}
	}
}
