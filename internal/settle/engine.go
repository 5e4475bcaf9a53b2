package settle

import (
	"context"
	"log/slog"
	"time"

	"vig/internal/config"
	"vig/pkg/types"
)

// MarketGetter fetches current market state for resolution checks.
type MarketGetter interface {
	GetMarket(ctx context.Context, id string) (*types.MarketInfo, error)
}

// Liquidator redeems winning positions back to collateral.
type Liquidator interface {
	LiquidatePosition(ctx context.Context, tokenID string, size float64) error
}

// SettleStore is the persistence surface the settlement engine needs.
type SettleStore interface {
	SettleBet(ctx context.Context, id int64, result types.BetResult, payout, profit float64, resolvedAt time.Time) (bool, error)
	PendingBetsByCycle(ctx context.Context, cycleID int64) ([]types.BetRecord, error)
	PendingBetsBefore(ctx context.Context, cycleID int64) ([]types.BetRecord, error)
}

// Summary aggregates the outcome of a settlement pass.
type Summary struct {
	Won      int
	Lost     int
	Pending  int
	Returned float64 // total payout from winning bets
	Profit   float64 // net profit across settled bets
}

// Settled reports whether every examined bet reached a terminal result.
func (s Summary) Settled() bool {
	return s.Pending == 0
}

// Engine resolves pending bets against current market prices.
type Engine struct {
	cfg    config.SettlementConfig
	source MarketGetter
	liq    Liquidator
	store  SettleStore
	logger *slog.Logger

	now func() time.Time
}

func NewEngine(cfg config.SettlementConfig, source MarketGetter, liq Liquidator, store SettleStore, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		source: source,
		liq:    liq,
		store:  store,
		logger: logger.With("component", "settle"),
		now:    time.Now,
	}
}

// Settle checks a single bet against the market and returns its result.
// A data-source error or an unresolved market leaves the bet pending and
// mutates nothing.
func (e *Engine) Settle(ctx context.Context, bet types.BetRecord) (types.BetResult, float64) {
	m, err := e.source.GetMarket(ctx, bet.MarketID)
	if err != nil {
		e.logger.Warn("market fetch failed, leaving bet pending",
			"bet_id", bet.ID, "market_id", bet.MarketID, "error", err)
		return types.ResultPending, 0
	}

	if !e.resolved(m) {
		return types.ResultPending, 0
	}

	price := m.PriceFor(bet.Side)
	switch {
	case price >= e.cfg.WinThreshold:
		return types.ResultWon, bet.Size
	case price <= e.cfg.LoseThreshold:
		return types.ResultLost, 0
	default:
		return types.ResultPending, 0
	}
}

// resolved reports whether the market has reached a terminal state, either
// flagged closed by the venue or with one outcome priced at near certainty.
func (e *Engine) resolved(m *types.MarketInfo) bool {
	if m.Closed {
		return true
	}
	for _, p := range []float64{m.YesPrice, m.NoPrice} {
		if p >= e.cfg.WinThreshold || p <= e.cfg.LoseThreshold {
			return true
		}
	}
	return false
}

// SettleAllPending runs one settlement pass over a cycle's pending bets.
func (e *Engine) SettleAllPending(ctx context.Context, cycleID int64) (Summary, error) {
	bets, err := e.store.PendingBetsByCycle(ctx, cycleID)
	if err != nil {
		return Summary{}, err
	}
	return e.settleBatch(ctx, bets), nil
}

// SweepBacklog settles pending bets left over from cycles before the given
// one, typically after a restart or a settlement timeout.
func (e *Engine) SweepBacklog(ctx context.Context, beforeCycleID int64) (Summary, error) {
	bets, err := e.store.PendingBetsBefore(ctx, beforeCycleID)
	if err != nil {
		return Summary{}, err
	}
	if len(bets) > 0 {
		e.logger.Info("sweeping settlement backlog", "bets", len(bets), "before_cycle", beforeCycleID)
	}
	return e.settleBatch(ctx, bets), nil
}

func (e *Engine) settleBatch(ctx context.Context, bets []types.BetRecord) Summary {
	var sum Summary
	for _, bet := range bets {
		result, payout := e.Settle(ctx, bet)
		if result == types.ResultPending {
			sum.Pending++
			continue
		}

		profit := payout - bet.Amount
		changed, err := e.store.SettleBet(ctx, bet.ID, result, payout, profit, e.now().UTC())
		if err != nil {
			e.logger.Error("failed to persist settlement",
				"bet_id", bet.ID, "result", result, "error", err)
			sum.Pending++
			continue
		}
		if !changed {
			// Already settled by an earlier pass.
			continue
		}

		switch result {
		case types.ResultWon:
			sum.Won++
			sum.Returned += payout
			sum.Profit += profit
			e.redeem(ctx, bet)
		case types.ResultLost:
			sum.Lost++
			sum.Profit += profit
		}

		e.logger.Info("bet settled",
			"bet_id", bet.ID, "market_id", bet.MarketID,
			"result", result, "payout", payout, "profit", profit)
	}
	return sum
}

// redeem converts a winning position back to collateral. Redemption is best
// effort: the bet stays settled even if the venue call fails.
func (e *Engine) redeem(ctx context.Context, bet types.BetRecord) {
	if err := e.liq.LiquidatePosition(ctx, bet.TokenID, bet.Size); err != nil {
		e.logger.Warn("position redemption failed",
			"bet_id", bet.ID, "token_id", bet.TokenID, "error", err)
	}
}
