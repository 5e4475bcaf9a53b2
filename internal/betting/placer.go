// Package betting turns scanner candidates into placed bets.
//
// For each candidate the placer computes a stake from the snowball clip,
// fits the batch to available balance when the executor reports one, and
// submits orders through a bounded worker pool. One order failing never
// aborts its siblings — a failed candidate simply produces no bet record.
package betting

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"vig/internal/config"
	"vig/internal/exchange"
	"vig/pkg/types"
)

// Sizer computes the stake for one market. Implemented by
// *snowball.Snowball.
type Sizer interface {
	SizeForMarket(volumeCap float64) float64
}

// BetStore persists bet records. Implemented by *store.Store.
type BetStore interface {
	InsertBet(ctx context.Context, b *types.BetRecord) error
}

// Placer submits one cycle's batch of bets.
type Placer struct {
	cfg    config.BettingConfig
	exec   exchange.Executor
	sizer  Sizer
	store  BetStore
	paper  bool
	logger *slog.Logger
}

// NewPlacer creates a bet placer.
func NewPlacer(cfg config.BettingConfig, exec exchange.Executor, sizer Sizer, store BetStore, paper bool, logger *slog.Logger) *Placer {
	return &Placer{
		cfg:    cfg,
		exec:   exec,
		sizer:  sizer,
		store:  store,
		paper:  paper,
		logger: logger.With("component", "betting"),
	}
}

// stakedCandidate pairs a candidate with its computed stake.
type stakedCandidate struct {
	cand  types.MarketCandidate
	stake float64
}

// PlaceBets sizes, balance-fits, shuffles, and submits the candidate
// batch, persisting a pending BetRecord for every confirmed order.
// Candidates whose markets already carry an open bet must be excluded by
// the caller before this point.
func (p *Placer) PlaceBets(ctx context.Context, candidates []types.MarketCandidate, cycleID int64, stakeMultiplier float64) []types.BetRecord {
	staked := p.sizeCandidates(candidates, stakeMultiplier)
	if len(staked) == 0 {
		return nil
	}

	staked = p.fitToBalance(ctx, staked)

	// Shuffle submission order so the venue never sees a stable
	// placement pattern.
	rand.Shuffle(len(staked), func(i, j int) {
		staked[i], staked[j] = staked[j], staked[i]
	})

	var (
		mu   sync.Mutex
		bets []types.BetRecord
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrentOrders)

	for _, sc := range staked {
		g.Go(func() error {
			bet, ok := p.placeOne(ctx, sc, cycleID)
			if ok {
				mu.Lock()
				bets = append(bets, bet)
				mu.Unlock()
			}
			// Failures are isolated per candidate, never propagated.
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("placement complete",
		"candidates", len(candidates),
		"submitted", len(staked),
		"placed", len(bets),
	)
	return bets
}

// sizeCandidates computes stakes and drops anything below the minimum
// tradable stake.
func (p *Placer) sizeCandidates(candidates []types.MarketCandidate, multiplier float64) []stakedCandidate {
	var out []stakedCandidate
	for _, c := range candidates {
		stake := roundCents(p.sizer.SizeForMarket(c.MaxClipForVolume) * multiplier)
		if stake < p.cfg.MinStake {
			p.logger.Debug("skipping candidate below min stake",
				"market", c.Market.ID, "stake", stake)
			continue
		}
		out = append(out, stakedCandidate{cand: c, stake: stake})
	}
	return out
}

// fitToBalance greedily keeps candidates by soonest expiry until the
// running stake total fits the available balance. A balance read failure
// leaves the batch unconstrained — the venue rejects what it must.
func (p *Placer) fitToBalance(ctx context.Context, staked []stakedCandidate) []stakedCandidate {
	balance, err := p.exec.GetBalance(ctx)
	if err != nil {
		p.logger.Warn("balance unavailable, placing unconstrained", "error", err)
		return staked
	}

	var total float64
	for _, sc := range staked {
		total += sc.stake
	}
	if total <= balance {
		return staked
	}

	sort.SliceStable(staked, func(i, j int) bool {
		return staked[i].cand.Market.EndDate.Before(staked[j].cand.Market.EndDate)
	})

	var kept []stakedCandidate
	var running float64
	for _, sc := range staked {
		if running+sc.stake > balance {
			continue
		}
		running += sc.stake
		kept = append(kept, sc)
	}

	p.logger.Warn("balance constraint trimmed batch",
		"balance", balance,
		"required", total,
		"kept", len(kept),
		"dropped", len(staked)-len(kept),
	)
	return kept
}

// placeOne submits one order and persists its bet record.
func (p *Placer) placeOne(ctx context.Context, sc stakedCandidate, cycleID int64) (types.BetRecord, bool) {
	c := sc.cand

	// Shares at two decimals; the recomputed amount keeps size*price
	// equal to the persisted stake within cent rounding.
	price := decimal.NewFromFloat(c.Price)
	size := decimal.NewFromFloat(sc.stake).DivRound(price, 2)
	amount := size.Mul(price).Round(2)

	sizeF, _ := size.Float64()
	amountF, _ := amount.Float64()

	orderID, err := p.exec.PlaceOrder(ctx, exchange.Order{
		TokenID: c.Market.TokenFor(c.Side),
		Side:    c.Side,
		Price:   c.Price,
		Size:    sizeF,
	})
	if err != nil {
		p.logger.Warn("order failed",
			"market", c.Market.ID,
			"question", c.Market.Question,
			"error", err,
		)
		return types.BetRecord{}, false
	}

	bet := types.BetRecord{
		CycleID:  cycleID,
		Platform: "polymarket",
		MarketID: c.Market.ID,
		TokenID:  c.Market.TokenFor(c.Side),
		Side:     c.Side,
		Price:    c.Price,
		Amount:   amountF,
		Size:     sizeF,
		OrderID:  orderID,
		PlacedAt: time.Now(),
		Result:   types.ResultPending,
		Paper:    p.paper,
	}
	if err := p.store.InsertBet(ctx, &bet); err != nil {
		p.logger.Error("bet placed but not persisted",
			"market", c.Market.ID,
			"order_id", orderID,
			"error", err,
		)
		return types.BetRecord{}, false
	}

	p.logger.Info("bet placed",
		"market", c.Market.ID,
		"side", c.Side,
		"price", c.Price,
		"amount", amountF,
		"order_id", orderID,
	)
	return bet, true
}

// roundCents rounds a USD amount to whole cents.
func roundCents(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
