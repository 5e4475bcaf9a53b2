package settle

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vig/internal/config"
	"vig/internal/store"
	"vig/pkg/types"
)

type stubMarkets struct {
	markets map[string]*types.MarketInfo
	err     error
	calls   int
}

func (s *stubMarkets) GetMarket(_ context.Context, id string) (*types.MarketInfo, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	m, ok := s.markets[id]
	if !ok {
		return nil, errors.New("market not found")
	}
	return m, nil
}

type stubLiquidator struct {
	redeemed []string
	err      error
}

func (s *stubLiquidator) LiquidatePosition(_ context.Context, tokenID string, _ float64) error {
	s.redeemed = append(s.redeemed, tokenID)
	return s.err
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestEngine(t *testing.T, markets *stubMarkets, liq *stubLiquidator, st *store.Store) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := config.SettlementConfig{WinThreshold: 0.95, LoseThreshold: 0.05}
	return NewEngine(cfg, markets, liq, st, logger)
}

func insertPending(t *testing.T, st *store.Store, cycleID int64, marketID string, side types.Side) types.BetRecord {
	t.Helper()
	b := types.BetRecord{
		CycleID:  cycleID,
		Platform: "polymarket",
		MarketID: marketID,
		TokenID:  "tok-" + marketID,
		Side:     side,
		Price:    0.80,
		Amount:   10,
		Size:     12.5,
		OrderID:  "ord-" + marketID,
		PlacedAt: time.Now().UTC(),
		Result:   types.ResultPending,
	}
	if err := st.InsertBet(context.Background(), &b); err != nil {
		t.Fatalf("insert bet: %v", err)
	}
	return b
}

func resolvedMarket(yes, no float64, closed bool) *types.MarketInfo {
	return &types.MarketInfo{
		ID:       "m1",
		Question: "resolved?",
		YesPrice: yes,
		NoPrice:  no,
		Closed:   closed,
	}
}

func TestSettleWinningBet(t *testing.T) {
	t.Parallel()
	markets := &stubMarkets{markets: map[string]*types.MarketInfo{
		"m1": resolvedMarket(0.97, 0.03, false),
	}}
	e := newTestEngine(t, markets, &stubLiquidator{}, testStore(t))

	bet := types.BetRecord{MarketID: "m1", Side: types.SideYes, Size: 12.5, Amount: 10}
	result, payout := e.Settle(context.Background(), bet)
	if result != types.ResultWon {
		t.Fatalf("result = %v, want won", result)
	}
	if payout != 12.5 {
		t.Errorf("payout = %v, want 12.5 (one dollar per share)", payout)
	}
}

func TestSettleLosingBet(t *testing.T) {
	t.Parallel()
	markets := &stubMarkets{markets: map[string]*types.MarketInfo{
		"m1": resolvedMarket(0.02, 0.98, false),
	}}
	e := newTestEngine(t, markets, &stubLiquidator{}, testStore(t))

	bet := types.BetRecord{MarketID: "m1", Side: types.SideYes, Size: 12.5, Amount: 10}
	result, payout := e.Settle(context.Background(), bet)
	if result != types.ResultLost {
		t.Fatalf("result = %v, want lost", result)
	}
	if payout != 0 {
		t.Errorf("payout = %v, want 0", payout)
	}
}

func TestSettleUnresolvedStaysPending(t *testing.T) {
	t.Parallel()
	markets := &stubMarkets{markets: map[string]*types.MarketInfo{
		"m1": resolvedMarket(0.80, 0.20, false),
	}}
	e := newTestEngine(t, markets, &stubLiquidator{}, testStore(t))

	bet := types.BetRecord{MarketID: "m1", Side: types.SideYes, Size: 12.5}
	result, _ := e.Settle(context.Background(), bet)
	if result != types.ResultPending {
		t.Errorf("result = %v, want pending", result)
	}
}

func TestSettleClosedFlagResolves(t *testing.T) {
	t.Parallel()

	// Venue flags the market closed while prices sit at 0.96/0.04.
	markets := &stubMarkets{markets: map[string]*types.MarketInfo{
		"m1": resolvedMarket(0.96, 0.04, true),
	}}
	e := newTestEngine(t, markets, &stubLiquidator{}, testStore(t))

	bet := types.BetRecord{MarketID: "m1", Side: types.SideNo, Size: 5}
	result, payout := e.Settle(context.Background(), bet)
	if result != types.ResultLost {
		t.Errorf("result = %v, want lost for NO side", result)
	}
	if payout != 0 {
		t.Errorf("payout = %v, want 0", payout)
	}
}

func TestSettleSourceErrorLeavesPending(t *testing.T) {
	t.Parallel()
	markets := &stubMarkets{err: errors.New("gamma unavailable")}
	st := testStore(t)
	e := newTestEngine(t, markets, &stubLiquidator{}, st)

	bet := insertPending(t, st, 1, "m1", types.SideYes)

	sum, err := e.SettleAllPending(context.Background(), 1)
	if err != nil {
		t.Fatalf("SettleAllPending: %v", err)
	}
	if sum.Pending != 1 || sum.Won != 0 || sum.Lost != 0 {
		t.Errorf("summary = %+v, want 1 pending", sum)
	}

	// The bet record must be untouched.
	pending, err := st.PendingBetsByCycle(context.Background(), 1)
	if err != nil {
		t.Fatalf("PendingBetsByCycle: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != bet.ID {
		t.Errorf("bet should still be pending, got %v", pending)
	}
}

func TestSettleAllPendingPersistsAndRedeems(t *testing.T) {
	t.Parallel()
	markets := &stubMarkets{markets: map[string]*types.MarketInfo{
		"won":  resolvedMarket(0.99, 0.01, true),
		"lost": resolvedMarket(0.01, 0.99, true),
		"open": resolvedMarket(0.70, 0.30, false),
	}}
	markets.markets["won"].ID = "won"
	markets.markets["lost"].ID = "lost"
	markets.markets["open"].ID = "open"
	liq := &stubLiquidator{}
	st := testStore(t)
	e := newTestEngine(t, markets, liq, st)

	insertPending(t, st, 3, "won", types.SideYes)
	insertPending(t, st, 3, "lost", types.SideYes)
	insertPending(t, st, 3, "open", types.SideYes)

	sum, err := e.SettleAllPending(context.Background(), 3)
	if err != nil {
		t.Fatalf("SettleAllPending: %v", err)
	}
	if sum.Won != 1 || sum.Lost != 1 || sum.Pending != 1 {
		t.Fatalf("summary = %+v, want 1 won, 1 lost, 1 pending", sum)
	}
	if sum.Returned != 12.5 {
		t.Errorf("Returned = %v, want 12.5", sum.Returned)
	}
	// won: 12.5 - 10 = 2.5, lost: -10
	if math.Abs(sum.Profit-(-7.5)) > 1e-9 {
		t.Errorf("Profit = %v, want -7.5", sum.Profit)
	}
	if len(liq.redeemed) != 1 || liq.redeemed[0] != "tok-won" {
		t.Errorf("redeemed = %v, want [tok-won]", liq.redeemed)
	}

	pending, err := st.PendingBetsByCycle(context.Background(), 3)
	if err != nil {
		t.Fatalf("PendingBetsByCycle: %v", err)
	}
	if len(pending) != 1 || pending[0].MarketID != "open" {
		t.Errorf("pending = %v, want only the open market", pending)
	}
}

func TestSettleSecondPassIsNoOp(t *testing.T) {
	t.Parallel()
	markets := &stubMarkets{markets: map[string]*types.MarketInfo{
		"m1": resolvedMarket(0.99, 0.01, true),
	}}
	liq := &stubLiquidator{}
	st := testStore(t)
	e := newTestEngine(t, markets, liq, st)

	insertPending(t, st, 1, "m1", types.SideYes)

	first, err := e.SettleAllPending(context.Background(), 1)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if first.Won != 1 {
		t.Fatalf("first pass summary = %+v, want 1 won", first)
	}

	second, err := e.SettleAllPending(context.Background(), 1)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.Won != 0 || second.Lost != 0 || second.Pending != 0 {
		t.Errorf("second pass summary = %+v, want all zero", second)
	}
	if len(liq.redeemed) != 1 {
		t.Errorf("redeemed %d times, want exactly once", len(liq.redeemed))
	}
}

func TestSweepBacklogOnlyOlderCycles(t *testing.T) {
	t.Parallel()
	markets := &stubMarkets{markets: map[string]*types.MarketInfo{
		"old": resolvedMarket(0.99, 0.01, true),
		"cur": resolvedMarket(0.99, 0.01, true),
	}}
	st := testStore(t)
	e := newTestEngine(t, markets, &stubLiquidator{}, st)

	insertPending(t, st, 1, "old", types.SideYes)
	insertPending(t, st, 5, "cur", types.SideYes)

	sum, err := e.SweepBacklog(context.Background(), 5)
	if err != nil {
		t.Fatalf("SweepBacklog: %v", err)
	}
	if sum.Won != 1 {
		t.Fatalf("summary = %+v, want 1 won", sum)
	}

	pending, err := st.PendingBetsByCycle(context.Background(), 5)
	if err != nil {
		t.Fatalf("PendingBetsByCycle: %v", err)
	}
	if len(pending) != 1 || pending[0].MarketID != "cur" {
		t.Errorf("current cycle bet should be untouched, got %v", pending)
	}
}

func TestRedemptionFailureDoesNotRevert(t *testing.T) {
	t.Parallel()
	markets := &stubMarkets{markets: map[string]*types.MarketInfo{
		"m1": resolvedMarket(0.99, 0.01, true),
	}}
	liq := &stubLiquidator{err: errors.New("redeem rejected")}
	st := testStore(t)
	e := newTestEngine(t, markets, liq, st)

	insertPending(t, st, 1, "m1", types.SideYes)

	sum, err := e.SettleAllPending(context.Background(), 1)
	if err != nil {
		t.Fatalf("SettleAllPending: %v", err)
	}
	if sum.Won != 1 {
		t.Errorf("summary = %+v, want 1 won despite redemption failure", sum)
	}

	pending, err := st.PendingBetsByCycle(context.Background(), 1)
	if err != nil {
		t.Fatalf("PendingBetsByCycle: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("bet must stay settled, got %d pending", len(pending))
	}
}
