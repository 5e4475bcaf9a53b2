package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vig/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vig.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBet(cycleID int64, marketID string) *types.BetRecord {
	return &types.BetRecord{
		CycleID:  cycleID,
		Platform: "polymarket",
		MarketID: marketID,
		TokenID:  "tok-" + marketID,
		Side:     types.SideYes,
		Price:    0.80,
		Amount:   10,
		Size:     12.5,
		OrderID:  "ord-" + marketID,
		PlacedAt: time.Now(),
		Result:   types.ResultPending,
		Paper:    true,
	}
}

func TestInsertBetAssignsID(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	b := testBet(1, "m1")
	if err := s.InsertBet(ctx, b); err != nil {
		t.Fatalf("InsertBet: %v", err)
	}
	if b.ID == 0 {
		t.Error("expected assigned ID")
	}
}

func TestSettleBetIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	b := testBet(1, "m1")
	if err := s.InsertBet(ctx, b); err != nil {
		t.Fatalf("InsertBet: %v", err)
	}

	changed, err := s.SettleBet(ctx, b.ID, types.ResultWon, 12.5, 2.5, time.Now())
	if err != nil {
		t.Fatalf("SettleBet: %v", err)
	}
	if !changed {
		t.Error("first settle should report a change")
	}

	// Second settle must be a no-op, even with a different result.
	changed, err = s.SettleBet(ctx, b.ID, types.ResultLost, 0, -10, time.Now())
	if err != nil {
		t.Fatalf("SettleBet second: %v", err)
	}
	if changed {
		t.Error("second settle should be a no-op")
	}

	bets, err := s.RecentBets(ctx, 1)
	if err != nil {
		t.Fatalf("RecentBets: %v", err)
	}
	if bets[0].Result != types.ResultWon {
		t.Errorf("Result = %v, want won to stick", bets[0].Result)
	}
	if bets[0].Payout != 12.5 {
		t.Errorf("Payout = %v, want 12.5", bets[0].Payout)
	}
	if bets[0].ResolvedAt == nil {
		t.Error("ResolvedAt should be set after settlement")
	}
}

func TestPendingQueries(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	old := testBet(1, "m-old")
	cur1 := testBet(2, "m-a")
	cur2 := testBet(2, "m-b")
	for _, b := range []*types.BetRecord{old, cur1, cur2} {
		if err := s.InsertBet(ctx, b); err != nil {
			t.Fatalf("InsertBet: %v", err)
		}
	}
	if _, err := s.SettleBet(ctx, cur2.ID, types.ResultLost, 0, -10, time.Now()); err != nil {
		t.Fatalf("SettleBet: %v", err)
	}

	byCycle, err := s.PendingBetsByCycle(ctx, 2)
	if err != nil {
		t.Fatalf("PendingBetsByCycle: %v", err)
	}
	if len(byCycle) != 1 || byCycle[0].MarketID != "m-a" {
		t.Errorf("PendingBetsByCycle = %+v, want only m-a", byCycle)
	}

	backlog, err := s.PendingBetsBefore(ctx, 2)
	if err != nil {
		t.Fatalf("PendingBetsBefore: %v", err)
	}
	if len(backlog) != 1 || backlog[0].MarketID != "m-old" {
		t.Errorf("PendingBetsBefore = %+v, want only m-old", backlog)
	}

	open, err := s.OpenMarketIDs(ctx)
	if err != nil {
		t.Fatalf("OpenMarketIDs: %v", err)
	}
	if !open["m-old"] || !open["m-a"] || open["m-b"] {
		t.Errorf("OpenMarketIDs = %v", open)
	}
}

func TestCycleLifecycle(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.NextCycleID(ctx)
	if err != nil {
		t.Fatalf("NextCycleID: %v", err)
	}
	if id != 1 {
		t.Errorf("first cycle id = %d, want 1", id)
	}

	c := &types.CycleRecord{
		ID:          id,
		StartedAt:   time.Now(),
		BetsPlaced:  3,
		TotalStaked: 30,
		ClipSize:    10,
		Phase:       types.PhaseGrowth,
	}
	if err := s.InsertCycle(ctx, c); err != nil {
		t.Fatalf("InsertCycle: %v", err)
	}

	c.EndedAt = time.Now()
	c.BetsWon = 2
	c.BetsLost = 1
	c.TotalReturned = 25
	c.NetProfit = -5
	c.Pocketed = 0
	if err := s.FinishCycle(ctx, c); err != nil {
		t.Fatalf("FinishCycle: %v", err)
	}

	latest, err := s.LatestCycle(ctx)
	if err != nil {
		t.Fatalf("LatestCycle: %v", err)
	}
	if latest == nil {
		t.Fatal("expected a cycle")
	}
	if latest.BetsWon != 2 || latest.BetsLost != 1 {
		t.Errorf("counts = %d/%d, want 2/1", latest.BetsWon, latest.BetsLost)
	}
	if latest.BetsWon+latest.BetsLost+latest.BetsPending != latest.BetsPlaced {
		t.Errorf("count invariant broken: %+v", latest)
	}
	if latest.EndedAt.IsZero() {
		t.Error("EndedAt should be set")
	}

	next, err := s.NextCycleID(ctx)
	if err != nil {
		t.Fatalf("NextCycleID: %v", err)
	}
	if next != 2 {
		t.Errorf("next cycle id = %d, want 2", next)
	}
}

func TestLatestCycleEmpty(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	latest, err := s.LatestCycle(context.Background())
	if err != nil {
		t.Fatalf("LatestCycle: %v", err)
	}
	if latest != nil {
		t.Errorf("expected nil on empty store, got %+v", latest)
	}
}

func TestSumPocketed(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i, pocketed := range []float64{5, 0, 7.5} {
		c := &types.CycleRecord{
			ID:        int64(i + 1),
			StartedAt: time.Now(),
			ClipSize:  10,
			Phase:     types.PhaseGrowth,
		}
		if err := s.InsertCycle(ctx, c); err != nil {
			t.Fatalf("InsertCycle: %v", err)
		}
		c.EndedAt = time.Now()
		c.Pocketed = pocketed
		if err := s.FinishCycle(ctx, c); err != nil {
			t.Fatalf("FinishCycle: %v", err)
		}
	}

	total, err := s.SumPocketed(ctx)
	if err != nil {
		t.Fatalf("SumPocketed: %v", err)
	}
	if total != 12.5 {
		t.Errorf("SumPocketed = %v, want 12.5", total)
	}
}

func TestHeartbeatUpsert(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Heartbeat(ctx, "scanning"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if err := s.Heartbeat(ctx, "sleeping"); err != nil {
		t.Fatalf("Heartbeat upsert: %v", err)
	}
}
