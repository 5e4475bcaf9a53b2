// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — market metadata,
// scan candidates, bet and cycle records, and the snowball checkpoint.
// It has no dependencies on internal packages, so it can be imported by
// any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side identifies which outcome of a binary market a bet is on.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the other side of a binary market.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// BetResult is the settlement state of a bet. A bet starts pending and
// transitions exactly once to won or lost; it never transitions back.
type BetResult string

const (
	ResultPending BetResult = "pending"
	ResultWon     BetResult = "won"
	ResultLost    BetResult = "lost"
)

// Phase is the snowball bankroll phase. Growth reinvests a fraction of
// profit into the clip size; harvest banks all profit. The transition
// growth → harvest is one-directional.
type Phase string

const (
	PhaseGrowth  Phase = "growth"
	PhaseHarvest Phase = "harvest"
)

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// MarketInfo is the internal representation of a binary prediction market.
// Populated from the Gamma API at the parsing boundary; everything past
// that boundary operates only on this typed form. A binary market has
// exactly two outcomes whose prices sum to ~$1 — markets with any other
// outcome count are rejected during parsing and never reach this type.
type MarketInfo struct {
	ID       string // Gamma market ID
	Slug     string // human-readable URL slug
	Question string // the prediction question, e.g. "Will X happen by Y?"

	YesPrice float64 // probability-price of the first outcome, in [0,1]
	NoPrice  float64 // probability-price of the second outcome

	YesTokenID string // tradable instrument ID for the first outcome
	NoTokenID  string // tradable instrument ID for the second outcome

	EndDate   time.Time // when the market is scheduled to resolve
	Volume24h float64   // trailing 24-hour volume in USD
	Liquidity float64   // total USD liquidity on the book

	Active           bool // market is live
	Closed           bool // market has been resolved
	AcceptingOrders  bool // venue is accepting new orders
	OrderBookEnabled bool // venue runs an order book for this market
}

// PriceFor returns the current price of the given side.
func (m MarketInfo) PriceFor(side Side) float64 {
	if side == SideYes {
		return m.YesPrice
	}
	return m.NoPrice
}

// TokenFor returns the tradable instrument ID for the given side.
func (m MarketInfo) TokenFor(side Side) string {
	if side == SideYes {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// Tradable reports whether orders can currently be placed on the market.
func (m MarketInfo) Tradable() bool {
	return m.Active && !m.Closed && m.AcceptingOrders && m.OrderBookEnabled
}

// MarketCandidate is a market selected by the scanner for betting.
// Created fresh each cycle, never persisted, consumed immediately by
// bet placement.
type MarketCandidate struct {
	Market   MarketInfo
	Side     Side    // the favorite side
	Price    float64 // favorite price at scan time
	Opposite Side    // the counterpart side

	// MaxClipForVolume is a soft per-market exposure cap derived from
	// trading volume. Zero means unbounded (no volume data).
	MaxClipForVolume float64
}

// ————————————————————————————————————————————————————————————————————————
// Persisted records
// ————————————————————————————————————————————————————————————————————————

// BetRecord is one placed bet. Created by bet placement with
// Result=pending, mutated exactly once by the settlement engine, never
// deleted.
//
// Invariants: Amount, Price and Size are non-negative; Size*Price ≈ Amount
// at placement (cent rounding tolerance); once Result leaves pending,
// Profit = Payout-Amount for won bets and -Amount for lost bets.
type BetRecord struct {
	ID       int64
	CycleID  int64  // owning cycle
	Platform string // venue name, e.g. "polymarket"
	MarketID string
	TokenID  string // instrument the order was placed against
	Side     Side
	Price    float64 // execution price
	Amount   float64 // stake in USD
	Size     float64 // position size in shares
	OrderID  string  // external order identifier

	PlacedAt   time.Time
	ResolvedAt *time.Time // nil until settled

	Result BetResult
	Payout float64
	Profit float64

	Paper bool // true if placed by the paper executor
}

// Settled reports whether the bet has left the pending state.
func (b BetRecord) Settled() bool {
	return b.Result != ResultPending
}

// CycleRecord aggregates one scan→place→settle round. Only created once
// bets are confirmed placed — cycles with zero bets leave no record.
// After the settlement pass completes, BetsWon+BetsLost+BetsPending ==
// BetsPlaced.
type CycleRecord struct {
	ID        int64
	StartedAt time.Time
	EndedAt   time.Time // zero until the cycle finishes

	BetsPlaced  int
	BetsWon     int
	BetsLost    int
	BetsPending int

	TotalStaked   float64
	TotalReturned float64
	NetProfit     float64
	Pocketed      float64 // profit withdrawn from reinvestment this cycle

	// ClipSize holds the clip at placement while the cycle is open; the
	// finish update replaces it with the post-cycle clip so the latest
	// record doubles as the snowball restart checkpoint.
	ClipSize float64
	Phase    Phase
}

// SnowballState is the in-memory sizing state, checkpointed via the most
// recent CycleRecord so a restart resumes from the last committed cycle.
type SnowballState struct {
	ClipSize        float64
	Phase           Phase
	TotalPocketed   float64
	CyclesCompleted int
}
