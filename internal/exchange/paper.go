package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Paper simulates order execution against an in-memory balance. Orders
// always fill at the requested price; liquidations redeem shares at $1.
type Paper struct {
	mu      sync.Mutex
	balance decimal.Decimal
	logger  *slog.Logger
}

// NewPaper creates a paper executor with the given starting balance.
func NewPaper(balance float64, logger *slog.Logger) *Paper {
	return &Paper{
		balance: decimal.NewFromFloat(balance),
		logger:  logger.With("component", "paper"),
	}
}

// PlaceOrder debits the stake and returns a synthetic order ID.
func (p *Paper) PlaceOrder(_ context.Context, o Order) (string, error) {
	cost := decimal.NewFromFloat(o.Price).Mul(decimal.NewFromFloat(o.Size)).Round(2)

	p.mu.Lock()
	defer p.mu.Unlock()

	if cost.GreaterThan(p.balance) {
		return "", fmt.Errorf("paper balance %s below order cost %s", p.balance, cost)
	}
	p.balance = p.balance.Sub(cost)

	orderID := "paper-" + uuid.NewString()
	p.logger.Debug("paper order filled", "order_id", orderID, "token", o.TokenID, "cost", cost)
	return orderID, nil
}

// LiquidatePosition credits the share count back as cash — a won binary
// position redeems at $1 per share.
func (p *Paper) LiquidatePosition(_ context.Context, tokenID string, size float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.balance = p.balance.Add(decimal.NewFromFloat(size).Round(2))
	p.logger.Debug("paper position redeemed", "token", tokenID, "size", size)
	return nil
}

// GetBalance returns the simulated balance.
func (p *Paper) GetBalance(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, _ := p.balance.Float64()
	return f, nil
}
