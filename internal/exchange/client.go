// Package exchange implements the order-execution collaborator.
//
// The live Client talks to the CLOB REST API for order management:
//   - PlaceOrder:        POST /order   — submit a marketable bet
//   - LiquidatePosition: POST /order   — sell a won position back to cash
//   - GetBalance:        GET  /balance — available collateral
//
// Every request is rate-limited via per-category TokenBuckets, retried on
// 5xx errors, and authenticated with static L2 credential headers. Order
// construction and signing are the venue's problem — the client submits
// plain JSON and treats any failure as a per-order skip for the caller.
//
// The Paper executor implements the same interface against an in-memory
// balance; it is the default in simulation mode.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"vig/internal/config"
	"vig/pkg/types"
)

// Order is one marketable order request.
type Order struct {
	TokenID string
	Side    types.Side
	Price   float64
	Size    float64 // shares
}

// Executor is the order-execution interface consumed by bet placement and
// settlement. Implemented by Client (live) and Paper (simulation).
type Executor interface {
	// PlaceOrder submits an order and returns the venue's order ID.
	PlaceOrder(ctx context.Context, o Order) (string, error)
	// LiquidatePosition sells a position back to cash. Safe to retry.
	LiquidatePosition(ctx context.Context, tokenID string, size float64) error
	// GetBalance returns the available USD balance.
	GetBalance(ctx context.Context) (float64, error)
}

// Client is the live CLOB REST API client.
type Client struct {
	http   *resty.Client
	rl     *RateLimiter
	logger *slog.Logger
}

// orderRequest is the JSON body for POST /order.
type orderRequest struct {
	TokenID string  `json:"token_id"`
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
	Size    float64 `json:"size"`
}

type orderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderID"`
	Error   string `json:"errorMsg"`
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
}

// NewClient creates a live execution client with rate limiting and retry.
func NewClient(cfg config.APIConfig, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.CLOBBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeaders(map[string]string{
			"POLY-API-KEY":    cfg.ApiKey,
			"POLY-SECRET":     cfg.Secret,
			"POLY-PASSPHRASE": cfg.Passphrase,
		})

	return &Client{
		http:   httpClient,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "exchange"),
	}
}

// PlaceOrder submits a buy order for the given outcome token.
func (c *Client) PlaceOrder(ctx context.Context, o Order) (string, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", err
	}

	var result orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(orderRequest{
			TokenID: o.TokenID,
			Side:    "BUY",
			Price:   o.Price,
			Size:    o.Size,
		}).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if !result.Success {
		return "", fmt.Errorf("place order rejected: %s", result.Error)
	}

	c.logger.Info("order placed", "order_id", result.OrderID, "token", o.TokenID, "price", o.Price, "size", o.Size)
	return result.OrderID, nil
}

// LiquidatePosition sells size shares of a token at market.
func (c *Client) LiquidatePosition(ctx context.Context, tokenID string, size float64) error {
	if err := c.rl.Liquidate.Wait(ctx); err != nil {
		return err
	}

	var result orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(orderRequest{
			TokenID: tokenID,
			Side:    "SELL",
			Price:   0, // market sell
			Size:    size,
		}).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return fmt.Errorf("liquidate position: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("liquidate position: status %d: %s", resp.StatusCode(), resp.String())
	}
	if !result.Success {
		return fmt.Errorf("liquidate position rejected: %s", result.Error)
	}

	c.logger.Info("position liquidated", "token", tokenID, "size", size)
	return nil
}

// GetBalance returns the available USD collateral.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	if err := c.rl.Balance.Wait(ctx); err != nil {
		return 0, err
	}

	var result balanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/balance")
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("get balance: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Balance, nil
}
