// Package gamma implements the market data source client for the Gamma API.
//
// This is the single parsing boundary between the venue's loosely-typed
// JSON (string-encoded outcome, price, and token-ID arrays) and the typed
// MarketInfo used by the rest of the bot. Markets that are not strictly
// binary — anything other than exactly two outcomes with two prices and
// two token IDs — are rejected here and never reach a caller.
package gamma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"vig/pkg/types"
)

// ErrNotBinary is returned for markets without exactly two priced outcomes.
var ErrNotBinary = errors.New("market is not a two-outcome binary market")

// gammaMarket is the JSON shape returned by the Gamma API.
type gammaMarket struct {
	ID              string  `json:"id"`
	Question        string  `json:"question"`
	Slug            string  `json:"slug"`
	Active          bool    `json:"active"`
	Closed          bool    `json:"closed"`
	AcceptingOrders bool    `json:"acceptingOrders"`
	EnableOrderBook bool    `json:"enableOrderBook"`
	EndDate         string  `json:"endDate"`
	Liquidity       string  `json:"liquidity"`
	Volume24hr      float64 `json:"volume24hr"`
	Outcomes        string  `json:"outcomes"`
	OutcomePrices   string  `json:"outcomePrices"`
	ClobTokenIds    string  `json:"clobTokenIds"`
}

// ListParams filters a ListMarkets call. Results are requested in
// descending 24h-volume order so high-volume markets are never lost to
// pagination cutoffs.
type ListParams struct {
	EndDateMin time.Time
	EndDateMax time.Time
	Limit      int // page size; 0 uses the API default
}

// Client is the Gamma REST API client.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient creates a Gamma client with retry on transient failures.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Client{
		http:   client,
		logger: logger.With("component", "gamma"),
	}
}

// ListMarkets fetches all markets matching the params, paginating until a
// short page. Markets that fail binary parsing are skipped, not errors.
func (c *Client) ListMarkets(ctx context.Context, p ListParams) ([]types.MarketInfo, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}

	var all []types.MarketInfo
	offset := 0
	for {
		var page []gammaMarket
		params := map[string]string{
			"limit":     strconv.Itoa(limit),
			"offset":    strconv.Itoa(offset),
			"active":    "true",
			"closed":    "false",
			"order":     "volume24hr",
			"ascending": "false",
		}
		if !p.EndDateMin.IsZero() {
			params["end_date_min"] = p.EndDateMin.UTC().Format(time.RFC3339)
		}
		if !p.EndDateMax.IsZero() {
			params["end_date_max"] = p.EndDateMax.UTC().Format(time.RFC3339)
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("list markets page %d: %w", offset, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("list markets: status %d", resp.StatusCode())
		}

		for _, gm := range page {
			info, err := parseMarket(gm)
			if err != nil {
				c.logger.Debug("skipping unparseable market", "id", gm.ID, "error", err)
				continue
			}
			all = append(all, info)
		}

		if len(page) < limit {
			break
		}
		offset += limit
	}

	return all, nil
}

// GetMarket fetches a single market by ID.
func (c *Client) GetMarket(ctx context.Context, id string) (*types.MarketInfo, error) {
	var gm gammaMarket
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&gm).
		Get("/markets/" + id)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get market %s: status %d", id, resp.StatusCode())
	}

	info, err := parseMarket(gm)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return &info, nil
}

// parseMarket converts a Gamma API response into the internal MarketInfo.
// The Gamma API encodes outcomes, prices, and token IDs as JSON array
// strings like "[\"Yes\",\"No\"]"; decoding happens exactly once, here.
func parseMarket(gm gammaMarket) (types.MarketInfo, error) {
	var outcomes, prices, tokenIDs []string
	if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil {
		return types.MarketInfo{}, fmt.Errorf("parse outcomes: %w", err)
	}
	if err := json.Unmarshal([]byte(gm.OutcomePrices), &prices); err != nil {
		return types.MarketInfo{}, fmt.Errorf("parse outcome prices: %w", err)
	}
	if gm.ClobTokenIds != "" {
		if err := json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs); err != nil {
			return types.MarketInfo{}, fmt.Errorf("parse token ids: %w", err)
		}
	}

	if len(outcomes) != 2 || len(prices) != 2 {
		return types.MarketInfo{}, ErrNotBinary
	}

	yesPrice, err := strconv.ParseFloat(prices[0], 64)
	if err != nil {
		return types.MarketInfo{}, fmt.Errorf("parse yes price %q: %w", prices[0], err)
	}
	noPrice, err := strconv.ParseFloat(prices[1], 64)
	if err != nil {
		return types.MarketInfo{}, fmt.Errorf("parse no price %q: %w", prices[1], err)
	}

	var yesToken, noToken string
	if len(tokenIDs) >= 2 {
		yesToken = tokenIDs[0]
		noToken = tokenIDs[1]
	}

	liquidity, _ := strconv.ParseFloat(gm.Liquidity, 64)

	var endDate time.Time
	if gm.EndDate != "" {
		endDate, err = time.Parse(time.RFC3339, gm.EndDate)
		if err != nil {
			return types.MarketInfo{}, fmt.Errorf("parse end date %q: %w", gm.EndDate, err)
		}
	}

	return types.MarketInfo{
		ID:               gm.ID,
		Slug:             gm.Slug,
		Question:         gm.Question,
		YesPrice:         yesPrice,
		NoPrice:          noPrice,
		YesTokenID:       yesToken,
		NoTokenID:        noToken,
		EndDate:          endDate,
		Volume24h:        gm.Volume24hr,
		Liquidity:        liquidity,
		Active:           gm.Active,
		Closed:           gm.Closed,
		AcceptingOrders:  gm.AcceptingOrders,
		OrderBookEnabled: gm.EnableOrderBook,
	}, nil
}
