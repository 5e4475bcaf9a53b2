// Package market implements the scanner that selects bet candidates.
//
// Each cycle the scanner pulls markets expiring within the configured
// window, rejects anything not cleanly tradable, picks the favorite side
// of each remaining binary market, and ranks candidates: markets expiring
// within the "soon" threshold first, then by descending volume, then by
// ascending time-to-expiry. The result is truncated to the per-cycle bet
// budget.
package market

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"vig/internal/config"
	"vig/internal/gamma"
	"vig/pkg/types"
)

// Source is the market data feed the scanner reads from. Implemented by
// *gamma.Client.
type Source interface {
	ListMarkets(ctx context.Context, p gamma.ListParams) ([]types.MarketInfo, error)
}

// Scanner filters and ranks markets into bet candidates.
type Scanner struct {
	source Source
	cfg    config.ScannerConfig
	logger *slog.Logger
	now    func() time.Time // injectable clock for tests
}

// NewScanner creates a market scanner.
func NewScanner(source Source, cfg config.ScannerConfig, logger *slog.Logger) *Scanner {
	return &Scanner{
		source: source,
		cfg:    cfg,
		logger: logger.With("component", "scanner"),
		now:    time.Now,
	}
}

// Scan returns the ranked candidate batch for one cycle. It is read-only
// against the data source; data source failures yield an empty batch and
// a log line, never an error to the caller. Scanning an unchanged feed
// twice yields the same candidates in the same order.
func (s *Scanner) Scan(ctx context.Context) []types.MarketCandidate {
	now := s.now()

	markets, err := s.source.ListMarkets(ctx, gamma.ListParams{
		EndDateMin: now,
		EndDateMax: now.Add(s.cfg.ExpiryWindow),
		Limit:      s.cfg.PageSize,
	})
	if err != nil {
		s.logger.Error("scan failed", "error", err)
		return nil
	}

	candidates := s.filterMarkets(now, markets)
	s.rankCandidates(now, candidates)

	if len(candidates) > s.cfg.MaxBetsPerCycle {
		candidates = candidates[:s.cfg.MaxBetsPerCycle]
	}

	s.logger.Info("scan complete",
		"total", len(markets),
		"selected", len(candidates),
	)

	return candidates
}

// filterMarkets applies hard filters and favorite selection. A market is
// rejected if it is missing question text, expiry, or two-sided prices;
// if either tradability flag is off; if it has already expired; or if
// neither side clears the favorite price threshold.
func (s *Scanner) filterMarkets(now time.Time, markets []types.MarketInfo) []types.MarketCandidate {
	var result []types.MarketCandidate
	for _, m := range markets {
		if m.Question == "" || m.EndDate.IsZero() {
			continue
		}
		if m.YesPrice <= 0 || m.NoPrice <= 0 {
			continue
		}
		if !m.Tradable() {
			continue
		}
		if !m.EndDate.After(now) {
			continue
		}

		side, ok := s.pickFavorite(m)
		if !ok {
			continue
		}

		var volumeCap float64
		if m.Volume24h > 0 {
			volumeCap = m.Volume24h * s.cfg.MaxVolumeFraction
		}

		result = append(result, types.MarketCandidate{
			Market:           m,
			Side:             side,
			Price:            m.PriceFor(side),
			Opposite:         side.Opposite(),
			MaxClipForVolume: volumeCap,
		})
	}
	return result
}

// pickFavorite selects the first side priced at or above the configured
// minimum. The YES side wins ties by convention. When a maximum favorite
// price is configured (non-zero), favorites above it are rejected too.
func (s *Scanner) pickFavorite(m types.MarketInfo) (types.Side, bool) {
	for _, side := range []types.Side{types.SideYes, types.SideNo} {
		price := m.PriceFor(side)
		if price < s.cfg.MinFavoritePrice {
			continue
		}
		if s.cfg.MaxFavoritePrice > 0 && price > s.cfg.MaxFavoritePrice {
			continue
		}
		return side, true
	}
	return "", false
}

// rankCandidates sorts in place: soon-expiring markets first, then by
// descending volume, then by ascending time-to-expiry.
func (s *Scanner) rankCandidates(now time.Time, candidates []types.MarketCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		mi, mj := candidates[i].Market, candidates[j].Market

		soonI := mi.EndDate.Sub(now) <= s.cfg.SoonThreshold
		soonJ := mj.EndDate.Sub(now) <= s.cfg.SoonThreshold
		if soonI != soonJ {
			return soonI
		}
		if mi.Volume24h != mj.Volume24h {
			return mi.Volume24h > mj.Volume24h
		}
		return mi.EndDate.Before(mj.EndDate)
	})
}
