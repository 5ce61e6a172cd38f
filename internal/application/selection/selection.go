// Package selection decides which listed markets are evaluated each tick.
package selection

import (
	"sort"
	"strings"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

// Liquidity ranks tradable markets by domain.Market.LiquidityScore and keeps the top Limit.
// A market qualifies with at least MinVolume24h volume OR MinOpenInterest open interest.
type Liquidity struct {
	Limit           int
	MinVolume24h    int64
	MinOpenInterest int64
}

// DefaultLiquidity mirrors the shipped config defaults.
func DefaultLiquidity() Liquidity {
	return Liquidity{Limit: 40, MinVolume24h: 100, MinOpenInterest: 50}
}

// Select implements ports.MarketSelector.
func (l Liquidity) Select(markets []domain.Market) []domain.Market {
	out := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		if !m.Tradable() || m.Ticker == "" {
			continue
		}
		if m.Volume24h < l.MinVolume24h && m.OpenInterest < l.MinOpenInterest {
			continue
		}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].LiquidityScore(), out[j].LiquidityScore()
		if si != sj {
			return si > sj
		}
		return out[i].Ticker < out[j].Ticker
	})

	if l.Limit > 0 && len(out) > l.Limit {
		out = out[:l.Limit]
	}
	return out
}

// Tickers selects an explicit list, in the given order. Tickers missing from the
// listing are still evaluated so the run records why they were skipped.
type Tickers []string

// Select implements ports.MarketSelector.
func (t Tickers) Select(markets []domain.Market) []domain.Market {
	byTicker := make(map[string]domain.Market, len(markets))
	for _, m := range markets {
		byTicker[strings.ToUpper(m.Ticker)] = m
	}

	seen := make(map[string]bool, len(t))
	out := make([]domain.Market, 0, len(t))
	for _, raw := range t {
		ticker := strings.ToUpper(strings.TrimSpace(raw))
		if ticker == "" || seen[ticker] {
			continue
		}
		seen[ticker] = true
		m, ok := byTicker[ticker]
		if !ok {
			m = domain.Market{Ticker: ticker}
		}
		out = append(out, m)
	}
	return out
}
