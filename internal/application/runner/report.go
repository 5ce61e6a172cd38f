package runner

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

var cent = decimal.New(1, -2)

// portfolio marks simulated or filled positions to the latest mids.
type portfolio struct {
	cash      decimal.Decimal
	positions map[string]map[domain.Side]int64
	prices    map[string]domain.PriceMark
	equity    []domain.EquityPoint
}

func newPortfolio(bankroll decimal.Decimal) *portfolio {
	return &portfolio{
		cash:      bankroll,
		positions: make(map[string]map[domain.Side]int64),
		prices:    make(map[string]domain.PriceMark),
	}
}

// observe keeps the last snapshot that had both sides.
func (p *portfolio) observe(snap domain.MarketSnapshot) {
	mid, ok := snap.Mid()
	if !ok {
		return
	}
	p.prices[snap.MarketID] = domain.PriceMark{Bid: snap.Bid, Ask: snap.Ask, Mid: mid, Timestamp: snap.Timestamp}
}

// apply books a trade that opened a position.
func (p *portfolio) apply(t domain.Trade) {
	if !t.Holds() {
		return
	}
	fee := cent.Mul(decimal.NewFromInt(int64(t.FeeCents)))
	p.cash = p.cash.Sub(t.Notional).Sub(fee)
	if p.positions[t.MarketID] == nil {
		p.positions[t.MarketID] = make(map[domain.Side]int64)
	}
	p.positions[t.MarketID][t.Side] += int64(t.Size)
}

// markValue values every position at its last mid; unmarked markets count as zero.
func (p *portfolio) markValue() decimal.Decimal {
	total := decimal.Zero
	for market, sides := range p.positions {
		mark, ok := p.prices[market]
		if !ok {
			continue
		}
		for side, count := range sides {
			px := mark.Mid
			if side == domain.SideNo {
				px = 1 - mark.Mid
			}
			total = total.Add(decimal.NewFromFloat(px).Mul(decimal.NewFromInt(count)))
		}
	}
	return total.Round(4)
}

func (p *portfolio) snapshot(tick int, at time.Time, exposure decimal.Decimal) domain.EquityPoint {
	mark := p.markValue()
	pt := domain.EquityPoint{
		Tick:      tick,
		Timestamp: at,
		Cash:      p.cash,
		MarkValue: mark,
		Equity:    p.cash.Add(mark),
		Exposure:  exposure,
	}
	p.equity = append(p.equity, pt)
	return pt
}

// trainingSummary aggregates the would-place records of a non-submitting run.
func trainingSummary(trades []domain.Trade) *domain.TrainingSummary {
	s := &domain.TrainingSummary{
		HypotheticalCost: decimal.Zero,
		BySide:           make(map[domain.Side]int),
	}
	tickers := make(map[string]struct{})
	var edgeSum float64
	for _, t := range trades {
		if t.Status != domain.StatusLoggedOnly {
			continue
		}
		s.TotalWouldTrades++
		s.HypotheticalCost = s.HypotheticalCost.Add(t.Notional)
		s.BySide[t.Side]++
		tickers[t.MarketID] = struct{}{}
		edgeSum += t.Edge
	}
	s.UniqueTickers = len(tickers)
	if s.TotalWouldTrades > 0 {
		s.AvgEdge = edgeSum / float64(s.TotalWouldTrades)
	}
	return s
}
