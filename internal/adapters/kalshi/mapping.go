package kalshi

import (
	"log/slog"
	"time"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

// mapMarkets convierte los DTOs de /markets a domain.Market.
func mapMarkets(raw []marketDTO) []domain.Market {
	markets := make([]domain.Market, 0, len(raw))
	for _, r := range raw {
		markets = append(markets, mapMarket(r))
	}
	return markets
}

func mapMarket(r marketDTO) domain.Market {
	m := domain.Market{
		Ticker:       r.Ticker,
		EventTicker:  r.EventTicker,
		Title:        r.Title,
		Status:       r.Status,
		YesBid:       r.YesBid,
		YesAsk:       r.YesAsk,
		LastPrice:    r.LastPrice,
		Volume24h:    r.Volume24h,
		OpenInterest: r.OpenInterest,
	}
	if r.CloseTime != "" {
		if t, err := time.Parse(time.RFC3339, r.CloseTime); err == nil {
			m.CloseTime = t.UTC()
		}
	}
	return m
}

// mapOrderBook convierte el book de Kalshi a domain.OrderBook.
// Niveles malformados se descartan; ExtractSnapshot vuelve a validar rangos.
func mapOrderBook(ticker string, raw orderBookDTO, fetchedAt time.Time) domain.OrderBook {
	return domain.OrderBook{
		MarketID:  ticker,
		YesBids:   mapLevels(ticker, "yes", raw.Yes),
		NoBids:    mapLevels(ticker, "no", raw.No),
		FetchedAt: fetchedAt,
	}
}

func mapLevels(ticker, side string, raw [][]int) []domain.Level {
	levels := make([]domain.Level, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			slog.Debug("kalshi: malformed level", "ticker", ticker, "side", side, "level", pair)
			continue
		}
		levels = append(levels, domain.Level{PriceCents: pair[0], Size: pair[1]})
	}
	return levels
}
