package ports

import (
	"context"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

// MarketProvider lista los mercados abiertos del exchange.
type MarketProvider interface {
	// ListMarkets devuelve los mercados abiertos. Pagina internamente.
	ListMarkets(ctx context.Context) ([]domain.Market, error)
}

// MarketSelector elige qué mercados evaluar en un tick.
type MarketSelector interface {
	Select(markets []domain.Market) []domain.Market
}
