package ports

import (
	"context"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

// BookProvider obtiene el orderbook de un mercado.
type BookProvider interface {
	// FetchOrderBook devuelve los niveles de bids YES/NO del mercado.
	// Puede ser lento o fallar; el llamador aplica su propio timeout.
	FetchOrderBook(ctx context.Context, marketID string) (domain.OrderBook, error)
}
