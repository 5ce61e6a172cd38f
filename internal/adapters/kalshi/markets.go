package kalshi

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

// ListMarkets pagina GET /markets con cursor hasta agotar páginas o llegar a maxPages.
func (c *Client) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	var all []domain.Market
	cursor := ""

	for page := 0; page < c.maxPages; page++ {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(c.pageSize))
		if c.status != "" {
			q.Set("status", c.status)
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp marketsResponse
		if err := c.get(ctx, "/markets?"+q.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("kalshi.ListMarkets: page %d: %w", page, err)
		}
		all = append(all, mapMarkets(resp.Markets)...)

		if resp.Cursor == "" || len(resp.Markets) == 0 {
			break
		}
		cursor = resp.Cursor
	}

	slog.Debug("kalshi: markets listed", "count", len(all))
	return all, nil
}

// FetchOrderBook trae el book de un ticker a través del circuit breaker.
func (c *Client) FetchOrderBook(ctx context.Context, ticker string) (domain.OrderBook, error) {
	res, err := c.books.Execute(func() (interface{}, error) {
		var resp orderBookResponse
		if err := c.get(ctx, "/markets/"+url.PathEscape(ticker)+"/orderbook", &resp); err != nil {
			return nil, err
		}
		return resp.OrderBook, nil
	})
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("kalshi.FetchOrderBook %s: %w", ticker, err)
	}
	return mapOrderBook(ticker, res.(orderBookDTO), time.Now().UTC()), nil
}
