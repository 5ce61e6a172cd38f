package kalshi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

// SubmitOrder envía una orden limit de compra y devuelve el order_id del exchange.
// No reintenta a nivel de negocio: el client_order_id hace idempotente el reintento HTTP.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if req.Count <= 0 {
		return "", fmt.Errorf("kalshi.SubmitOrder: count must be positive, got %d", req.Count)
	}
	if req.PriceCents < domain.MinPriceCents || req.PriceCents > domain.MaxPriceCents {
		return "", fmt.Errorf("kalshi.SubmitOrder: price %dc out of range", req.PriceCents)
	}

	body := createOrderRequest{
		Ticker:        req.MarketID,
		Action:        "buy",
		Side:          string(req.Side),
		Count:         req.Count,
		Type:          "limit",
		ClientOrderID: req.ClientOrderID,
	}
	switch req.Side {
	case domain.SideYes:
		body.YesPrice = req.PriceCents
	case domain.SideNo:
		body.NoPrice = req.PriceCents
	default:
		return "", fmt.Errorf("kalshi.SubmitOrder: unknown side %q", req.Side)
	}

	var resp createOrderResponse
	if err := c.post(ctx, "/portfolio/orders", body, &resp); err != nil {
		return "", fmt.Errorf("kalshi.SubmitOrder %s: %w", req.MarketID, err)
	}
	if resp.Order.OrderID == "" {
		return "", errors.New("kalshi.SubmitOrder: empty order_id in response")
	}

	slog.Info("kalshi: order placed",
		"ticker", req.MarketID,
		"side", req.Side,
		"price", req.PriceCents,
		"count", req.Count,
		"order_id", resp.Order.OrderID,
		"status", resp.Order.Status,
	)
	return resp.Order.OrderID, nil
}
