package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lehacf-git/castle-bot/internal/application/risk"
	"github.com/lehacf-git/castle-bot/internal/domain"
	"github.com/lehacf-git/castle-bot/internal/ports"
)

const defaultSubmitTimeout = 10 * time.Second

// Live submits real limit orders. Failed submissions release their exposure.
type Live struct {
	grant     domain.LiveGrant
	submitter ports.OrderSubmitter
	releaser  risk.Releaser
	rec       Recorder
	timeout   time.Duration
}

// NewLive requires a grant from domain.RunMode.GrantLive, so it cannot be built
// for a mode that never submits.
func NewLive(grant domain.LiveGrant, submitter ports.OrderSubmitter, releaser risk.Releaser, rec Recorder, timeout time.Duration) (*Live, error) {
	if !grant.Valid() {
		return nil, fmt.Errorf("execution.NewLive: %w", domain.ErrLiveNotPermitted)
	}
	if submitter == nil {
		return nil, errors.New("execution.NewLive: nil order submitter")
	}
	if releaser == nil {
		return nil, errors.New("execution.NewLive: nil risk releaser")
	}
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	return &Live{grant: grant, submitter: submitter, releaser: releaser, rec: rec, timeout: timeout}, nil
}

func (l *Live) Kind() domain.ExecutorKind { return domain.ExecutorLive }

// Dispatch implements Executor.
func (l *Live) Dispatch(ctx context.Context, d domain.Decision) (domain.Trade, error) {
	if err := requireAccept(d); err != nil {
		return domain.Trade{}, err
	}
	mode := l.grant.Mode()
	if !mode.SubmitsOrders() {
		return domain.Trade{}, fmt.Errorf("%w: live dispatch in mode %s", ErrInvariant, mode)
	}

	t := baseTrade(d, mode, domain.ExecutorLive)
	req := domain.OrderRequest{
		MarketID:      d.MarketID,
		Side:          d.Accept.Edge.Side,
		PriceCents:    d.Accept.PriceCents,
		Count:         d.Accept.Size,
		ClientOrderID: uuid.NewString(),
	}

	subCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	orderID, err := l.submitter.SubmitOrder(subCtx, req)
	if err != nil {
		l.releaser.Release(d.MarketID, d.Accept.Notional)
		t.Status = domain.StatusRejected
		t.ExternalOrderID = req.ClientOrderID
		t.Note = err.Error()
		record(l.rec, t)
		slog.Warn("live: order rejected",
			"market", t.MarketID,
			"side", t.Side,
			"price", t.PriceCents,
			"size", t.Size,
			"released", t.Notional.StringFixed(2),
			"err", err,
		)
		return t, nil
	}

	t.Status = domain.StatusFilled
	t.ExternalOrderID = orderID
	t.Note = "client_order_id=" + req.ClientOrderID
	record(l.rec, t)
	slog.Info("live: ORDER PLACED",
		"market", t.MarketID,
		"side", t.Side,
		"price", t.PriceCents,
		"size", t.Size,
		"order_id", orderID,
		"mode", mode.String(),
	)
	return t, nil
}
