package ports

import (
	"context"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

// OrderSubmitter places real limit orders on the exchange.
type OrderSubmitter interface {
	// SubmitOrder sends a limit buy and returns the exchange order id.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error)
}

// ProbabilitySource estimates the probability that a market resolves YES.
type ProbabilitySource interface {
	Estimate(ctx context.Context, marketID string, snap domain.MarketSnapshot) (float64, error)
}

// Confirmer asks the operator to approve a trading-capable run.
type Confirmer interface {
	Confirm(prompt string) bool
}
