package runner

// prefetch.go: descarga concurrente de orderbooks antes de la pasada de decisión.
//
// Solo lectura: ningún worker toca el ledger ni los diagnósticos. Un fetch que
// falla o excede el timeout deja book=nil y el motor lo registra como no_prices.

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lehacf-git/castle-bot/internal/domain"
	"github.com/lehacf-git/castle-bot/internal/ports"
)

type fetchResult struct {
	book *domain.OrderBook
	err  error
}

// prefetchBooks trae los books de todos los mercados con un pool acotado.
// Si workers <= 0 usa runtime.NumCPU() × 2, como el análisis concurrente del scanner.
func prefetchBooks(
	ctx context.Context,
	books ports.BookProvider,
	marketIDs []string,
	workers int,
	timeout time.Duration,
) map[string]fetchResult {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}

	var (
		mu      sync.Mutex
		results = make(map[string]fetchResult, len(marketIDs))
		failed  int
	)

	var g errgroup.Group
	g.SetLimit(workers)

	for _, id := range marketIDs {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			ob, err := books.FetchOrderBook(fctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				results[id] = fetchResult{err: err}
				slog.Debug("prefetch: orderbook unavailable", "market", id, "err", err)
				return nil
			}
			if ob.MarketID == "" {
				ob.MarketID = id
			}
			results[id] = fetchResult{book: &ob}
			return nil
		})
	}
	_ = g.Wait() // los errores quedan por mercado, nunca cancelan al resto

	slog.Debug("prefetch complete",
		"markets", len(marketIDs),
		"failed", failed,
		"workers", workers,
	)
	return results
}
