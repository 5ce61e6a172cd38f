package ports

import (
	"context"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

// ArtifactSink recibe los registros de una corrida. Nada es visible
// externamente hasta Finalize; Abort descarta lo escrito.
type ArtifactSink interface {
	Begin(ctx context.Context, info domain.RunInfo) error
	AppendDecision(ctx context.Context, d domain.Decision) error
	AppendTrade(ctx context.Context, t domain.Trade) error
	Finalize(ctx context.Context, report domain.RunReport) error
	Abort(ctx context.Context) error
}
