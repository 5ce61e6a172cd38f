package ports

import (
	"context"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

// Notifier presenta el resultado de una corrida al usuario.
type Notifier interface {
	// NotifyRun imprime el resumen final. En consola, tablas formateadas.
	NotifyRun(ctx context.Context, report domain.RunReport) error
}
