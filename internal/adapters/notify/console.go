package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

// Console implementa ports.Notifier: imprime el resumen de la corrida.
type Console struct {
	out     io.Writer
	table   bool
	samples int
}

// NewConsole crea un notificador que escribe a stdout.
// table=false imprime solo la línea compacta.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, samples: 5}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w, table: true, samples: 5}
}

// NotifyRun imprime el resumen de una corrida finalizada.
func (c *Console) NotifyRun(_ context.Context, r domain.RunReport) error {
	c.printCompact(r)
	if !c.table {
		return nil
	}

	c.printSkipTable(r.Diagnostics)
	c.printTrades(r.Diagnostics)
	c.printExposure(r.Exposure)
	if r.Training != nil {
		c.printTraining(r.Training)
	}
	c.printSamples(r.Diagnostics.SkipSamples)
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(r domain.RunReport) {
	d := r.Diagnostics
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] run %s %s → ticks:%d mkts:%d book:%d accept:%d skip:%d exposure:$%s",
		r.FinishedAt.Local().Format("15:04:05"), r.RunID, r.Mode, r.Ticks,
		d.MarketsSeen, d.MarketsWithOrderbook, d.Accepted, d.Skipped(),
		r.Exposure.Total.StringFixed(2))
	if n := len(r.Equity); n > 0 {
		fmt.Fprintf(&sb, " equity:$%s", r.Equity[n-1].Equity.StringFixed(2))
	}
	if r.Interrupted {
		sb.WriteString(" (interrupted)")
	}
	fmt.Fprintln(c.out, sb.String())
}

// printSkipTable imprime los skips en el orden de los filtros.
func (c *Console) printSkipTable(d domain.DiagnosticsSnapshot) {
	fmt.Fprintln(c.out, "\n=== DECISIONS ===")
	table := tablewriter.NewWriter(c.out)
	table.Header("Outcome", "Count", "Share")

	total := d.Accepted + d.Skipped()
	table.Append("accept", fmt.Sprintf("%d", d.Accepted), share(d.Accepted, total))
	for _, reason := range domain.SkipReasons {
		n, ok := d.SkipReasons[reason]
		if !ok {
			continue
		}
		table.Append(string(reason), fmt.Sprintf("%d", n), share(n, total))
	}
	table.Render()
}

func (c *Console) printTrades(d domain.DiagnosticsSnapshot) {
	if len(d.TradesByStatus) == 0 {
		return
	}
	fmt.Fprintln(c.out, "\n=== TRADES ===")
	table := tablewriter.NewWriter(c.out)
	table.Header("Status", "Count")

	statuses := make([]string, 0, len(d.TradesByStatus))
	for s := range d.TradesByStatus {
		statuses = append(statuses, string(s))
	}
	slices.Sort(statuses)
	for _, s := range statuses {
		table.Append(s, fmt.Sprintf("%d", d.TradesByStatus[domain.FillStatus(s)]))
	}
	table.Render()
}

// printExposure imprime la exposición por mercado, de mayor a menor.
func (c *Console) printExposure(e domain.ExposureSnapshot) {
	if len(e.ByMarket) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n=== EXPOSURE $%s / $%s (per market $%s) ===\n",
		e.Total.StringFixed(2), e.TotalLimit.StringFixed(2), e.PerMarketLimit.StringFixed(2))

	type row struct {
		market string
		amount decimal.Decimal
	}
	rows := make([]row, 0, len(e.ByMarket))
	for m, v := range e.ByMarket {
		rows = append(rows, row{m, v})
	}
	slices.SortFunc(rows, func(a, b row) int {
		if cmp := b.amount.Cmp(a.amount); cmp != 0 {
			return cmp
		}
		return strings.Compare(a.market, b.market)
	})

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Committed", "Limit used")
	for _, r := range rows {
		used := "-"
		if e.PerMarketLimit.IsPositive() {
			used = r.amount.Div(e.PerMarketLimit).Mul(decimal.NewFromInt(100)).StringFixed(0) + "%"
		}
		table.Append(r.market, "$"+r.amount.StringFixed(2), used)
	}
	table.Render()
}

func (c *Console) printTraining(t *domain.TrainingSummary) {
	fmt.Fprintln(c.out, "\n=== TRAINING (no orders sent) ===")
	fmt.Fprintf(c.out, "  would-trades: %d  tickers: %d  hypothetical cost: $%s  avg edge: %.4f\n",
		t.TotalWouldTrades, t.UniqueTickers, t.HypotheticalCost.StringFixed(2), t.AvgEdge)
	fmt.Fprintf(c.out, "  by side: yes=%d no=%d\n", t.BySide[domain.SideYes], t.BySide[domain.SideNo])
}

func (c *Console) printSamples(samples []domain.SkipSample) {
	if len(samples) == 0 || c.samples <= 0 {
		return
	}
	fmt.Fprintln(c.out, "\n  sample skips:")
	for _, s := range samples[:min(len(samples), c.samples)] {
		fmt.Fprintf(c.out, "    %-24s %-22s %s\n", compactName(s.MarketID, 24), s.Reason, s.Detail)
	}
	fmt.Fprintln(c.out)
}

// PrintHistory imprime las últimas corridas del histórico.
func (c *Console) PrintHistory(runs []domain.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(c.out, "no runs recorded")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Run", "Mode", "Started", "Ticks", "Markets", "Accepted", "Trades", "Exposure")
	for _, r := range runs {
		id := r.RunID
		if r.Interrupted {
			id += " *"
		}
		table.Append(
			id,
			r.Mode.String(),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			fmt.Sprintf("%d", r.Ticks),
			fmt.Sprintf("%d", r.MarketsSeen),
			fmt.Sprintf("%d", r.Accepted),
			fmt.Sprintf("%d", r.Trades),
			"$"+r.ExposureTotal.StringFixed(2),
		)
	}
	table.Render()
	fmt.Fprintln(c.out, "  * = interrupted")
}

func share(n, total int) string {
	if total == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(n)/float64(total))
}

// compactName trunca un nombre largo a n runes.
func compactName(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
