package domain

import "time"

// Rango válido de precios en centavos para un contrato binario.
const (
	MinPriceCents = 1
	MaxPriceCents = 99
)

// OrderBook representa el libro de órdenes de un mercado de Kalshi.
// Kalshi solo publica bids: el ask de YES está implícito en el mejor bid de NO
// (yes_ask = 100 - best_no_bid) y viceversa.
type OrderBook struct {
	MarketID  string
	YesBids   []Level // ordenados de menor a mayor precio, como los devuelve la API
	NoBids    []Level
	FetchedAt time.Time
}

// Level es un nivel de precio del book.
type Level struct {
	PriceCents int
	Size       int
}

// Valid indica si el nivel tiene precio dentro de [1,99] y tamaño positivo.
func (l Level) Valid() bool {
	return l.PriceCents >= MinPriceCents && l.PriceCents <= MaxPriceCents && l.Size > 0
}

// bestLevel devuelve el nivel válido de mayor precio. No asume orden.
func bestLevel(levels []Level) (Level, bool) {
	var best Level
	found := false
	for _, l := range levels {
		if !l.Valid() {
			continue
		}
		if !found || l.PriceCents > best.PriceCents {
			best = l
			found = true
		}
	}
	return best, found
}

// depthWithin suma el tamaño de los niveles válidos a menos de band centavos del mejor precio.
func depthWithin(levels []Level, best, band int) int {
	total := 0
	for _, l := range levels {
		if l.Valid() && best-l.PriceCents <= band {
			total += l.Size
		}
	}
	return total
}

// BestYesBid devuelve el mejor bid de YES.
func (ob OrderBook) BestYesBid() (Level, bool) { return bestLevel(ob.YesBids) }

// BestNoBid devuelve el mejor bid de NO.
func (ob OrderBook) BestNoBid() (Level, bool) { return bestLevel(ob.NoBids) }

// Empty indica que ningún lado tiene niveles válidos.
func (ob OrderBook) Empty() bool {
	_, yes := ob.BestYesBid()
	_, no := ob.BestNoBid()
	return !yes && !no
}
