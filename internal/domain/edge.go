package domain

import "math"

// Side es el lado que se compra en un mercado binario.
type Side string

const (
	SideYes Side = "yes" // Buy-Yes
	SideNo  Side = "no"  // Buy-No
)

// Opposite devuelve el otro lado.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// EdgeEstimate es el resultado del modelo de edge para un snapshot.
// Edge está en unidades de probabilidad y es relativo al precio ejecutable.
type EdgeEstimate struct {
	MarketID        string  `json:"market_id"`
	FairProbability float64 `json:"p"`
	Edge            float64 `json:"edge"`
	Side            Side    `json:"side"`
	PriceCents      int     `json:"price_cents"`
}

// ComputeEdge calcula el edge de comprar YES (p - ask) y NO ((1-p) - (1-bid))
// y elige el lado con mayor edge positivo. El precio recomendado es el precio
// ejecutable de ese lado: ask para YES, 100-bid para NO.
//
// Devuelve ok=false si ningún lado tiene edge positivo o p no es una probabilidad;
// en el primer caso el estimate igual lleva los números del mejor lado.
// No aplica umbrales: eso es política del motor de decisiones.
func ComputeEdge(snap MarketSnapshot, p float64) (EdgeEstimate, bool) {
	if math.IsNaN(p) || p < 0 || p > 1 || !snap.Valid() {
		return EdgeEstimate{MarketID: snap.MarketID, FairProbability: p}, false
	}

	ask := float64(snap.Ask.PriceCents) / 100
	bid := float64(snap.Bid.PriceCents) / 100

	yes := EdgeEstimate{
		MarketID:        snap.MarketID,
		FairProbability: p,
		Edge:            p - ask,
		Side:            SideYes,
		PriceCents:      snap.Ask.PriceCents,
	}
	no := EdgeEstimate{
		MarketID:        snap.MarketID,
		FairProbability: p,
		Edge:            (1 - p) - (1 - bid),
		Side:            SideNo,
		PriceCents:      100 - snap.Bid.PriceCents,
	}

	best := yes
	if no.Edge > yes.Edge {
		best = no
	}
	return best, best.Edge > 0
}
