// Package strategy provides probability sources for the decision engine.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lehacf-git/castle-bot/internal/domain"
	"github.com/lehacf-git/castle-bot/internal/ports"
)

// ErrNoEstimate is returned when a source has nothing to say about a market.
var ErrNoEstimate = errors.New("strategy: no probability estimate")

// Midpoint uses the market's own mid as the fair probability. It never finds an
// edge larger than zero against the executable price; it is the neutral fallback.
type Midpoint struct{}

// Estimate implements ports.ProbabilitySource.
func (Midpoint) Estimate(_ context.Context, marketID string, snap domain.MarketSnapshot) (float64, error) {
	mid, ok := snap.Mid()
	if !ok {
		return 0, fmt.Errorf("%w: %s has no mid", ErrNoEstimate, marketID)
	}
	return mid, nil
}

// Priors are operator-supplied probabilities per ticker, with a fallback for
// tickers not listed.
type Priors struct {
	table    map[string]float64
	fallback ports.ProbabilitySource
}

// priorsFile is the YAML layout:
//
//	priors:
//	  KXFEDDECISION-26MAR-H0: 0.62
//	  KXCPI-26FEB-T3.0: 0.35
type priorsFile struct {
	Priors map[string]float64 `yaml:"priors"`
}

// NewPriors builds a source from an in-memory table. Tickers are matched
// case-insensitively. A nil fallback makes unknown tickers an error.
func NewPriors(table map[string]float64, fallback ports.ProbabilitySource) (*Priors, error) {
	norm := make(map[string]float64, len(table))
	for ticker, p := range table {
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("strategy.NewPriors: %s: probability %.4f outside [0,1]", ticker, p)
		}
		norm[strings.ToUpper(strings.TrimSpace(ticker))] = p
	}
	return &Priors{table: norm, fallback: fallback}, nil
}

// LoadPriors reads a priors YAML file.
func LoadPriors(path string, fallback ports.ProbabilitySource) (*Priors, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategy.LoadPriors: read %q: %w", path, err)
	}
	var f priorsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("strategy.LoadPriors: parse YAML: %w", err)
	}
	return NewPriors(f.Priors, fallback)
}

// Len returns the number of tickers with a prior.
func (p *Priors) Len() int { return len(p.table) }

// Tickers returns the tickers with a prior, for explicit market selection.
func (p *Priors) Tickers() []string {
	out := make([]string, 0, len(p.table))
	for t := range p.table {
		out = append(out, t)
	}
	return out
}

// Estimate implements ports.ProbabilitySource.
func (p *Priors) Estimate(ctx context.Context, marketID string, snap domain.MarketSnapshot) (float64, error) {
	if v, ok := p.table[strings.ToUpper(marketID)]; ok {
		return v, nil
	}
	if p.fallback == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoEstimate, marketID)
	}
	return p.fallback.Estimate(ctx, marketID, snap)
}
