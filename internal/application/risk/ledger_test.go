package risk_test

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/lehacf-git/castle-bot/internal/application/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newLedger() *risk.Ledger {
	return risk.NewLedger(risk.Limits{PerMarket: d("20"), Total: d("100")})
}

func TestLedger_ReserveWithinCaps(t *testing.T) {
	l := newLedger()

	require.True(t, l.Reserve("A", d("9.60")))
	assert.True(t, l.Committed("A").Equal(d("9.60")))
	assert.True(t, l.Remaining("A").Equal(d("10.40")))
	assert.True(t, l.Remaining("B").Equal(d("20")))
	assert.True(t, l.Total().Equal(d("9.60")))
}

func TestLedger_PerMarketCapRefusesWithoutMutation(t *testing.T) {
	l := newLedger()
	require.True(t, l.Reserve("A", d("15")))

	assert.False(t, l.Reserve("A", d("5.01")))
	assert.ErrorIs(t, l.Check("A", d("5.01")), risk.ErrPerMarketLimitExceeded)
	assert.True(t, l.Committed("A").Equal(d("15")))
	assert.True(t, l.Total().Equal(d("15")))

	assert.True(t, l.Reserve("A", d("5")), "exactly at the cap is allowed")
}

func TestLedger_TotalCap(t *testing.T) {
	l := newLedger()
	for i := range 5 {
		require.True(t, l.Reserve(fmt.Sprintf("M%d", i), d("20")))
	}
	assert.True(t, l.Remaining("NEW").IsZero())
	assert.False(t, l.Reserve("NEW", d("0.01")))
	assert.ErrorIs(t, l.Check("NEW", d("0.01")), risk.ErrTotalLimitExceeded)
}

func TestLedger_NonPositiveReserve(t *testing.T) {
	l := newLedger()
	assert.False(t, l.Reserve("A", decimal.Zero))
	assert.False(t, l.Reserve("A", d("-1")))
	assert.ErrorIs(t, l.Check("A", decimal.Zero), risk.ErrNonPositiveNotional)
}

func TestLedger_ReleaseClampsToZero(t *testing.T) {
	l := newLedger()
	require.True(t, l.Reserve("A", d("10")))
	require.True(t, l.Reserve("B", d("5")))

	l.Release("A", d("4"))
	assert.True(t, l.Committed("A").Equal(d("6")))

	l.Release("A", d("50"))
	l.Release("A", d("50"))
	assert.True(t, l.Committed("A").IsZero())
	assert.True(t, l.Total().Equal(d("5")))

	l.Release("UNKNOWN", d("3"))
	assert.True(t, l.Total().Equal(d("5")))
}

func TestLedger_ResetAndSnapshot(t *testing.T) {
	l := newLedger()
	require.True(t, l.Reserve("A", d("3")))

	snap := l.Snapshot()
	assert.True(t, snap.Total.Equal(d("3")))
	assert.True(t, snap.TotalLimit.Equal(d("100")))
	assert.True(t, snap.ByMarket["A"].Equal(d("3")))

	l.Reset()
	assert.True(t, l.Total().IsZero())
	assert.Empty(t, l.Snapshot().ByMarket)
	assert.True(t, snap.ByMarket["A"].Equal(d("3")), "snapshot is a copy")
}

// Property: for any sequence of reserve/release calls, neither cap is ever exceeded
// and the total always equals the sum of per-market commitments.
func TestLedger_CapsHoldForRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	perMarket, total := d("20"), d("100")
	markets := []string{"A", "B", "C", "D", "E", "F", "G"}

	for run := range 50 {
		l := risk.NewLedger(risk.Limits{PerMarket: perMarket, Total: total})
		for step := range 400 {
			m := markets[rng.IntN(len(markets))]
			amt := decimal.New(int64(rng.IntN(1500)), -2) // 0.00 - 14.99
			if rng.IntN(3) == 0 {
				l.Release(m, amt)
			} else {
				l.Reserve(m, amt)
			}

			snap := l.Snapshot()
			sum := decimal.Zero
			for id, v := range snap.ByMarket {
				require.False(t, v.GreaterThan(perMarket), "run %d step %d market %s", run, step, id)
				require.False(t, v.IsNegative())
				sum = sum.Add(v)
			}
			require.False(t, snap.Total.GreaterThan(total), "run %d step %d", run, step)
			require.True(t, sum.Equal(snap.Total), "run %d step %d", run, step)
		}
	}
}
