package matcher

import (
	"fmt"
	"math/rand"
	"strconv"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/salestax/internal/avatax"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	taxdomain "github.com/smallbiznis/salestax/internal/tax/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lineFor(n int64) (*orderdomain.LineItem, *avatax.Line) {
	item := &orderdomain.LineItem{ID: snowflake.ID(1000 + n), SKU: fmt.Sprintf("SKU-%d", n)}
	line := &avatax.Line{No: strconv.FormatInt(n, 10), ItemCode: item.SKU}
	return item, line
}

func TestAddValidatesTuple(t *testing.T) {
	m := New()
	item, line := lineFor(1)

	assert.ErrorIs(t, m.Add(0, item, line), taxdomain.ErrMissingLineNumber)
	assert.ErrorIs(t, m.Add(1, nil, line), taxdomain.ErrMissingLineItem)
	assert.ErrorIs(t, m.Add(1, item, nil), taxdomain.ErrMissingRequestLine)

	require.NoError(t, m.Add(1, item, line))
	assert.ErrorIs(t, m.Add(1, item, line), taxdomain.ErrDuplicateLineNumber)
	assert.Equal(t, 1, m.Len())
}

func TestBackfillRejectsUnknownLines(t *testing.T) {
	m := New()
	item, line := lineFor(1)
	require.NoError(t, m.Add(1, item, line))

	assert.ErrorIs(t, m.Backfill(&avatax.TaxLine{No: "2", Tax: "1.00"}), taxdomain.ErrUnmatchedResponseLine)
	assert.ErrorIs(t, m.Backfill(&avatax.TaxLine{No: "one", Tax: "1.00"}), taxdomain.ErrUnmatchedResponseLine)
	assert.ErrorIs(t, m.Backfill(nil), taxdomain.ErrUnmatchedResponseLine)

	require.NoError(t, m.Backfill(&avatax.TaxLine{No: " 1 ", Tax: "1.00"}))
	assert.ErrorIs(t, m.Backfill(&avatax.TaxLine{No: "1", Tax: "1.00"}), taxdomain.ErrDuplicateLineNumber)
	assert.Empty(t, m.Unfilled())
}

func TestTuplesAreOrderedAndUnfilledReported(t *testing.T) {
	m := New()
	for _, n := range []int64{3, 1, 2} {
		item, line := lineFor(n)
		require.NoError(t, m.Add(n, item, line))
	}
	require.NoError(t, m.Backfill(&avatax.TaxLine{No: "2", Tax: "0.20"}))

	tuples := m.Tuples()
	require.Len(t, tuples, 3)
	assert.Equal(t, int64(1), tuples[0].LineNumber)
	assert.Equal(t, int64(2), tuples[1].LineNumber)
	assert.Equal(t, int64(3), tuples[2].LineNumber)

	unfilled := m.Unfilled()
	require.Len(t, unfilled, 2)
	assert.Equal(t, int64(1), unfilled[0].LineNumber)
	assert.Equal(t, int64(3), unfilled[1].LineNumber)
}

func TestBackfillIsOrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("shuffled responses land on the same line items", prop.ForAll(
		func(n int, seed int64) bool {
			m := New()
			responses := make([]avatax.TaxLine, 0, n)
			for i := 1; i <= n; i++ {
				item, line := lineFor(int64(i))
				if err := m.Add(int64(i), item, line); err != nil {
					return false
				}
				tax := decimal.New(int64(i), -2).String()
				responses = append(responses, avatax.TaxLine{No: strconv.Itoa(i), Tax: avatax.Amount(tax)})
			}

			rnd := rand.New(rand.NewSource(seed))
			rnd.Shuffle(len(responses), func(i, j int) {
				responses[i], responses[j] = responses[j], responses[i]
			})
			if err := m.BackfillAll(responses); err != nil {
				return false
			}

			for _, tuple := range m.Tuples() {
				got, err := tuple.ResponseLine.Tax.Decimal()
				if err != nil {
					return false
				}
				if !got.Equal(decimal.New(tuple.LineNumber, -2)) {
					return false
				}
				if tuple.LineItem.ID != snowflake.ID(1000+tuple.LineNumber) {
					return false
				}
			}
			return len(m.Unfilled()) == 0
		},
		gen.IntRange(1, 40),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
