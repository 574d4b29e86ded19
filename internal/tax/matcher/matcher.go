// Package matcher pairs request lines with provider response lines by line
// number. The provider may return tax lines in any order.
package matcher

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/smallbiznis/salestax/internal/avatax"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	taxdomain "github.com/smallbiznis/salestax/internal/tax/domain"
)

// Tuple binds one line item to the request line sent for it and, once
// backfilled, the provider's response line.
type Tuple struct {
	LineNumber   int64
	LineItem     *orderdomain.LineItem
	RequestLine  *avatax.Line
	ResponseLine *avatax.TaxLine
}

// Matcher is owned by a single compute call. It is not safe for concurrent use.
type Matcher struct {
	tuples map[int64]*Tuple
}

func New() *Matcher {
	return &Matcher{tuples: make(map[int64]*Tuple)}
}

// Add registers the line item sent under lineNumber.
func (m *Matcher) Add(lineNumber int64, item *orderdomain.LineItem, line *avatax.Line) error {
	if lineNumber <= 0 {
		return fmt.Errorf("%w: %d", taxdomain.ErrMissingLineNumber, lineNumber)
	}
	if item == nil {
		return fmt.Errorf("%w: line %d", taxdomain.ErrMissingLineItem, lineNumber)
	}
	if line == nil {
		return fmt.Errorf("%w: line %d", taxdomain.ErrMissingRequestLine, lineNumber)
	}
	if _, exists := m.tuples[lineNumber]; exists {
		return fmt.Errorf("%w: %d", taxdomain.ErrDuplicateLineNumber, lineNumber)
	}
	m.tuples[lineNumber] = &Tuple{
		LineNumber:  lineNumber,
		LineItem:    item,
		RequestLine: line,
	}
	return nil
}

// Backfill attaches a response line to the tuple registered under its number.
func (m *Matcher) Backfill(resp *avatax.TaxLine) error {
	if resp == nil {
		return fmt.Errorf("%w: nil response line", taxdomain.ErrUnmatchedResponseLine)
	}
	no, err := strconv.ParseInt(strings.TrimSpace(resp.No), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: line %q", taxdomain.ErrUnmatchedResponseLine, resp.No)
	}
	tuple, ok := m.tuples[no]
	if !ok {
		return fmt.Errorf("%w: line %d", taxdomain.ErrUnmatchedResponseLine, no)
	}
	if tuple.ResponseLine != nil {
		return fmt.Errorf("%w: response line %d returned twice", taxdomain.ErrDuplicateLineNumber, no)
	}
	tuple.ResponseLine = resp
	return nil
}

// BackfillAll backfills every line of a response, stopping at the first error.
func (m *Matcher) BackfillAll(lines []avatax.TaxLine) error {
	for i := range lines {
		if err := m.Backfill(&lines[i]); err != nil {
			return err
		}
	}
	return nil
}

// Tuples returns every tuple in ascending line-number order.
func (m *Matcher) Tuples() []*Tuple {
	out := make([]*Tuple, 0, len(m.tuples))
	for _, t := range m.tuples {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineNumber < out[j].LineNumber })
	return out
}

// Unfilled returns the tuples the provider has not answered yet.
func (m *Matcher) Unfilled() []*Tuple {
	var out []*Tuple
	for _, t := range m.Tuples() {
		if t.ResponseLine == nil {
			out = append(out, t)
		}
	}
	return out
}

func (m *Matcher) Len() int { return len(m.tuples) }
