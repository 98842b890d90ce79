// Package table sorts and formats grocery entries for display.
package table

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/zombor/grocery-tracker/internal/entry"
)

// Column names match the entry JSON fields
const (
	ColumnDate     = "date"
	ColumnTotal    = "totalAmount"
	ColumnDiscount = "discountAmount"
)

// Direction is a sort order
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Criterion is one sort key
type Criterion struct {
	Column    string
	Direction Direction
}

var defaultCriteria = []Criterion{
	{Column: ColumnDate, Direction: Desc},
	{Column: ColumnTotal, Direction: Desc},
	{Column: ColumnDiscount, Direction: Desc},
}

// SortState is the user's active sort selection. The zero value has none.
type SortState struct {
	Column    string
	Direction Direction
}

// Active reports whether a column is selected
func (s SortState) Active() bool {
	return s.Column != ""
}

// Toggle advances the selection for column: asc, then desc, then cleared.
// Selecting a different column starts over at asc.
func (s SortState) Toggle(column string) SortState {
	if s.Column != column {
		return SortState{Column: column, Direction: Asc}
	}
	switch s.Direction {
	case Asc:
		return SortState{Column: column, Direction: Desc}
	default:
		return SortState{}
	}
}

// Clicks replays header clicks on columns, in order, from the zero state
func Clicks(columns ...string) (SortState, error) {
	var state SortState
	for _, column := range columns {
		switch column {
		case ColumnDate, ColumnTotal, ColumnDiscount:
			state = state.Toggle(column)
		default:
			return SortState{}, fmt.Errorf("unknown sort column %q", column)
		}
	}
	return state, nil
}

// Criteria returns the active column first, followed by the defaults it does not cover
func Criteria(state SortState) []Criterion {
	if !state.Active() {
		return slices.Clone(defaultCriteria)
	}
	criteria := []Criterion{{Column: state.Column, Direction: state.Direction}}
	for _, c := range defaultCriteria {
		if c.Column != state.Column {
			criteria = append(criteria, c)
		}
	}
	return criteria
}

func compareColumn(a, b *entry.Entry, column string) int {
	switch column {
	case ColumnDate:
		return a.Date.Compare(b.Date)
	case ColumnTotal:
		return cmp.Compare(a.TotalAmount, b.TotalAmount)
	case ColumnDiscount:
		return cmp.Compare(a.DiscountAmount, b.DiscountAmount)
	}
	return 0
}

// Sort returns a stably sorted copy of entries; the input is left untouched
func Sort(entries []*entry.Entry, state SortState) []*entry.Entry {
	criteria := Criteria(state)
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b *entry.Entry) int {
		for _, c := range criteria {
			n := compareColumn(a, b, c.Column)
			if c.Direction == Desc {
				n = -n
			}
			if n != 0 {
				return n
			}
		}
		return 0
	})
	return sorted
}

// FormatDay renders the stored calendar day as dd/mm/yyyy
func FormatDay(e *entry.Entry) string {
	d := e.Date.UTC()
	return fmt.Sprintf("%02d/%02d/%04d", d.Day(), int(d.Month()), d.Year())
}

// FormatAmount renders an amount with exactly two decimals
func FormatAmount(amount float64) string {
	return decimal.NewFromFloat(amount).StringFixed(2)
}

// Row is one formatted line of the table
type Row struct {
	ID       string
	Date     string
	Total    string
	Discount string
}

// Rows sorts entries and formats each one
func Rows(entries []*entry.Entry, state SortState) []Row {
	sorted := Sort(entries, state)
	rows := make([]Row, 0, len(sorted))
	for _, e := range sorted {
		rows = append(rows, Row{
			ID:       e.ID,
			Date:     FormatDay(e),
			Total:    FormatAmount(e.TotalAmount),
			Discount: FormatAmount(e.DiscountAmount),
		})
	}
	return rows
}

// header marks the active column with its direction
func header(state SortState) []string {
	titles := []struct{ column, title string }{
		{ColumnDate, "DATE"},
		{ColumnTotal, "TOTAL"},
		{ColumnDiscount, "DISCOUNT"},
	}
	out := []string{"ID"}
	for _, t := range titles {
		switch {
		case state.Column == t.column && state.Direction == Asc:
			out = append(out, t.title+" ▲")
		case state.Column == t.column && state.Direction == Desc:
			out = append(out, t.title+" ▼")
		default:
			out = append(out, t.title)
		}
	}
	return out
}

// Render writes the sorted table to w, or "No entries." when there are none
func Render(w io.Writer, entries []*entry.Entry, state SortState) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No entries.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	h := header(state)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h[0], h[1], h[2], h[3])
	for _, row := range Rows(entries, state) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.ID, row.Date, row.Total, row.Discount)
	}
	return tw.Flush()
}
