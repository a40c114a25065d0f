package workitem

import (
	"iter"
	"time"
)

// Plan holds the enumeration parameters for one run.
type Plan struct {
	// Start is the first day to fetch. Only the calendar day is used.
	Start time.Time

	// End is the last day to fetch (inclusive).
	End time.Time

	// Site is the WebTRIS site identifier.
	Site string

	// FirstPage is the first page number to request (>= 1).
	FirstPage int

	// LastPage is the page number at which enumeration stops (exclusive).
	LastPage int

	// PageSize is the number of rows per page (>= 1).
	PageSize int
}

// Validate checks that the plan describes a non-empty set of items.
func (p Plan) Validate() error {
	if p.Site == "" {
		return NewConfigError("site", "must not be empty")
	}
	if p.Start.IsZero() {
		return NewConfigError("start_date", "must be set")
	}
	if p.End.IsZero() {
		return NewConfigError("end_date", "must be set")
	}
	if day(p.Start).After(day(p.End)) {
		return NewConfigError("date_range", "start %s is after end %s",
			p.Start.Format(time.DateOnly), p.End.Format(time.DateOnly))
	}
	if p.FirstPage < 1 {
		return NewConfigError("first_page", "must be >= 1 (got %d)", p.FirstPage)
	}
	if p.FirstPage >= p.LastPage {
		return NewConfigError("page_range", "first page %d must be below last page %d", p.FirstPage, p.LastPage)
	}
	if p.PageSize < 1 {
		return NewConfigError("page_size", "must be >= 1 (got %d)", p.PageSize)
	}
	return nil
}

// Days returns the number of calendar days in the inclusive date range.
// Returns 0 for an inverted range.
func (p Plan) Days() int {
	start, end := day(p.Start), day(p.End)
	if start.After(end) {
		return 0
	}
	n := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		n++
	}
	return n
}

// Pages returns the number of pages requested per day.
func (p Plan) Pages() int {
	if p.LastPage <= p.FirstPage {
		return 0
	}
	return p.LastPage - p.FirstPage
}

// Len returns the total number of items the plan enumerates.
func (p Plan) Len() int {
	return p.Days() * p.Pages()
}

// Items returns the plan's work items, date-major then page-minor.
// The sequence is lazy and can be ranged over any number of times.
// An invalid plan yields nothing; call Validate first.
func (p Plan) Items() iter.Seq[Item] {
	return func(yield func(Item) bool) {
		if p.Validate() != nil {
			return
		}
		end := day(p.End)
		for d := day(p.Start); !d.After(end); d = d.AddDate(0, 0, 1) {
			date := d.Format(DateLayout)
			for page := p.FirstPage; page < p.LastPage; page++ {
				item := Item{
					RangeStart: date,
					RangeEnd:   date,
					Site:       p.Site,
					Page:       page,
					PageSize:   p.PageSize,
				}
				if !yield(item) {
					return
				}
			}
		}
	}
}

// day truncates t to midnight in its own location.
// AddDate on the result stays on calendar boundaries across DST changes.
func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
