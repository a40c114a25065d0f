// Package workitem enumerates the (date, page) fetch units of a WebTRIS report run.
package workitem

import (
	"fmt"
)

// DateLayout is the date format the WebTRIS reports API expects (ddmmyyyy).
const DateLayout = "02012006"

// Item describes one report page to request from the remote endpoint.
// Items are plain values and are never mutated after enumeration.
type Item struct {
	// RangeStart is the first day of the report window, formatted with DateLayout.
	RangeStart string

	// RangeEnd is the last day of the report window, formatted with DateLayout.
	RangeEnd string

	// Site is the WebTRIS site identifier (the "sites" query parameter).
	Site string

	// Page is the 1-based page number.
	Page int

	// PageSize is the number of rows requested per page.
	PageSize int
}

// Key returns a stable identifier for the item.
// Format: site:start:end:page
//
// Example:
//
//	2:01082021:01082021:7
func (i Item) Key() string {
	return fmt.Sprintf("%s:%s:%s:%d", i.Site, i.RangeStart, i.RangeEnd, i.Page)
}

// String implements fmt.Stringer.
func (i Item) String() string {
	return i.Key()
}
