package models

import "time"

// AvailabilityEvent announces that the sold set changed.
type AvailabilityEvent struct {
	Action    string    `json:"action"` // "sold" or "released"
	EntryID   int64     `json:"entryId"`
	Tickets   []int     `json:"tickets"`
	SoldCount int       `json:"soldCount"`
	At        time.Time `json:"at"`
}

const (
	AvailabilitySold     = "sold"
	AvailabilityReleased = "released"
)

// TicketSlot is a single grid cell.
type TicketSlot struct {
	Number  int    `json:"number"`
	Display string `json:"display"`
	Sold    bool   `json:"sold"`
}

// AvailabilityPage is one page of the ticket grid plus raffle-wide totals.
type AvailabilityPage struct {
	Page        int          `json:"page"`
	PageSize    int          `json:"pageSize"`
	TotalPages  int          `json:"totalPages"`
	Total       int          `json:"total"`
	Sold        int          `json:"sold"`
	Available   int          `json:"available"`
	PercentSold float64      `json:"percentSold"`
	Slots       []TicketSlot `json:"slots"`
}
