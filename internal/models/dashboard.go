package models

import "ms-raffle/internal/raffle/tickets"

// DashboardEntry is an entry row for the admin dashboard.
type DashboardEntry struct {
	EntryWithTickets
	Totals tickets.Quote `json:"totals"`
}

// Dashboard is the admin listing, sorted by ticket count descending.
type Dashboard struct {
	Search         string           `json:"search,omitempty"`
	SearchedTicket string           `json:"searchedTicket,omitempty"`
	Entries        []DashboardEntry `json:"entries"`
	TopBuyers      []DashboardEntry `json:"topBuyers,omitempty"`
	SoldCount      int              `json:"soldCount"`
}
