package models

import "github.com/uptrace/bun"

// TicketList holds the numbers bought by one entry, packed as JSON text.
type TicketList struct {
	bun.BaseModel `bun:"table:raffle_ticket"`

	ID      int64  `bun:"id,pk,autoincrement" json:"id"`
	EntryID int64  `bun:"entry_id,notnull" json:"entryId"`
	Numbers string `bun:"ticket_number,notnull" json:"ticketNumber"`
}

// TicketClaim is the one-row-per-number record whose unique ticket_number
// keeps a number from being held by two entries.
type TicketClaim struct {
	bun.BaseModel `bun:"table:raffle_ticket_claim"`

	ID           int64 `bun:"id,pk,autoincrement" json:"id"`
	TicketNumber int   `bun:"ticket_number,notnull,unique" json:"ticketNumber"`
	EntryID      int64 `bun:"entry_id,notnull" json:"entryId"`
}
