package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Entry is one purchase submission: buyer data plus payment proof metadata.
type Entry struct {
	bun.BaseModel `bun:"table:raffle_entry"`

	ID               int64     `bun:"id,pk,autoincrement" json:"id"`
	FullName         string    `bun:"full_name,notnull" json:"fullName"`
	IDNumber         string    `bun:"id_number,notnull" json:"idNumber"`
	Phone            string    `bun:"phone,notnull" json:"phone"`
	CountryCode      string    `bun:"country_code" json:"countryCode"`
	CountryName      string    `bun:"country_name" json:"countryName"`
	PaymentReference string    `bun:"payment_reference" json:"paymentReference"`
	AccountHolder    string    `bun:"account_holder" json:"accountHolder"`
	FileURL          string    `bun:"file_path,notnull" json:"fileUrl"`
	FileName         string    `bun:"file_name" json:"fileName"`
	MimeType         string    `bun:"mime_type" json:"mimeType"`
	Comment          string    `bun:"comment" json:"comment,omitempty"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

// EntryWithTickets is an entry joined with the decoded numbers of its ticket-list records.
type EntryWithTickets struct {
	Entry
	Tickets     []int `json:"tickets"`
	TicketCount int   `json:"ticketCount"`
}
