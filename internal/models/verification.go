package models

import "time"

// Purchase is one verified entry as shown to the buyer.
type Purchase struct {
	EntryID          int64     `json:"entryId"`
	FullName         string    `json:"fullName"`
	IDNumber         string    `json:"idNumber"`
	Phone            string    `json:"phone"`
	CountryCode      string    `json:"countryCode"`
	CountryName      string    `json:"countryName"`
	PaymentReference string    `json:"paymentReference"`
	AccountHolder    string    `json:"accountHolder"`
	FileURL          string    `json:"fileUrl"`
	FileName         string    `json:"fileName"`
	MimeType         string    `json:"mimeType"`
	CreatedAt        time.Time `json:"createdAt"`
	Tickets          []int     `json:"tickets"`
}

// VerificationResult lists every purchase for an identifier, oldest first.
type VerificationResult struct {
	Identifier string     `json:"identifier"`
	Tickets    []int      `json:"tickets"`
	Purchases  []Purchase `json:"purchases"`
}
