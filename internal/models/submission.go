package models

// SubmitEntryRequest is the payload of a ticket purchase.
type SubmitEntryRequest struct {
	TicketNumbers    []int  `json:"ticketNumbers"`
	FullName         string `json:"fullName"`
	IDNumber         string `json:"idNumber"`
	Phone            string `json:"phone"`
	CountryCode      string `json:"countryCode"`
	CountryName      string `json:"countryName"`
	PaymentReference string `json:"paymentReference"`
	AccountHolder    string `json:"accountHolder"`
	FileURL          string `json:"fileUrl"`
	FileName         string `json:"fileName"`
	MimeType         string `json:"mimeType"`
	Comment          string `json:"comment,omitempty"`
}

// ToEntry copies the buyer fields onto a new, unsaved Entry.
func (r SubmitEntryRequest) ToEntry() Entry {
	return Entry{
		FullName:         r.FullName,
		IDNumber:         r.IDNumber,
		Phone:            r.Phone,
		CountryCode:      r.CountryCode,
		CountryName:      r.CountryName,
		PaymentReference: r.PaymentReference,
		AccountHolder:    r.AccountHolder,
		FileURL:          r.FileURL,
		FileName:         r.FileName,
		MimeType:         r.MimeType,
		Comment:          r.Comment,
	}
}

// SubmitEntryResult is returned after a purchase is recorded.
type SubmitEntryResult struct {
	EntryID       int64  `json:"entryId"`
	TicketNumbers []int  `json:"ticketNumbers"`
	Message       string `json:"message"`
}
