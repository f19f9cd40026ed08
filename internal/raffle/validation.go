package raffle

import (
	"errors"
	"strings"

	"ms-raffle/internal/models"
	"ms-raffle/internal/raffle/tickets"

	validation "github.com/go-ozzo/ozzo-validation"
)

func trimSubmission(req models.SubmitEntryRequest) models.SubmitEntryRequest {
	req.FullName = strings.TrimSpace(req.FullName)
	req.IDNumber = strings.TrimSpace(req.IDNumber)
	req.Phone = strings.TrimSpace(req.Phone)
	req.CountryCode = strings.TrimSpace(req.CountryCode)
	req.CountryName = strings.TrimSpace(req.CountryName)
	req.PaymentReference = strings.TrimSpace(req.PaymentReference)
	req.AccountHolder = strings.TrimSpace(req.AccountHolder)
	req.FileURL = strings.TrimSpace(req.FileURL)
	req.FileName = strings.TrimSpace(req.FileName)
	req.MimeType = strings.TrimSpace(req.MimeType)
	req.Comment = strings.TrimSpace(req.Comment)
	return req
}

func validateSubmission(req *models.SubmitEntryRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.TicketNumbers,
			validation.Required.Error("select at least one ticket"),
			validation.By(ticketNumbersRule)),
		validation.Field(&req.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&req.IDNumber, validation.Required, validation.Length(1, 50)),
		validation.Field(&req.Phone, validation.Required, validation.Length(1, 50)),
		validation.Field(&req.FileURL, validation.Required.Error("upload a payment proof")),
		validation.Field(&req.Comment, validation.Length(0, 1000)),
	)
}

func ticketNumbersRule(value interface{}) error {
	numbers, ok := value.([]int)
	if !ok {
		return errors.New("must be a list of ticket numbers")
	}
	if _, err := tickets.Normalize(numbers); err != nil {
		return err
	}
	return nil
}
