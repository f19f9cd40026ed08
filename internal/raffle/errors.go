package raffle

import (
	"errors"
	"fmt"

	"ms-raffle/internal/raffle/tickets"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrTicketsUnavailable = errors.New("tickets unavailable")
	ErrNoIdentifier       = errors.New("enter a phone number or ID number")
	ErrNotFound           = errors.New("not found")
	ErrNotEnoughAvailable = errors.New("not enough tickets available")
	ErrServer             = errors.New("server error")
)

// UnavailableError names the requested numbers that are already taken.
type UnavailableError struct {
	Numbers []int
}

func (e *UnavailableError) Error() string {
	return "the following tickets are already sold: " + tickets.FormatAll(e.Numbers)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrTicketsUnavailable
}

func validationError(err error) error {
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
