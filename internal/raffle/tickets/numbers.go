// Package tickets holds the ticket-number rules shared by the store, the
// service and the HTTP layer: range, display format and the packed list
// encoding stored per purchase.
package tickets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TotalTickets is the size of the raffle. Valid numbers are 0..TotalTickets-1.
const TotalTickets = 10000

var (
	ErrMalformedList = errors.New("malformed ticket list")
	ErrOutOfRange    = errors.New("ticket number out of range")
	ErrDuplicate     = errors.New("duplicate ticket number")
)

// Valid reports whether n is a sellable ticket number.
func Valid(n int) bool {
	return n >= 0 && n < TotalTickets
}

// Format renders a ticket number zero-padded to four digits.
func Format(n int) string {
	return fmt.Sprintf("%04d", n)
}

// FormatAll formats each number and joins them with ", ".
func FormatAll(numbers []int) string {
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = Format(n)
	}
	return strings.Join(parts, ", ")
}

// Parse accepts 1 to 4 decimal digits ("7", "0042", "9999").
func Parse(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || len(s) > 4 {
		return 0, fmt.Errorf("%q: %w", s, ErrOutOfRange)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%q is not a ticket number", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Encode serializes a ticket list the way it is stored on the ticket-list record.
func Encode(numbers []int) (string, error) {
	if numbers == nil {
		numbers = []int{}
	}
	b, err := json.Marshal(numbers)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a stored ticket list. A JSON array of integers or a bare
// integer is accepted; any other content, or a number outside the raffle
// range, yields ErrMalformedList.
func Decode(raw string) ([]int, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty value: %w", ErrMalformedList)
	}

	var numbers []int
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &numbers); err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrMalformedList)
		}
	} else {
		var single int
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrMalformedList)
		}
		numbers = []int{single}
	}

	for _, n := range numbers {
		if !Valid(n) {
			return nil, fmt.Errorf("%d: %w", n, ErrMalformedList)
		}
	}
	return numbers, nil
}

// Normalize checks a candidate list: every number in range and none repeated.
// The returned slice is sorted ascending; the input is not modified.
func Normalize(numbers []int) ([]int, error) {
	out := make([]int, len(numbers))
	copy(out, numbers)
	sort.Ints(out)
	for i, n := range out {
		if !Valid(n) {
			return nil, fmt.Errorf("%d: %w", n, ErrOutOfRange)
		}
		if i > 0 && out[i-1] == n {
			return nil, fmt.Errorf("%s: %w", Format(n), ErrDuplicate)
		}
	}
	return out, nil
}

// Set is a membership view over sold numbers.
type Set map[int]struct{}

func NewSet(numbers ...[]int) Set {
	s := make(Set)
	for _, list := range numbers {
		for _, n := range list {
			s[n] = struct{}{}
		}
	}
	return s
}

func (s Set) Has(n int) bool {
	_, ok := s[n]
	return ok
}

// Intersect returns the candidates present in s, in candidate order.
func (s Set) Intersect(candidates []int) []int {
	var hits []int
	for _, n := range candidates {
		if s.Has(n) {
			hits = append(hits, n)
		}
	}
	return hits
}

// Sorted returns the members in ascending order.
func (s Set) Sorted() []int {
	out := make([]int, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
