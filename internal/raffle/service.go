package raffle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/raffle/db"
	"ms-raffle/internal/raffle/tickets"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
	topBuyersLimit  = 5

	defaultNotifyTimeout = 3 * time.Second
)

type DBLayer interface {
	CreateEntry(ctx context.Context, entry *models.Entry, numbers []int, packed string) error
	ListEntries(ctx context.Context) ([]models.Entry, error)
	GetEntryByID(ctx context.Context, id int64) (*models.Entry, error)
	FindEntriesByIdentifier(ctx context.Context, identifier string) ([]models.Entry, error)
	DeleteEntry(ctx context.Context, id int64) error
	ListTicketLists(ctx context.Context) ([]models.TicketList, error)
	TicketListsForEntries(ctx context.Context, entryIDs []int64) ([]models.TicketList, error)
	ClaimedAmong(ctx context.Context, numbers []int) ([]int, error)
}

type TicketLocker interface {
	ReserveAll(ctx context.Context, numbers []int, owner string) ([]int, error)
	ReleaseAll(ctx context.Context, numbers []int, owner string) error
}

type Notifier interface {
	PublishAvailability(ctx context.Context, event models.AvailabilityEvent) error
}

type RaffleService struct {
	DB           DBLayer
	Locker       TicketLocker
	Notifier     Notifier
	Logger       *logger.Logger
	Prices       tickets.PriceList
	LuckyPickMax int
	// NotifyTimeout bounds each availability publish.
	NotifyTimeout time.Duration

	Now  func() time.Time
	IntN func(n int) int
}

// NewRaffleService wires the service. locker and notifier may be nil.
func NewRaffleService(store DBLayer, locker TicketLocker, notifier Notifier, log *logger.Logger, prices tickets.PriceList, luckyPickMax int) *RaffleService {
	if luckyPickMax <= 0 {
		luckyPickMax = 100
	}
	return &RaffleService{
		DB:            store,
		Locker:        locker,
		Notifier:      notifier,
		Logger:        log,
		Prices:        prices,
		LuckyPickMax:  luckyPickMax,
		NotifyTimeout: defaultNotifyTimeout,
		Now:           time.Now,
		IntN:          rand.IntN,
	}
}

func (s *RaffleService) serverError(op string, err error) error {
	s.Logger.Error("RAFFLE", fmt.Sprintf("%s: %v", op, err))
	return fmt.Errorf("%w: %s: %w", ErrServer, op, err)
}

// ---------------- ALLOCATION ----------------

// soldSet scans every ticket-list record. Records that cannot be decoded are
// logged and skipped.
func (s *RaffleService) soldSet(ctx context.Context) (tickets.Set, error) {
	lists, err := s.DB.ListTicketLists(ctx)
	if err != nil {
		return nil, err
	}
	sold := make(tickets.Set)
	for _, list := range lists {
		numbers, err := tickets.Decode(list.Numbers)
		if err != nil {
			s.Logger.Warn("RAFFLE", fmt.Sprintf("Skipping ticket list %d of entry %d: %v", list.ID, list.EntryID, err))
			continue
		}
		for _, n := range numbers {
			sold[n] = struct{}{}
		}
	}
	return sold, nil
}

// CheckAllocation returns the candidates that are already sold, in candidate
// order. An empty result means every candidate is free.
func (s *RaffleService) CheckAllocation(ctx context.Context, candidates []int) ([]int, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	sold, err := s.soldSet(ctx)
	if err != nil {
		return nil, s.serverError("check allocation", err)
	}
	return sold.Intersect(candidates), nil
}

// SoldTickets returns every sold number, ascending and without repeats.
func (s *RaffleService) SoldTickets(ctx context.Context) ([]int, error) {
	sold, err := s.soldSet(ctx)
	if err != nil {
		return nil, s.serverError("list sold tickets", err)
	}
	return sold.Sorted(), nil
}

// ---------------- SUBMISSION ----------------

func (s *RaffleService) SubmitEntry(ctx context.Context, req models.SubmitEntryRequest) (*models.SubmitEntryResult, error) {
	req = trimSubmission(req)
	if err := validateSubmission(&req); err != nil {
		return nil, validationError(err)
	}
	numbers, err := tickets.Normalize(req.TicketNumbers)
	if err != nil {
		return nil, validationError(err)
	}

	// Step 1: reserve every number for this submission
	if s.Locker != nil {
		owner := uuid.NewString()
		held, err := s.Locker.ReserveAll(ctx, numbers, owner)
		if err != nil {
			return nil, s.serverError("reserve tickets", err)
		}
		if len(held) > 0 {
			return nil, &UnavailableError{Numbers: held}
		}
		defer func() {
			if err := s.Locker.ReleaseAll(context.WithoutCancel(ctx), numbers, owner); err != nil {
				s.Logger.Warn("REDIS", fmt.Sprintf("Release of %s failed: %v", owner, err))
			}
		}()
	}

	// Step 2: reject anything already sold
	conflicts, err := s.CheckAllocation(ctx, numbers)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, &UnavailableError{Numbers: conflicts}
	}

	// Step 3: persist entry, packed list and claims together
	packed, err := tickets.Encode(numbers)
	if err != nil {
		return nil, s.serverError("encode tickets", err)
	}
	entry := req.ToEntry()
	entry.CreatedAt = s.Now()
	if err := s.DB.CreateEntry(ctx, &entry, numbers, packed); err != nil {
		if errors.Is(err, db.ErrTicketClaimed) {
			claimed, lookupErr := s.DB.ClaimedAmong(ctx, numbers)
			if lookupErr != nil || len(claimed) == 0 {
				claimed = numbers
			}
			return nil, &UnavailableError{Numbers: claimed}
		}
		return nil, s.serverError("create entry", err)
	}

	s.Logger.LogEntry("CREATED", entry.ID, fmt.Sprintf("%s bought %s", entry.FullName, tickets.FormatAll(numbers)))
	s.notify(ctx, models.AvailabilitySold, entry.ID, numbers)

	return &models.SubmitEntryResult{
		EntryID:       entry.ID,
		TicketNumbers: numbers,
		Message:       "Registration successful",
	}, nil
}

func (s *RaffleService) notify(ctx context.Context, action string, entryID int64, numbers []int) {
	if s.Notifier == nil {
		return
	}
	timeout := s.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	// the entry is already committed, so a client hanging up must not drop the event
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	event := models.AvailabilityEvent{
		Action:  action,
		EntryID: entryID,
		Tickets: numbers,
		At:      s.Now(),
	}
	if sold, err := s.soldSet(ctx); err == nil {
		event.SoldCount = len(sold)
	}
	if err := s.Notifier.PublishAvailability(ctx, event); err != nil {
		s.Logger.Warn("RAFFLE", fmt.Sprintf("Availability notification for entry %d failed: %v", entryID, err))
	}
}

// ---------------- BUYER VIEWS ----------------

func (s *RaffleService) Quote(count int) (tickets.Quote, error) {
	if count < 1 || count > tickets.TotalTickets {
		return tickets.Quote{}, validationError(fmt.Errorf("count must be between 1 and %d", tickets.TotalTickets))
	}
	return s.Prices.Quote(count), nil
}

// LuckyPick draws count distinct unsold numbers uniformly at random.
func (s *RaffleService) LuckyPick(ctx context.Context, count int) ([]int, error) {
	if count < 1 || count > s.LuckyPickMax {
		return nil, validationError(fmt.Errorf("count must be between 1 and %d", s.LuckyPickMax))
	}
	sold, err := s.soldSet(ctx)
	if err != nil {
		return nil, s.serverError("lucky pick", err)
	}

	available := make([]int, 0, tickets.TotalTickets-len(sold))
	for n := 0; n < tickets.TotalTickets; n++ {
		if !sold.Has(n) {
			available = append(available, n)
		}
	}
	if len(available) < count {
		return nil, fmt.Errorf("%w: %d left", ErrNotEnoughAvailable, len(available))
	}

	// partial Fisher-Yates
	for i := 0; i < count; i++ {
		j := i + s.IntN(len(available)-i)
		available[i], available[j] = available[j], available[i]
	}
	picked := append([]int(nil), available[:count]...)
	sort.Ints(picked)
	return picked, nil
}

func (s *RaffleService) Availability(ctx context.Context, page, pageSize int) (*models.AvailabilityPage, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	totalPages := (tickets.TotalTickets + pageSize - 1) / pageSize
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	sold, err := s.soldSet(ctx)
	if err != nil {
		return nil, s.serverError("availability", err)
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if end > tickets.TotalTickets {
		end = tickets.TotalTickets
	}
	slots := make([]models.TicketSlot, 0, end-start)
	for n := start; n < end; n++ {
		slots = append(slots, models.TicketSlot{Number: n, Display: tickets.Format(n), Sold: sold.Has(n)})
	}

	return &models.AvailabilityPage{
		Page:        page,
		PageSize:    pageSize,
		TotalPages:  totalPages,
		Total:       tickets.TotalTickets,
		Sold:        len(sold),
		Available:   tickets.TotalTickets - len(sold),
		PercentSold: float64(len(sold)) * 100 / float64(tickets.TotalTickets),
		Slots:       slots,
	}, nil
}

// VerifyTickets finds every purchase whose phone or ID number equals the
// identifier exactly, oldest first.
func (s *RaffleService) VerifyTickets(ctx context.Context, identifier string) (*models.VerificationResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrNoIdentifier
	}

	entries, err := s.DB.FindEntriesByIdentifier(ctx, identifier)
	if err != nil {
		return nil, s.serverError("verify tickets", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no tickets found for this identifier", ErrNotFound)
	}

	byEntry, err := s.ticketsByEntry(ctx, entries)
	if err != nil {
		return nil, s.serverError("verify tickets", err)
	}

	result := &models.VerificationResult{
		Identifier: identifier,
		Tickets:    []int{},
		Purchases:  make([]models.Purchase, 0, len(entries)),
	}
	for _, e := range entries {
		numbers := byEntry[e.ID]
		if numbers == nil {
			numbers = []int{}
		}
		result.Purchases = append(result.Purchases, models.Purchase{
			EntryID:          e.ID,
			FullName:         e.FullName,
			IDNumber:         e.IDNumber,
			Phone:            e.Phone,
			CountryCode:      e.CountryCode,
			CountryName:      e.CountryName,
			PaymentReference: e.PaymentReference,
			AccountHolder:    e.AccountHolder,
			FileURL:          e.FileURL,
			FileName:         e.FileName,
			MimeType:         e.MimeType,
			CreatedAt:        e.CreatedAt,
			Tickets:          numbers,
		})
		result.Tickets = append(result.Tickets, numbers...)
	}
	return result, nil
}

// ticketsByEntry decodes the ticket lists of the given entries. Undecodable
// records are skipped.
func (s *RaffleService) ticketsByEntry(ctx context.Context, entries []models.Entry) (map[int64][]int, error) {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	lists, err := s.DB.TicketListsForEntries(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.groupLists(lists), nil
}

func (s *RaffleService) groupLists(lists []models.TicketList) map[int64][]int {
	out := make(map[int64][]int)
	for _, list := range lists {
		numbers, err := tickets.Decode(list.Numbers)
		if err != nil {
			s.Logger.Warn("RAFFLE", fmt.Sprintf("Skipping ticket list %d of entry %d: %v", list.ID, list.EntryID, err))
			continue
		}
		out[list.EntryID] = append(out[list.EntryID], numbers...)
	}
	return out
}

// EntryTickets loads one entry with its numbers.
func (s *RaffleService) EntryTickets(ctx context.Context, id int64) (*models.EntryWithTickets, error) {
	entry, err := s.DB.GetEntryByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entry %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, s.serverError("get entry", err)
	}
	byEntry, err := s.ticketsByEntry(ctx, []models.Entry{*entry})
	if err != nil {
		return nil, s.serverError("get entry tickets", err)
	}
	numbers := byEntry[id]
	if numbers == nil {
		numbers = []int{}
	}
	return &models.EntryWithTickets{Entry: *entry, Tickets: numbers, TicketCount: len(numbers)}, nil
}

// ---------------- ADMIN ----------------

// Dashboard lists entries sorted by ticket count, optionally filtered by a
// search term matched against buyer fields and ticket numbers.
func (s *RaffleService) Dashboard(ctx context.Context, search string) (*models.Dashboard, error) {
	search = strings.TrimSpace(search)

	entries, err := s.DB.ListEntries(ctx)
	if err != nil {
		return nil, s.serverError("dashboard entries", err)
	}
	lists, err := s.DB.ListTicketLists(ctx)
	if err != nil {
		return nil, s.serverError("dashboard tickets", err)
	}
	byEntry := s.groupLists(lists)

	dash := &models.Dashboard{Search: search, Entries: []models.DashboardEntry{}}
	if n, err := tickets.Parse(search); err == nil {
		dash.SearchedTicket = tickets.Format(n)
	}

	all := make([]models.DashboardEntry, 0, len(entries))
	sold := make(tickets.Set)
	for _, e := range entries {
		numbers := byEntry[e.ID]
		if numbers == nil {
			numbers = []int{}
		}
		for _, n := range numbers {
			sold[n] = struct{}{}
		}
		all = append(all, models.DashboardEntry{
			EntryWithTickets: models.EntryWithTickets{Entry: e, Tickets: numbers, TicketCount: len(numbers)},
			Totals:           s.Prices.Quote(len(numbers)),
		})
	}
	dash.SoldCount = len(sold)

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].TicketCount > all[j].TicketCount
	})

	for _, e := range all {
		if matchesSearch(e.EntryWithTickets, search) {
			dash.Entries = append(dash.Entries, e)
		}
	}

	if search == "" {
		limit := topBuyersLimit
		if len(all) < limit {
			limit = len(all)
		}
		dash.TopBuyers = all[:limit]
	}
	return dash, nil
}

func matchesSearch(e models.EntryWithTickets, search string) bool {
	if search == "" {
		return true
	}
	term := strings.ToLower(search)
	for _, field := range []string{e.FullName, e.IDNumber, e.Phone, e.CountryName, e.CountryCode} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	for _, n := range e.Tickets {
		if strings.Contains(tickets.Format(n), term) || strings.Contains(strconv.Itoa(n), term) {
			return true
		}
	}
	return false
}

// DeleteEntry removes an entry with its tickets, returning them to sale.
func (s *RaffleService) DeleteEntry(ctx context.Context, id int64) error {
	if id <= 0 {
		return validationError(fmt.Errorf("invalid entry id %d", id))
	}

	lists, err := s.DB.TicketListsForEntries(ctx, []int64{id})
	if err != nil {
		return s.serverError("delete entry", err)
	}
	released := s.groupLists(lists)[id]

	if err := s.DB.DeleteEntry(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: entry %d", ErrNotFound, id)
		}
		return s.serverError("delete entry", err)
	}

	s.Logger.LogEntry("DELETED", id, fmt.Sprintf("released %d tickets", len(released)))
	s.notify(ctx, models.AvailabilityReleased, id, released)
	return nil
}
