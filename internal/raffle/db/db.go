package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ms-raffle/internal/models"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

// ErrTicketClaimed is returned by CreateEntry when another entry already
// holds one of the numbers. Nothing is written in that case.
var ErrTicketClaimed = errors.New("ticket number already claimed")

type DB struct {
	Bun *bun.DB
}

// CreateSchema creates every table the service uses. PostgreSQL deployments
// use the SQL migrations instead; this serves SQLite mode and tests.
func (d *DB) CreateSchema(ctx context.Context) error {
	tables := []interface{}{
		(*models.Entry)(nil),
		(*models.TicketList)(nil),
		(*models.TicketClaim)(nil),
		(*models.User)(nil),
	}
	for _, m := range tables {
		if _, err := d.Bun.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	return nil
}

// ---------------- ENTRIES ----------------

// CreateEntry → insert the entry, its packed ticket list and one claim row
// per number in a single transaction. entry.ID is set on success.
func (d *DB) CreateEntry(ctx context.Context, entry *models.Entry, numbers []int, packed string) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(entry).Exec(ctx); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		if entry.ID == 0 {
			return errors.New("insert entry: no id returned")
		}

		list := &models.TicketList{EntryID: entry.ID, Numbers: packed}
		if _, err := tx.NewInsert().Model(list).Exec(ctx); err != nil {
			return fmt.Errorf("insert ticket list: %w", err)
		}

		claims := make([]models.TicketClaim, len(numbers))
		for i, n := range numbers {
			claims[i] = models.TicketClaim{TicketNumber: n, EntryID: entry.ID}
		}
		if _, err := tx.NewInsert().Model(&claims).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return ErrTicketClaimed
			}
			return fmt.Errorf("insert ticket claims: %w", err)
		}
		return nil
	})
}

// ListEntries → every entry, newest first
func (d *DB) ListEntries(ctx context.Context) ([]models.Entry, error) {
	var entries []models.Entry
	err := d.Bun.NewSelect().
		Model(&entries).
		Order("id DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetEntryByID → fetch one entry by its ID
func (d *DB) GetEntryByID(ctx context.Context, id int64) (*models.Entry, error) {
	var entry models.Entry
	err := d.Bun.NewSelect().
		Model(&entry).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindEntriesByIdentifier → entries whose phone or ID number equals identifier, oldest first
func (d *DB) FindEntriesByIdentifier(ctx context.Context, identifier string) ([]models.Entry, error) {
	var entries []models.Entry
	err := d.Bun.NewSelect().
		Model(&entries).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("phone = ?", identifier).WhereOr("id_number = ?", identifier)
		}).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteEntry → remove claims, ticket lists and the entry itself.
// Returns sql.ErrNoRows when the entry does not exist.
func (d *DB) DeleteEntry(ctx context.Context, id int64) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*models.TicketClaim)(nil)).
			Where("entry_id = ?", id).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete ticket claims: %w", err)
		}

		if _, err := tx.NewDelete().
			Model((*models.TicketList)(nil)).
			Where("entry_id = ?", id).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete ticket lists: %w", err)
		}

		res, err := tx.NewDelete().
			Model((*models.Entry)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete entry: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// ---------------- TICKET LISTS ----------------

// ListTicketLists → every ticket-list record, raw
func (d *DB) ListTicketLists(ctx context.Context) ([]models.TicketList, error) {
	var lists []models.TicketList
	err := d.Bun.NewSelect().
		Model(&lists).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return lists, nil
}

// TicketListsForEntries → ticket-list records belonging to the given entries
func (d *DB) TicketListsForEntries(ctx context.Context, entryIDs []int64) ([]models.TicketList, error) {
	if len(entryIDs) == 0 {
		return nil, nil
	}
	var lists []models.TicketList
	err := d.Bun.NewSelect().
		Model(&lists).
		Where("entry_id IN (?)", bun.In(entryIDs)).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return lists, nil
}

// ClaimedAmong → which of numbers are held in the claim table
func (d *DB) ClaimedAmong(ctx context.Context, numbers []int) ([]int, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	var claimed []int
	err := d.Bun.NewSelect().
		Model((*models.TicketClaim)(nil)).
		Column("ticket_number").
		Where("ticket_number IN (?)", bun.In(numbers)).
		Order("ticket_number ASC").
		Scan(ctx, &claimed)
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ---------------- USERS ----------------

func (d *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("username = ?", username).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (d *DB) CreateUser(ctx context.Context, user *models.User) error {
	_, err := d.Bun.NewInsert().Model(user).Exec(ctx)
	return err
}

// isUniqueViolation recognises primary-key/unique failures from PostgreSQL
// (SQLSTATE 23505) and SQLite.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
