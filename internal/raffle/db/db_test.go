package db_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"ms-raffle/internal/models"
	"ms-raffle/internal/raffle/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) *db.DB {
	name := strings.ReplaceAll(t.Name(), "/", "_")
	sqldb, err := sql.Open(sqliteshim.ShimName, fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	store := &db.DB{Bun: bun.NewDB(sqldb, sqlitedialect.New())}
	t.Cleanup(func() { store.Bun.Close() })

	if err := store.CreateSchema(context.Background()); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return store
}

func newEntry(name, id, phone string, at time.Time) *models.Entry {
	return &models.Entry{
		FullName:  name,
		IDNumber:  id,
		Phone:     phone,
		FileURL:   "https://ik.imagekit.io/raffle/proof.jpg",
		CreatedAt: at,
	}
}

func TestCreateEntryAndListTickets(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	entry := newEntry("Ana Pérez", "V123", "+584141234567", time.Now().UTC())
	require.NoError(t, store.CreateEntry(ctx, entry, []int{10, 11}, "[10,11]"))
	assert.NotZero(t, entry.ID)

	lists, err := store.ListTicketLists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, entry.ID, lists[0].EntryID)
	assert.Equal(t, "[10,11]", lists[0].Numbers)

	got, err := store.GetEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Pérez", got.FullName)
}

func TestCreateEntryRejectsClaimedNumber(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	first := newEntry("Ana Pérez", "V123", "+58414", time.Now().UTC())
	require.NoError(t, store.CreateEntry(ctx, first, []int{0, 11}, "[0,11]"))

	second := newEntry("Luis Gómez", "V456", "+58424", time.Now().UTC())
	err := store.CreateEntry(ctx, second, []int{11, 12}, "[11,12]")
	assert.True(t, errors.Is(err, db.ErrTicketClaimed), "got %v", err)

	// the whole transaction rolled back
	entries, err := store.ListEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	lists, err := store.ListTicketLists(ctx)
	require.NoError(t, err)
	assert.Len(t, lists, 1)

	claimed, err := store.ClaimedAmong(ctx, []int{11, 12})
	require.NoError(t, err)
	assert.Equal(t, []int{11}, claimed)

	claimed, err = store.ClaimedAmong(ctx, []int{0})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, claimed)
}

func TestFindEntriesByIdentifierOldestFirst(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateEntry(ctx, newEntry("Ana", "V1", "0414", base.Add(time.Hour)), []int{2}, "[2]"))
	require.NoError(t, store.CreateEntry(ctx, newEntry("Ana", "V1", "0424", base), []int{1}, "[1]"))
	require.NoError(t, store.CreateEntry(ctx, newEntry("Other", "V2", "0412", base), []int{3}, "[3]"))

	byID, err := store.FindEntriesByIdentifier(ctx, "V1")
	require.NoError(t, err)
	require.Len(t, byID, 2)
	assert.Equal(t, "0424", byID[0].Phone)
	assert.Equal(t, "0414", byID[1].Phone)

	byPhone, err := store.FindEntriesByIdentifier(ctx, "0412")
	require.NoError(t, err)
	require.Len(t, byPhone, 1)
	assert.Equal(t, "Other", byPhone[0].FullName)

	// exact match only
	none, err := store.FindEntriesByIdentifier(ctx, "041")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteEntryFreesNumbers(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	entry := newEntry("Ana", "V1", "0414", time.Now().UTC())
	require.NoError(t, store.CreateEntry(ctx, entry, []int{10, 11}, "[10,11]"))

	require.NoError(t, store.DeleteEntry(ctx, entry.ID))

	lists, err := store.ListTicketLists(ctx)
	require.NoError(t, err)
	assert.Empty(t, lists)

	again := newEntry("Luis", "V2", "0424", time.Now().UTC())
	assert.NoError(t, store.CreateEntry(ctx, again, []int{11, 12}, "[11,12]"))

	err = store.DeleteEntry(ctx, 9999)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestTicketListsForEntries(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	a := newEntry("A", "1", "1", time.Now().UTC())
	b := newEntry("B", "2", "2", time.Now().UTC())
	require.NoError(t, store.CreateEntry(ctx, a, []int{5}, "[5]"))
	require.NoError(t, store.CreateEntry(ctx, b, []int{42, 9999}, "[42,9999]"))

	lists, err := store.TicketListsForEntries(ctx, []int64{b.ID})
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, "[42,9999]", lists[0].Numbers)

	lists, err = store.TicketListsForEntries(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, lists)
}

func TestUsers(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &models.User{Username: "admin", PasswordHash: "hash"}))

	user, err := store.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "hash", user.PasswordHash)

	_, err = store.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
