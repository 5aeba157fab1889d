package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"table-allocation-backend/internal/apperr"
	"table-allocation-backend/internal/model"
	"table-allocation-backend/internal/storetest"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestGormStore_ClaimTables(t *testing.T) {
	claimSQL := `UPDATE "tables" SET "version"=version \+ \$1 WHERE .*id = \$2 AND version = \$3 AND status = \$4`

	testCases := []struct {
		name             string
		versions         map[string]int64
		mockExpectations func(mock sqlmock.Sqlmock)
		expectedErr      error
	}{
		{
			name:     "All versions match",
			versions: map[string]int64{"t2": 4, "t1": 7},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				// Claims happen in id order.
				mock.ExpectBegin()
				mock.ExpectExec(claimSQL).
					WithArgs(1, "t1", 7, "active").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
				mock.ExpectBegin()
				mock.ExpectExec(claimSQL).
					WithArgs(1, "t2", 4, "active").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name:     "Version moved on, should report a conflict",
			versions: map[string]int64{"t1": 7},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(claimSQL).
					WithArgs(1, "t1", 7, "active").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
			expectedErr: apperr.ErrConcurrencyConflict,
		},
		{
			name:     "Serialization failure is a conflict",
			versions: map[string]int64{"t1": 7},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(claimSQL).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.SerializationFailure})
				mock.ExpectRollback()
			},
			expectedErr: apperr.ErrConcurrencyConflict,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newTestDB(t)
			store := NewGormStore(gormDB)

			tc.mockExpectations(mock)

			err := store.ClaimTables(context.Background(), tc.versions)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
			} else {
				assert.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_GetBookingForUpdate(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectQuery(`SELECT \* FROM "bookings" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "party_size", "booking_date", "status", "is_unallocated"}).
			AddRow("b1", 4, "2026-10-16", "pending", true))

	b, err := store.GetBooking(context.Background(), "b1", true)
	require.NoError(t, err)
	assert.Equal(t, "b1", b.ID)
	assert.Equal(t, model.BookingPending, b.Status)
	assert.True(t, b.IsUnallocated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetBookingNotFound(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectQuery(`SELECT \* FROM "bookings"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetBooking(context.Background(), "missing", false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_UpdateBookingStatus(t *testing.T) {
	testCases := []struct {
		name        string
		affected    int64
		expectedErr error
	}{
		{name: "Status still matches", affected: 1},
		{name: "Status changed underneath", affected: 0, expectedErr: apperr.ErrConcurrencyConflict},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newTestDB(t)
			store := NewGormStore(gormDB)

			mock.ExpectBegin()
			mock.ExpectExec(`UPDATE "bookings" SET "status"=\$1,"updated_at"=\$2 WHERE .*id = \$3 AND status = \$4`).
				WithArgs("seated", Any{}, "b1", "confirmed").
				WillReturnResult(sqlmock.NewResult(0, tc.affected))
			mock.ExpectCommit()

			err := store.UpdateBookingStatus(context.Background(), "b1", model.BookingConfirmed, model.BookingSeated)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_TransactionClassifiesErrors(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.Transaction(context.Background(), func(tx Store) error {
		return &pgconn.PgError{Code: pgerrcode.DeadlockDetected}
	})
	assert.ErrorIs(t, err, apperr.ErrConcurrencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_Catalog(t *testing.T) {
	gormDB := storetest.OpenSQLite(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()

	a := storetest.Table(t, gormDB, "A", 4, 2)
	b := storetest.Table(t, gormDB, "B", 6, 1)
	c := storetest.Table(t, gormDB, "C", 2, 3)
	storetest.JoinGroup(t, gormDB, "AB", 10, a, b)
	storetest.JoinGroup(t, gormDB, "BC", 8, b, c)

	require.NoError(t, store.SoftDeleteTable(ctx, c.ID))
	assert.ErrorIs(t, store.SoftDeleteTable(ctx, c.ID), apperr.ErrNotFound, "already retired")

	tables, err := store.ListActiveTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "B", tables[0].Label, "ordered by priority rank")
	assert.Equal(t, "A", tables[1].Label)

	groups, err := store.ListJoinGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1, "groups with a deleted member are excluded")
	assert.Equal(t, "AB", groups[0].Name)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, groups[0].MemberIDs())

	_, err = store.GetTable(ctx, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGormStore_AppendPriorityEntriesIsIdempotent(t *testing.T) {
	gormDB := storetest.OpenSQLite(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()

	entries := []model.PriorityEntry{
		{PartySize: 4, ItemType: model.ItemTypeTable, ItemID: "t1", Rank: 1},
		{PartySize: 4, ItemType: model.ItemTypeTable, ItemID: "t2", Rank: 2},
	}
	require.NoError(t, store.AppendPriorityEntries(ctx, entries))

	again := []model.PriorityEntry{{PartySize: 4, ItemType: model.ItemTypeTable, ItemID: "t1", Rank: 3}}
	require.NoError(t, store.AppendPriorityEntries(ctx, again))

	stored, err := store.ListPriorityEntries(ctx, 4, true)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "t1", stored[0].ItemID)
	assert.Equal(t, 1, stored[0].Rank)

	stored[0].Rank, stored[1].Rank = 2, 1
	require.NoError(t, store.UpdatePriorityRanks(ctx, stored))

	reordered, err := store.ListPriorityEntries(ctx, 4, false)
	require.NoError(t, err)
	assert.Equal(t, "t2", reordered[0].ItemID)
}

func TestGormStore_BookingLifecycle(t *testing.T) {
	gormDB := storetest.OpenSQLite(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()

	table := storetest.Table(t, gormDB, "A", 4, 1)
	pending := storetest.Booking(t, gormDB, "2026-10-16", 1140, 120, 4, nil, model.BookingPending)
	storetest.Booking(t, gormDB, "2026-10-16", 1200, 60, 2, nil, model.BookingCancelled)
	storetest.Booking(t, gormDB, "2026-10-17", 1200, 60, 2, nil, model.BookingPending)

	backlog, err := store.ListUnallocated(ctx, "2026-10-16", 10)
	require.NoError(t, err)
	require.Len(t, backlog, 1)
	assert.Equal(t, pending.ID, backlog[0].ID)

	require.NoError(t, store.AssignBooking(ctx, Assignment{
		BookingID:       pending.ID,
		TableID:         table.ID,
		HeldTableIDs:    []string{table.ID},
		PartySize:       4,
		Date:            "2026-10-16",
		StartMinute:     1140,
		DurationMinutes: 120,
	}))

	assigned := storetest.Reload(t, gormDB, pending)
	assert.False(t, assigned.IsUnallocated)
	require.NotNil(t, assigned.TableID)
	assert.Equal(t, table.ID, *assigned.TableID)
	assert.Equal(t, []string{table.ID}, assigned.Tables())

	backlog, err = store.ListUnallocated(ctx, "2026-10-16", 10)
	require.NoError(t, err)
	assert.Empty(t, backlog)

	require.NoError(t, store.MarkUnallocated(ctx, pending.ID))
	released := storetest.Reload(t, gormDB, pending)
	assert.True(t, released.IsUnallocated)
	assert.Nil(t, released.TableID)
	assert.Empty(t, released.HeldTableIDs)

	onDate, err := store.ListBookingsForDate(ctx, "2026-10-16")
	require.NoError(t, err)
	assert.Len(t, onDate, 1, "cancelled bookings are not listed")

	err = store.AssignBooking(ctx, Assignment{BookingID: "missing", TableID: table.ID})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGormStore_ClaimTablesSQLite(t *testing.T) {
	gormDB := storetest.OpenSQLite(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()

	table := storetest.Table(t, gormDB, "A", 4, 1)
	require.NoError(t, store.ClaimTables(ctx, map[string]int64{table.ID: 1}))

	err := store.ClaimTables(ctx, map[string]int64{table.ID: 1})
	assert.ErrorIs(t, err, apperr.ErrConcurrencyConflict, "stale version must not win")

	fresh, err := store.GetTable(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Version)
}

func TestGormStore_TransactionRollsBack(t *testing.T) {
	gormDB := storetest.OpenSQLite(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.Transaction(ctx, func(tx Store) error {
		if err := tx.CreateBooking(ctx, &model.Booking{PartySize: 2, Date: "2026-10-16", StartMinute: 600, DurationMinutes: 60}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, gormDB.Model(&model.Booking{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGormStore_UpsertGuest(t *testing.T) {
	gormDB := storetest.OpenSQLite(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()

	phone := "+15550100"
	first := &model.Guest{Name: "Ada", Phone: &phone}
	require.NoError(t, store.UpsertGuest(ctx, first))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, 1, first.VisitCount)

	again := &model.Guest{Name: "Ada L.", Phone: &phone}
	require.NoError(t, store.UpsertGuest(ctx, again))
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.VisitCount)
	assert.Equal(t, "Ada L.", again.Name)

	found, err := store.FindGuestByPhone(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	anonymous := &model.Guest{Name: "Walk-in"}
	require.NoError(t, store.UpsertGuest(ctx, anonymous))
	assert.NotEqual(t, first.ID, anonymous.ID)

	err = store.UpsertGuest(ctx, &model.Guest{ID: "missing"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGormStore_Subscriptions(t *testing.T) {
	gormDB := storetest.OpenSQLite(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()

	terrace := model.Section{Name: "Terrace"}
	bar := model.Section{Name: "Bar"}
	require.NoError(t, gormDB.Create(&terrace).Error)
	require.NoError(t, gormDB.Create(&bar).Error)

	require.NoError(t, store.SaveSubscription(ctx, &model.PushSubscription{Endpoint: "https://push/terrace", P256DH: "k", Auth: "a"}, []string{terrace.ID}))
	require.NoError(t, store.SaveSubscription(ctx, &model.PushSubscription{Endpoint: "https://push/all", P256DH: "k", Auth: "a"}, nil))
	require.NoError(t, store.SaveSubscription(ctx, &model.PushSubscription{Endpoint: "https://push/bar", P256DH: "k", Auth: "a"}, []string{bar.ID}))

	subs, err := store.ListSubscriptionsForSection(ctx, terrace.ID)
	require.NoError(t, err)
	endpoints := make([]string, 0, len(subs))
	for _, s := range subs {
		endpoints = append(endpoints, s.Endpoint)
	}
	assert.ElementsMatch(t, []string{"https://push/terrace", "https://push/all"}, endpoints)

	got, err := store.GetSubscription(ctx, "https://push/terrace")
	require.NoError(t, err)
	require.Len(t, got.Sections, 1)
	assert.Equal(t, terrace.ID, got.Sections[0].ID)

	require.NoError(t, store.DeleteSubscription(ctx, "https://push/terrace"))
	_, err = store.GetSubscription(ctx, "https://push/terrace")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}

func TestGormStore_ListUnallocatedPutsSweptBookingsLast(t *testing.T) {
	gormDB := storetest.OpenSQLite(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()

	first := storetest.Booking(t, gormDB, "2026-10-16", 1140, 120, 4, nil, model.BookingPending)
	second := storetest.Booking(t, gormDB, "2026-10-16", 1200, 120, 4, nil, model.BookingPending)
	third := storetest.Booking(t, gormDB, "2026-10-16", 1260, 120, 4, nil, model.BookingPending)
	for i, b := range []model.Booking{first, second, third} {
		created := time.Date(2026, 10, 1, 10, i, 0, 0, time.UTC)
		require.NoError(t, gormDB.Model(&model.Booking{}).Where("id = ?", b.ID).UpdateColumn("created_at", created).Error)
	}

	require.NoError(t, store.MarkSwept(ctx, []string{first.ID}, time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, store.MarkSwept(ctx, []string{second.ID}, time.Date(2026, 10, 16, 11, 0, 0, 0, time.UTC)))
	require.NoError(t, store.MarkSwept(ctx, nil, time.Now()))

	backlog, err := store.ListUnallocated(ctx, "2026-10-16", 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(backlog))
	for _, b := range backlog {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, ids)

	before := storetest.Reload(t, gormDB, third).UpdatedAt
	require.NoError(t, store.MarkSwept(ctx, []string{third.ID}, time.Date(2026, 10, 16, 13, 0, 0, 0, time.UTC)))
	assert.Equal(t, before, storetest.Reload(t, gormDB, third).UpdatedAt)
}
