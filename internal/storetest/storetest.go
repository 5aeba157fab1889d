// Package storetest opens throwaway SQLite databases with the full schema and
// seeds catalog rows for tests.
package storetest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"table-allocation-backend/internal/db"
	"table-allocation-backend/internal/model"
)

// OpenSQLite returns a migrated file-backed SQLite database that is removed
// when the test ends. Transactions take the write lock at BEGIN so concurrent
// writers queue on the busy timeout instead of failing mid-transaction.
func OpenSQLite(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "seating.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_foreign_keys=off", path)
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	return gormDB
}

// Table inserts an active, online-bookable table.
func Table(t *testing.T, gormDB *gorm.DB, label string, seats, rank int) model.Table {
	t.Helper()

	table := model.Table{
		Label:          label,
		SeatCount:      seats,
		PriorityRank:   rank,
		OnlineBookable: true,
		Status:         model.TableStatusActive,
	}
	require.NoError(t, gormDB.Create(&table).Error)
	return table
}

// JoinGroup inserts a join group over members.
func JoinGroup(t *testing.T, gormDB *gorm.DB, name string, maxParty int, members ...model.Table) model.JoinGroup {
	t.Helper()

	group := model.JoinGroup{Name: name, MaxPartySize: maxParty, Members: members}
	require.NoError(t, gormDB.Omit("Members.*").Create(&group).Error)
	return group
}

// Booking inserts a booking. A nil table leaves it unallocated.
func Booking(t *testing.T, gormDB *gorm.DB, date string, start, duration, party int, table *model.Table, status model.BookingStatus) model.Booking {
	t.Helper()

	b := model.Booking{
		PartySize:       party,
		Date:            date,
		StartMinute:     start,
		DurationMinutes: duration,
		Status:          status,
	}
	if table != nil {
		b.TableID = &table.ID
		b.HeldTableIDs = model.StringList{table.ID}
	}
	require.NoError(t, gormDB.Create(&b).Error)
	return b
}

// GroupBooking inserts a booking holding every member of group.
func GroupBooking(t *testing.T, gormDB *gorm.DB, date string, start, duration, party int, group model.JoinGroup) model.Booking {
	t.Helper()

	ids := group.MemberIDs()
	b := model.Booking{
		PartySize:       party,
		Date:            date,
		StartMinute:     start,
		DurationMinutes: duration,
		TableID:         &ids[0],
		JoinGroupID:     &group.ID,
		HeldTableIDs:    model.StringList(ids),
		Status:          model.BookingConfirmed,
	}
	require.NoError(t, gormDB.Create(&b).Error)
	return b
}

// Reload fetches the current row for b.
func Reload(t *testing.T, gormDB *gorm.DB, b model.Booking) model.Booking {
	t.Helper()

	var fresh model.Booking
	require.NoError(t, gormDB.First(&fresh, "id = ?", b.ID).Error)
	return fresh
}
