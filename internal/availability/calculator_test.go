package availability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"table-allocation-backend/internal/apperr"
	"table-allocation-backend/internal/catalog"
	"table-allocation-backend/internal/model"
	"table-allocation-backend/internal/store"
	"table-allocation-backend/internal/storetest"
)

func TestCalculator_CheckAvailability(t *testing.T) {
	gormDB := storetest.OpenSQLite(t)
	s := store.NewGormStore(gormDB)
	calc := NewCalculator(s, catalog.NewDirectory(s, nil, zap.NewNop()), zap.NewNop())
	ctx := context.Background()

	a := storetest.Table(t, gormDB, "A", 4, 1)
	b := storetest.Table(t, gormDB, "B", 6, 2)
	storetest.Booking(t, gormDB, day, 1140, 120, 4, &a, model.BookingConfirmed)

	res, err := calc.CheckAvailability(ctx, Query{Date: day, StartMinute: 1200, PartySize: 4, DurationMinutes: 120})
	require.NoError(t, err)
	require.True(t, res.Available)
	assert.Equal(t, []string{b.ID}, ids(res.Candidates))

	res, err = calc.CheckAvailability(ctx, Query{Date: day, StartMinute: 1200, PartySize: 12, DurationMinutes: 120})
	require.NoError(t, err)
	assert.Equal(t, ReasonNoSuitableSize, res.Reason)

	_, err = calc.CheckAvailability(ctx, Query{Date: day, StartMinute: 1200, PartySize: 0, DurationMinutes: 120})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCalculator_FindAvailableSlots(t *testing.T) {
	gormDB := storetest.OpenSQLite(t)
	s := store.NewGormStore(gormDB)
	calc := NewCalculator(s, catalog.NewDirectory(s, nil, zap.NewNop()), zap.NewNop())
	ctx := context.Background()

	a := storetest.Table(t, gormDB, "A", 4, 1)
	// 19:00-21:00 taken.
	storetest.Booking(t, gormDB, day, 1140, 120, 4, &a, model.BookingConfirmed)

	slots := calc.FindAvailableSlots(ctx, day, 4, 1020, 1320, 60, 30)

	collect := func() []int {
		var got []int
		for minute, err := range slots {
			require.NoError(t, err)
			got = append(got, minute)
		}
		return got
	}

	expected := []int{1020, 1050, 1080, 1260, 1290, 1320}
	assert.Equal(t, expected, collect())
	assert.Equal(t, expected, collect(), "the sequence restarts from the range start")

	// Early break stops evaluation.
	var first []int
	for minute, err := range slots {
		require.NoError(t, err)
		first = append(first, minute)
		if len(first) == 2 {
			break
		}
	}
	assert.Equal(t, []int{1020, 1050}, first)
}

func TestCalculator_FindAvailableSlotsInvalid(t *testing.T) {
	gormDB := storetest.OpenSQLite(t)
	s := store.NewGormStore(gormDB)
	calc := NewCalculator(s, catalog.NewDirectory(s, nil, zap.NewNop()), zap.NewNop())

	testCases := []struct {
		name                   string
		from, to, duration, st int
	}{
		{name: "Zero step", from: 600, to: 700, duration: 60, st: 0},
		{name: "Inverted range", from: 700, to: 600, duration: 60, st: 15},
		{name: "Zero duration", from: 600, to: 700, duration: 0, st: 15},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var errs []error
			for minute, err := range calc.FindAvailableSlots(context.Background(), day, 2, tc.from, tc.to, tc.duration, tc.st) {
				assert.Zero(t, minute)
				errs = append(errs, err)
			}
			require.Len(t, errs, 1)
			assert.ErrorIs(t, errs[0], apperr.ErrValidation)
		})
	}
}
