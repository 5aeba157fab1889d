package backfill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"table-allocation-backend/config"
	"table-allocation-backend/internal/allocator"
	"table-allocation-backend/internal/apperr"
	"table-allocation-backend/internal/availability"
	"table-allocation-backend/internal/catalog"
	"table-allocation-backend/internal/model"
	"table-allocation-backend/internal/store"
	"table-allocation-backend/internal/storetest"
)

const day = "2026-10-16"

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *recordingDispatcher) Dispatch(bookingID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, bookingID)
	return true
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

func setup(t *testing.T, cfg config.BackfillConfig) (*Sweeper, *recordingDispatcher, *gorm.DB) {
	gormDB := storetest.OpenSQLite(t)
	s := store.NewGormStore(gormDB)
	dir := catalog.NewDirectory(s, nil, zap.NewNop())
	calc := availability.NewCalculator(s, dir, zap.NewNop())
	alloc := allocator.New(s, calc, config.Default().Allocator, zap.NewNop())

	notifier := &recordingDispatcher{}
	sw := NewSweeper(cfg, time.UTC, s, alloc, notifier, zap.NewNop())
	sw.now = func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }
	return sw, notifier, gormDB
}

func TestSweep_AllocatesBacklog(t *testing.T) {
	sw, notifier, gormDB := setup(t, config.Default().Backfill)
	ctx := context.Background()

	storetest.Table(t, gormDB, "A", 4, 1)
	first := storetest.Booking(t, gormDB, day, 1140, 120, 4, nil, model.BookingPending)
	second := storetest.Booking(t, gormDB, day, 1140, 120, 4, nil, model.BookingConfirmed)
	// Another date is left alone.
	elsewhere := storetest.Booking(t, gormDB, "2026-10-17", 1140, 120, 4, nil, model.BookingPending)

	report, err := sw.Sweep(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, Report{Date: day, Scanned: 2, Allocated: 1, StillUnallocated: 1}, report)

	ids := notifier.dispatched()
	require.Len(t, ids, 1)
	placed := storetest.Reload(t, gormDB, model.Booking{ID: ids[0]})
	assert.True(t, placed.Allocated())
	assert.Contains(t, []string{first.ID, second.ID}, placed.ID)

	assert.True(t, storetest.Reload(t, gormDB, elsewhere).IsUnallocated)

	var audit model.AllocationAudit
	require.NoError(t, gormDB.First(&audit, "booking_id = ?", placed.ID).Error)
	assert.Equal(t, Actor, audit.Actor)

	// The loser stays in the backlog for the next sweep.
	report, err = sw.Sweep(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.StillUnallocated)
}

func TestSweep_BoundedByMaxAttempts(t *testing.T) {
	cfg := config.Default().Backfill
	cfg.MaxAttempts = 2
	sw, _, gormDB := setup(t, cfg)

	storetest.Table(t, gormDB, "A", 4, 1)
	for i := 0; i < 5; i++ {
		storetest.Booking(t, gormDB, day, 600+i*120, 120, 2, nil, model.BookingPending)
	}

	report, err := sw.Sweep(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Allocated)

	var left int64
	require.NoError(t, gormDB.Model(&model.Booking{}).Where("is_unallocated = ?", true).Count(&left).Error)
	assert.Equal(t, int64(3), left)
}

func TestSweep_BookingsThatNeverFitDoNotStarveNewerOnes(t *testing.T) {
	cfg := config.Default().Backfill
	cfg.MaxAttempts = 2
	sw, notifier, gormDB := setup(t, cfg)
	ctx := context.Background()

	storetest.Table(t, gormDB, "A", 4, 1)
	big := []model.Booking{
		storetest.Booking(t, gormDB, day, 1140, 120, 12, nil, model.BookingPending),
		storetest.Booking(t, gormDB, day, 1140, 120, 12, nil, model.BookingPending),
	}
	for i, b := range big {
		created := time.Date(2026, 10, 1, 10, i, 0, 0, time.UTC)
		require.NoError(t, gormDB.Model(&model.Booking{}).Where("id = ?", b.ID).UpdateColumn("created_at", created).Error)
	}
	small := storetest.Booking(t, gormDB, day, 1140, 120, 2, nil, model.BookingPending)

	report, err := sw.Sweep(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, Report{Date: day, Scanned: 2, StillUnallocated: 2}, report)
	for _, b := range big {
		require.NotNil(t, storetest.Reload(t, gormDB, b).LastSweptAt)
	}
	assert.Nil(t, storetest.Reload(t, gormDB, small).LastSweptAt)

	sw.now = func() time.Time { return time.Date(2026, 10, 16, 12, 5, 0, 0, time.UTC) }
	report, err = sw.Sweep(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Allocated)
	assert.Equal(t, []string{small.ID}, notifier.dispatched())
	assert.True(t, storetest.Reload(t, gormDB, small).Allocated())
}

func TestSweep_RacingLiveAllocationsKeepsTablesExclusive(t *testing.T) {
	sw, _, gormDB := setup(t, config.Default().Backfill)
	ctx := context.Background()

	storetest.Table(t, gormDB, "A", 4, 1)
	storetest.Table(t, gormDB, "B", 4, 2)
	backlog := make([]model.Booking, 6)
	for i := range backlog {
		backlog[i] = storetest.Booking(t, gormDB, day, 1140, 120, 2, nil, model.BookingConfirmed)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sw.Sweep(ctx, day); err != nil {
				errs <- err
			}
		}()
	}
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := &model.Booking{PartySize: 2, Date: day, StartMinute: 1170, DurationMinutes: 120}
			if _, err := sw.alloc.CreateAndAllocate(ctx, b, "web"); err != nil {
				errs <- err
			}
		}()
	}
	for _, b := range backlog[:3] {
		wg.Add(1)
		go func(b model.Booking) {
			defer wg.Done()
			_, err := sw.alloc.Allocate(ctx, allocator.Request{
				BookingID:       b.ID,
				PartySize:       b.PartySize,
				Date:            b.Date,
				StartMinute:     b.StartMinute,
				DurationMinutes: b.DurationMinutes,
			})
			if err != nil {
				errs <- err
			}
		}(b)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.True(t, errors.Is(err, apperr.ErrConcurrencyConflict), "unexpected error: %v", err)
	}

	var stored []model.Booking
	require.NoError(t, gormDB.Find(&stored).Error)
	require.Len(t, stored, 12)

	held := map[string][]model.Booking{}
	for _, b := range stored {
		assert.Equal(t, b.TableID == nil, b.IsUnallocated, "booking %s", b.ID)
		for _, id := range b.Tables() {
			held[id] = append(held[id], b)
		}
	}
	assert.Len(t, held, 2, "both tables end up taken")
	for id, bookings := range held {
		for i := range bookings {
			for j := i + 1; j < len(bookings); j++ {
				x, y := bookings[i], bookings[j]
				overlap := x.StartMinute < y.EndMinute() && y.StartMinute < x.EndMinute()
				assert.False(t, overlap, "table %s holds %s and %s at once", id, x.ID, y.ID)
			}
		}
	}
}

func TestSweep_SkipsCancelledBookings(t *testing.T) {
	sw, notifier, gormDB := setup(t, config.Default().Backfill)

	storetest.Table(t, gormDB, "A", 4, 1)
	storetest.Booking(t, gormDB, day, 1140, 120, 4, nil, model.BookingCancelled)

	report, err := sw.Sweep(context.Background(), day)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Empty(t, notifier.dispatched())
}

func TestSweep_Errors(t *testing.T) {
	sw, _, gormDB := setup(t, config.Default().Backfill)

	_, err := sw.Sweep(context.Background(), "16/10/2026")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	storetest.Booking(t, gormDB, day, 1140, 120, 4, nil, model.BookingPending)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sw.Sweep(ctx, day)
	assert.Error(t, err)
}

func TestSweepUpcoming_CoversLookahead(t *testing.T) {
	cfg := config.Default().Backfill
	cfg.LookaheadDays = 2
	sw, notifier, gormDB := setup(t, cfg)

	storetest.Table(t, gormDB, "A", 4, 1)
	storetest.Booking(t, gormDB, "2026-10-18", 1140, 120, 4, nil, model.BookingPending)
	beyond := storetest.Booking(t, gormDB, "2026-10-19", 1140, 120, 4, nil, model.BookingPending)

	reports := sw.SweepUpcoming(context.Background())
	require.Len(t, reports, 3)
	assert.Equal(t, []string{"2026-10-16", "2026-10-17", "2026-10-18"},
		[]string{reports[0].Date, reports[1].Date, reports[2].Date})
	assert.Equal(t, 1, reports[2].Allocated)
	assert.Len(t, notifier.dispatched(), 1)
	assert.True(t, storetest.Reload(t, gormDB, beyond).IsUnallocated)
}

func TestRun(t *testing.T) {
	cfg := config.Default().Backfill
	cfg.Enabled = true
	cfg.Interval = 20 * time.Millisecond
	sw, notifier, gormDB := setup(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	// Created after the first sweep has likely run; a later tick picks it up.
	time.Sleep(30 * time.Millisecond)
	storetest.Table(t, gormDB, "A", 4, 1)
	b := storetest.Booking(t, gormDB, day, 1140, 120, 4, nil, model.BookingPending)

	require.Eventually(t, func() bool {
		return len(notifier.dispatched()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{b.ID}, notifier.dispatched())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRun_Disabled(t *testing.T) {
	sw, _, _ := setup(t, config.Default().Backfill)

	done := make(chan struct{})
	go func() {
		sw.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a disabled sweeper should return immediately")
	}
}
