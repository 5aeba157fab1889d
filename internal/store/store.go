package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"table-allocation-backend/internal/apperr"
	"table-allocation-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB
	// Transaction runs fn against a store bound to one database transaction.
	// Calling it on a store that is already transactional opens a savepoint.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	ListActiveTables(ctx context.Context) ([]model.Table, error)
	GetTable(ctx context.Context, id string) (*model.Table, error)
	SoftDeleteTable(ctx context.Context, id string) error
	ListJoinGroups(ctx context.Context) ([]model.JoinGroup, error)
	GetJoinGroup(ctx context.Context, id string) (*model.JoinGroup, error)
	ListSections(ctx context.Context) ([]model.Section, error)

	ListPriorityEntries(ctx context.Context, partySize int, forUpdate bool) ([]model.PriorityEntry, error)
	UpdatePriorityRanks(ctx context.Context, entries []model.PriorityEntry) error
	AppendPriorityEntries(ctx context.Context, entries []model.PriorityEntry) error

	GetBooking(ctx context.Context, id string, forUpdate bool) (*model.Booking, error)
	CreateBooking(ctx context.Context, b *model.Booking) error
	ListBookingsForDate(ctx context.Context, date string) ([]model.Booking, error)
	ListUnallocated(ctx context.Context, date string, limit int) ([]model.Booking, error)
	MarkSwept(ctx context.Context, ids []string, at time.Time) error
	AssignBooking(ctx context.Context, a Assignment) error
	MarkUnallocated(ctx context.Context, bookingID string) error
	UpdateBookingStatus(ctx context.Context, id string, from, to model.BookingStatus) error

	ClaimTables(ctx context.Context, versions map[string]int64) error
	CreateAudit(ctx context.Context, a *model.AllocationAudit) error

	GetGuest(ctx context.Context, id string) (*model.Guest, error)
	FindGuestByPhone(ctx context.Context, phone string) (*model.Guest, error)
	UpsertGuest(ctx context.Context, g *model.Guest) error

	SaveSubscription(ctx context.Context, sub *model.PushSubscription, sectionIDs []string) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	ListSubscriptionsForSection(ctx context.Context, sectionID string) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
	return apperr.Classify("store.Transaction", err)
}

// lock adds FOR UPDATE on dialects that support row locks. SQLite serialises
// writers at BEGIN IMMEDIATE instead.
func (s *gormStore) lock(q *gorm.DB, forUpdate bool) *gorm.DB {
	if forUpdate && s.db.Dialector.Name() == "postgres" {
		return q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func (s *gormStore) ListActiveTables(ctx context.Context) ([]model.Table, error) {
	var tables []model.Table
	err := s.db.WithContext(ctx).
		Where("status = ? AND deleted_at IS NULL", model.TableStatusActive).
		Order("priority_rank, label, id").
		Find(&tables).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active tables: %w", err)
	}
	return tables, nil
}

func (s *gormStore) GetTable(ctx context.Context, id string) (*model.Table, error) {
	var t model.Table
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, apperr.Classify("store.GetTable", err)
	}
	return &t, nil
}

// SoftDeleteTable retires an active table. Its bookings keep referencing it.
func (s *gormStore) SoftDeleteTable(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&model.Table{}).
		Where("id = ? AND status = ?", id, model.TableStatusActive).
		Updates(map[string]interface{}{
			"status":     model.TableStatusDeleted,
			"deleted_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to delete table %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("store.SoftDeleteTable", "active table %s", id)
	}
	return nil
}

// ListJoinGroups returns the non-deleted join groups whose members are all active.
func (s *gormStore) ListJoinGroups(ctx context.Context) ([]model.JoinGroup, error) {
	var groups []model.JoinGroup
	err := s.db.WithContext(ctx).
		Preload("Members").
		Order("name, id").
		Find(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list join groups: %w", err)
	}

	usable := groups[:0]
	for _, g := range groups {
		if g.Usable() {
			usable = append(usable, g)
		}
	}
	return usable, nil
}

func (s *gormStore) GetJoinGroup(ctx context.Context, id string) (*model.JoinGroup, error) {
	var g model.JoinGroup
	if err := s.db.WithContext(ctx).Preload("Members").First(&g, "id = ?", id).Error; err != nil {
		return nil, apperr.Classify("store.GetJoinGroup", err)
	}
	return &g, nil
}

func (s *gormStore) ListSections(ctx context.Context) ([]model.Section, error) {
	var sections []model.Section
	err := s.db.WithContext(ctx).
		Preload("Tables", "status = ?", model.TableStatusActive).
		Order("name").
		Find(&sections).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	return sections, nil
}

func (s *gormStore) ListPriorityEntries(ctx context.Context, partySize int, forUpdate bool) ([]model.PriorityEntry, error) {
	var entries []model.PriorityEntry
	q := s.db.WithContext(ctx).
		Where("party_size = ?", partySize).
		Order("priority_rank, id")
	if err := s.lock(q, forUpdate).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list priorities for party size %d: %w", partySize, err)
	}
	return entries, nil
}

// UpdatePriorityRanks writes each entry's Rank back by id.
func (s *gormStore) UpdatePriorityRanks(ctx context.Context, entries []model.PriorityEntry) error {
	db := s.db.WithContext(ctx)
	for _, e := range entries {
		res := db.Model(&model.PriorityEntry{}).Where("id = ?", e.ID).Update("priority_rank", e.Rank)
		if res.Error != nil {
			return fmt.Errorf("failed to update rank of priority %s: %w", e.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("store.UpdatePriorityRanks", "priority entry %s", e.ID)
		}
	}
	return nil
}

// AppendPriorityEntries inserts entries, skipping any (party size, item) pair that already exists.
func (s *gormStore) AppendPriorityEntries(ctx context.Context, entries []model.PriorityEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "party_size"}, {Name: "item_type"}, {Name: "item_id"}},
		DoNothing: true,
	}).Create(&entries).Error
	if err != nil {
		return fmt.Errorf("batch insert priorities failed: %w", err)
	}
	return nil
}

func (s *gormStore) GetBooking(ctx context.Context, id string, forUpdate bool) (*model.Booking, error) {
	var b model.Booking
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if err := s.lock(q, forUpdate).First(&b).Error; err != nil {
		return nil, apperr.Classify("store.GetBooking", err)
	}
	return &b, nil
}

func (s *gormStore) CreateBooking(ctx context.Context, b *model.Booking) error {
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return apperr.Classify("store.CreateBooking", err)
	}
	return nil
}

// ListBookingsForDate returns every non-cancelled booking on date.
func (s *gormStore) ListBookingsForDate(ctx context.Context, date string) ([]model.Booking, error) {
	var bookings []model.Booking
	err := s.db.WithContext(ctx).
		Where("booking_date = ? AND status <> ?", date, model.BookingCancelled).
		Order("start_minute, id").
		Find(&bookings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings for %s: %w", date, err)
	}
	return bookings, nil
}

// ListUnallocated returns the backlog for date. Bookings the sweeper never
// tried come first, then the ones tried longest ago, each oldest first.
func (s *gormStore) ListUnallocated(ctx context.Context, date string, limit int) ([]model.Booking, error) {
	var bookings []model.Booking
	q := s.db.WithContext(ctx).
		Where("booking_date = ? AND is_unallocated = ? AND status IN ?", date, true, activeStatuses).
		Order("last_swept_at IS NOT NULL, last_swept_at, created_at, id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&bookings).Error; err != nil {
		return nil, fmt.Errorf("failed to list unallocated bookings for %s: %w", date, err)
	}
	return bookings, nil
}

// MarkSwept stamps ids with the time of a sweep attempt. updated_at is left alone.
func (s *gormStore) MarkSwept(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&model.Booking{}).
		Where("id IN ?", ids).
		UpdateColumn("last_swept_at", at).Error
	if err != nil {
		return apperr.Classify("store.MarkSwept", err)
	}
	return nil
}

// AssignBooking stores the allocation and clears the unallocated flag in one write.
func (s *gormStore) AssignBooking(ctx context.Context, a Assignment) error {
	res := s.db.WithContext(ctx).Model(&model.Booking{}).Where("id = ?", a.BookingID).Updates(map[string]interface{}{
		"table_id":         a.TableID,
		"join_group_id":    a.JoinGroupID,
		"held_table_ids":   model.StringList(a.HeldTableIDs),
		"is_unallocated":   false,
		"party_size":       a.PartySize,
		"booking_date":     a.Date,
		"start_minute":     a.StartMinute,
		"duration_minutes": a.DurationMinutes,
	})
	if res.Error != nil {
		return apperr.Classify("store.AssignBooking", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("store.AssignBooking", "booking %s", a.BookingID)
	}
	return nil
}

// MarkUnallocated clears every resource reference and flags the booking for backfill.
func (s *gormStore) MarkUnallocated(ctx context.Context, bookingID string) error {
	res := s.db.WithContext(ctx).Model(&model.Booking{}).Where("id = ?", bookingID).Updates(map[string]interface{}{
		"table_id":       nil,
		"join_group_id":  nil,
		"held_table_ids": nil,
		"is_unallocated": true,
	})
	if res.Error != nil {
		return apperr.Classify("store.MarkUnallocated", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("store.MarkUnallocated", "booking %s", bookingID)
	}
	return nil
}

// UpdateBookingStatus moves a booking from one status to the next, failing
// with a concurrency conflict if another writer changed it first.
func (s *gormStore) UpdateBookingStatus(ctx context.Context, id string, from, to model.BookingStatus) error {
	res := s.db.WithContext(ctx).Model(&model.Booking{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return apperr.Classify("store.UpdateBookingStatus", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict("store.UpdateBookingStatus", "booking %s is no longer %s", id, from)
	}
	return nil
}

// ClaimTables bumps each table's version if it still equals the observed one.
// Tables are claimed in id order so competing claimers lock rows in the same order.
func (s *gormStore) ClaimTables(ctx context.Context, versions map[string]int64) error {
	ids := make([]string, 0, len(versions))
	for id := range versions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	db := s.db.WithContext(ctx)
	for _, id := range ids {
		res := db.Model(&model.Table{}).
			Where("id = ? AND version = ? AND status = ?", id, versions[id], model.TableStatusActive).
			UpdateColumn("version", gorm.Expr("version + ?", 1))
		if res.Error != nil {
			return apperr.Classify("store.ClaimTables", res.Error)
		}
		if res.RowsAffected != 1 {
			return apperr.Conflict("store.ClaimTables", "table %s changed since version %d", id, versions[id])
		}
	}
	return nil
}

func (s *gormStore) CreateAudit(ctx context.Context, a *model.AllocationAudit) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to write allocation audit for booking %s: %w", a.BookingID, err)
	}
	return nil
}

func (s *gormStore) GetGuest(ctx context.Context, id string) (*model.Guest, error) {
	var g model.Guest
	if err := s.db.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		return nil, apperr.Classify("store.GetGuest", err)
	}
	return &g, nil
}

func (s *gormStore) FindGuestByPhone(ctx context.Context, phone string) (*model.Guest, error) {
	var g model.Guest
	if err := s.db.WithContext(ctx).First(&g, "phone = ?", phone).Error; err != nil {
		return nil, apperr.Classify("store.FindGuestByPhone", err)
	}
	return &g, nil
}

// UpsertGuest records a visit for g. An existing guest is matched by id, then
// by phone; otherwise a new guest is created. g is refreshed with the stored row.
func (s *gormStore) UpsertGuest(ctx context.Context, g *model.Guest) error {
	db := s.db.WithContext(ctx)

	var existing model.Guest
	var err error
	switch {
	case g.ID != "":
		err = db.First(&existing, "id = ?", g.ID).Error
	case g.Phone != nil && *g.Phone != "":
		err = db.First(&existing, "phone = ?", *g.Phone).Error
	default:
		err = gorm.ErrRecordNotFound
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		if g.ID != "" {
			return apperr.NotFound("store.UpsertGuest", "guest %s", g.ID)
		}
		g.VisitCount = 1
		if err := db.Create(g).Error; err != nil {
			return apperr.Classify("store.UpsertGuest", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up guest: %w", err)
	}

	updates := map[string]interface{}{"visit_count": gorm.Expr("visit_count + ?", 1)}
	if g.Name != "" && g.Name != existing.Name {
		updates["name"] = g.Name
	}
	if g.Email != "" && g.Email != existing.Email {
		updates["email"] = g.Email
	}
	if err := db.Model(&model.Guest{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update guest %s: %w", existing.ID, err)
	}
	return db.First(g, "id = ?", existing.ID).Error
}

// SaveSubscription creates or replaces a push subscription and its section filter.
func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription, sectionIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "device_label"}),
		}).Create(sub).Error; err != nil {
			return err
		}

		var sections []*model.Section
		if len(sectionIDs) > 0 {
			if err := tx.Where("id IN ?", sectionIDs).Find(&sections).Error; err != nil {
				return err
			}
		}
		return tx.Model(sub).Association("Sections").Replace(&sections)
	})
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).Preload("Sections").First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		return nil, apperr.Classify("store.GetSubscription", err)
	}
	return &sub, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := model.PushSubscription{Endpoint: endpoint}
		if err := tx.Model(&sub).Association("Sections").Clear(); err != nil {
			return err
		}
		return tx.Delete(&sub).Error
	})
}

// ListSubscriptionsForSection returns devices watching sectionID plus devices
// with no section filter at all.
func (s *gormStore) ListSubscriptionsForSection(ctx context.Context, sectionID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).
		Where("endpoint IN (?) OR endpoint NOT IN (?)",
			s.db.Table("subscription_section_mapping").Select("push_subscription_endpoint").Where("section_id = ?", sectionID),
			s.db.Table("subscription_section_mapping").Select("push_subscription_endpoint"),
		).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for section %s: %w", sectionID, err)
	}
	return subs, nil
}
