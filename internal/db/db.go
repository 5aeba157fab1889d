package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"table-allocation-backend/config"
	"table-allocation-backend/internal/model"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	logMode := logger.Warn
	if cfg.LogSQL {
		logMode = logger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logMode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Info("running database migrations")
	if err := Migrate(db); err != nil {
		return nil, err
	}

	if cfg.EnableExclusionConstraint {
		log.Info("exclusion constraint enabled, applying PostgreSQL-specific DDL")
		if err := applyPostgresDDL(db); err != nil {
			log.Warn("failed to apply booking exclusion constraint, continuing without it", zap.Error(err))
		}
	}

	log.Info("database initialization complete")
	return db, nil
}

// Migrate creates or updates every table the engine uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Section{},
		&model.Table{},
		&model.JoinGroup{},
		&model.PriorityEntry{},
		&model.Guest{},
		&model.Booking{},
		&model.AllocationAudit{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

// bookingOverlapDDL makes PostgreSQL reject two live bookings whose windows
// overlap on the same table. Join-group bookings are also guarded by the
// allocator's version claims on every member table.
var bookingOverlapDDL = []string{
	"CREATE EXTENSION IF NOT EXISTS btree_gist;",

	"ALTER TABLE bookings " +
		"ADD CONSTRAINT bookings_window_valid CHECK (duration_minutes > 0 AND start_minute >= 0);",

	"ALTER TABLE bookings " +
		"ADD CONSTRAINT bookings_no_overlap EXCLUDE USING GIST (" +
		"table_id WITH =, booking_date WITH =, " +
		"int4range(start_minute, start_minute + duration_minutes, '[)') WITH &&" +
		") WHERE (status <> 'cancelled' AND table_id IS NOT NULL);",

	"CREATE INDEX IF NOT EXISTS idx_bookings_unallocated_created ON bookings (booking_date, created_at) " +
		"WHERE is_unallocated;",
}

func applyPostgresDDL(db *gorm.DB) error {
	for _, ddl := range bookingOverlapDDL {
		if err := db.Exec(ddl).Error; err != nil {
			if isDuplicateObject(err) {
				continue
			}
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}

// isDuplicateObject reports whether a DDL statement failed only because its
// constraint already exists from an earlier start.
func isDuplicateObject(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.DuplicateObject || pgErr.Code == pgerrcode.DuplicateTable
}
