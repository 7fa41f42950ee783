package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/schedule"
)

// scheduleRow is the schedules table. The full schedule lives in Data; the other
// columns exist for querying.
type scheduleRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	ReportConfigID string `gorm:"index;size:128;not null"`
	Enabled        bool   `gorm:"not null"`
	NextRunMs      *int64 `gorm:"index"`
	Data           string `gorm:"type:text;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (scheduleRow) TableName() string {
	return "schedules"
}

// SQLStore keeps schedules in a SQLite database through gorm
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore opens (and migrates) the database at dbPath
func NewSQLStore(dbPath string) (*SQLStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	// SQLite allows one writer; a single connection serializes claims
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&scheduleRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func nextRunMs(next *time.Time) *int64 {
	if next == nil {
		return nil
	}
	ms := next.UnixMilli()
	return &ms
}

func toRow(sch *schedule.Schedule) (*scheduleRow, error) {
	data, err := json.Marshal(sch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schedule: %w", err)
	}
	return &scheduleRow{
		ID:             sch.ID,
		ReportConfigID: sch.ReportConfigID,
		Enabled:        sch.Enabled,
		NextRunMs:      nextRunMs(sch.NextRun),
		Data:           string(data),
		CreatedAt:      sch.CreatedAt,
		UpdatedAt:      sch.UpdatedAt,
	}, nil
}

func fromRows(rows []scheduleRow) ([]*schedule.Schedule, error) {
	out := make([]*schedule.Schedule, 0, len(rows))
	for _, row := range rows {
		sch, err := decodeSchedule(row.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	sortByCreation(out)
	return out, nil
}

// Save inserts or replaces a schedule
func (s *SQLStore) Save(ctx context.Context, sch *schedule.Schedule) error {
	row, err := toRow(sch)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

// FindByID loads a schedule
func (s *SQLStore) FindByID(ctx context.Context, id string) (*schedule.Schedule, error) {
	var row scheduleRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, schedule.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return decodeSchedule(row.Data)
}

// Delete removes a schedule
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&scheduleRow{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return schedule.ErrNotFound
	}
	return nil
}

// FindDue returns enabled schedules whose next run is at or before now
func (s *SQLStore) FindDue(ctx context.Context, now time.Time) ([]*schedule.Schedule, error) {
	var rows []scheduleRow
	err := s.db.WithContext(ctx).
		Where("enabled = ? AND next_run_ms IS NOT NULL AND next_run_ms <= ?", true, now.UnixMilli()).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}
	return fromRows(rows)
}

// FindByReportConfig returns the schedules of one report configuration, oldest first
func (s *SQLStore) FindByReportConfig(ctx context.Context, reportConfigID string) ([]*schedule.Schedule, error) {
	var rows []scheduleRow
	if err := s.db.WithContext(ctx).Where("report_config_id = ?", reportConfigID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list report config schedules: %w", err)
	}
	return fromRows(rows)
}

// List returns every schedule, oldest first
func (s *SQLStore) List(ctx context.Context) ([]*schedule.Schedule, error) {
	var rows []scheduleRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return fromRows(rows)
}

// Claim updates the row only while its next_run_ms still equals the expected run
func (s *SQLStore) Claim(ctx context.Context, fired *schedule.Schedule, expectedNextRun time.Time) error {
	row, err := toRow(fired)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Model(&scheduleRow{}).
		Where("id = ? AND enabled = ? AND next_run_ms = ?", fired.ID, true, expectedNextRun.UnixMilli()).
		Updates(map[string]interface{}{
			"enabled":     row.Enabled,
			"next_run_ms": row.NextRunMs,
			"data":        row.Data,
			"updated_at":  row.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to claim schedule: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&scheduleRow{}).Where("id = ?", fired.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check schedule: %w", err)
	}
	if count == 0 {
		return schedule.ErrNotFound
	}
	return schedule.ErrClaimConflict
}

var _ schedule.Store = (*SQLStore)(nil)
