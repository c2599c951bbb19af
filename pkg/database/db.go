package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arnavshah/shift-optimizer/pkg/config"
	"github.com/arnavshah/shift-optimizer/pkg/models"
	"github.com/arnavshah/shift-optimizer/pkg/retry"
)

// APIKey represents the api_keys table
type APIKey struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Key        string     `gorm:"unique;not null" json:"-"`
	Name       string     `gorm:"not null" json:"name"`
	KeyPreview string     `json:"key_preview"`
	RateLimit  int        `gorm:"default:10000" json:"rate_limit"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsed   *time.Time `json:"last_used"`
}

// APIUsage represents the api_usage table
type APIUsage struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	KeyID          uint   `gorm:"uniqueIndex:idx_key_date;not null" json:"key_id"`
	Date           string `gorm:"uniqueIndex:idx_key_date;not null" json:"date"`
	RequestCount   int    `gorm:"default:0" json:"request_count"`
	TotalShifts    int    `gorm:"default:0" json:"total_shifts"`
	TotalEmployees int    `gorm:"default:0" json:"total_employees"`
}

// MasterUser represents the master_users table
type MasterUser struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"unique;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Open connects to postgres when a DSN is configured, sqlite otherwise.
// Connection attempts are retried with backoff.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*gorm.DB, error) {
		if cfg.UsePostgres() {
			gormCfg.PrepareStmt = false
			return gorm.Open(postgres.New(postgres.Config{
				DSN:                  cfg.URL,
				PreferSimpleProtocol: true,
			}), gormCfg)
		}
		return gorm.Open(sqlite.Open(cfg.DataPath), gormCfg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	driver := "sqlite"
	if cfg.UsePostgres() {
		driver = "postgres"
	}
	logger.Info("database ready", zap.String("driver", driver))
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&APIKey{}, &APIUsage{}, &MasterUser{},
		&models.Role{}, &models.Employee{}, &models.ShiftTemplate{}, &models.TemplateRole{},
		&models.WeeklySchedule{}, &models.Shift{}, &models.TimeOffRequest{}, &models.EmployeePreference{},
		&models.ShiftAssignment{}, &models.SystemConstraint{}, &models.OptimizationConfig{},
		&models.SchedulingRun{}, &models.SchedulingSolution{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
