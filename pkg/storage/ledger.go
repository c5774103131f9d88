package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stablezap/stablezap/pkg/models"
)

// TransactionRow is one executed intent
type TransactionRow struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement"`
	IntentID   string          `gorm:"type:varchar(64);not null;uniqueIndex"`
	UserID     string          `gorm:"type:varchar(128);not null;index"`
	Kind       string          `gorm:"type:varchar(16);not null"`
	Target     string          `gorm:"type:varchar(64);not null"`
	Amount     decimal.Decimal `gorm:"type:decimal(38,18);not null"`
	Path       string          `gorm:"type:varchar(16);not null"`
	Wallet     string          `gorm:"type:varchar(42)"`
	Success    bool            `gorm:"not null;index"`
	TxHash     string          `gorm:"type:varchar(66)"`
	UserOpHash string          `gorm:"type:varchar(66)"`
	GasUsed    uint64
	Error      string `gorm:"type:text"`
	CreatedAt  time.Time
}

// TableName overrides the gorm default
func (TransactionRow) TableName() string { return "transactions" }

// PositionRow is one change of a protocol position
type PositionRow struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	UserID    string          `gorm:"type:varchar(128);not null;index:idx_user_protocol"`
	Protocol  string          `gorm:"type:varchar(32);not null;index:idx_user_protocol"`
	Wallet    string          `gorm:"type:varchar(42);not null"`
	Delta     decimal.Decimal `gorm:"type:decimal(38,18);not null"`
	TxHash    string          `gorm:"type:varchar(66);not null"`
	CreatedAt time.Time
}

// TableName overrides the gorm default
func (PositionRow) TableName() string { return "positions" }

// ConnectPostgres opens a pooled gorm connection
func ConnectPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// GormLedger appends transactions and positions to Postgres. It is never
// read back for routing decisions.
type GormLedger struct {
	db *gorm.DB
}

// NewGormLedger creates a ledger on db
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// Migrate creates or updates the ledger tables
func (l *GormLedger) Migrate() error {
	return l.db.AutoMigrate(&TransactionRow{}, &PositionRow{})
}

// SaveTransaction appends the record of an executed intent
func (l *GormLedger) SaveTransaction(ctx context.Context, rec models.TransactionRecord) error {
	row := transactionRow(rec)
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save transaction %s: %w", rec.IntentID, err)
	}
	return nil
}

// SavePosition appends a position change
func (l *GormLedger) SavePosition(ctx context.Context, rec models.PositionRecord) error {
	row := positionRow(rec)
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save position for %s: %w", rec.UserID, err)
	}
	return nil
}

// Ping checks the connection for readiness probes
func (l *GormLedger) Ping(ctx context.Context) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func transactionRow(rec models.TransactionRecord) TransactionRow {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return TransactionRow{
		IntentID:   rec.IntentID,
		UserID:     rec.UserID,
		Kind:       string(rec.Kind),
		Target:     rec.Target,
		Amount:     rec.Amount,
		Path:       rec.Path,
		Wallet:     rec.Wallet,
		Success:    rec.Success,
		TxHash:     rec.TxHash,
		UserOpHash: rec.UserOpHash,
		GasUsed:    rec.GasUsed,
		Error:      rec.Error,
		CreatedAt:  createdAt,
	}
}

func positionRow(rec models.PositionRecord) PositionRow {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return PositionRow{
		UserID:    rec.UserID,
		Protocol:  rec.Protocol,
		Wallet:    rec.Wallet,
		Delta:     rec.Delta,
		TxHash:    rec.TxHash,
		CreatedAt: createdAt,
	}
}
