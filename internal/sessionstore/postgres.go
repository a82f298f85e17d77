package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/loremaster/internal/session"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type sessionRow struct {
	SessionID    string         `gorm:"column:session_id;primaryKey"`
	State        datatypes.JSON `gorm:"column:state;type:jsonb;not null"`
	LastActivity time.Time      `gorm:"column:last_activity;index;not null"`
}

func (sessionRow) TableName() string { return "loremaster_sessions" }

// PostgresStore persists sessions in Postgres through gorm.
type PostgresStore struct {
	opts Options
	db   *gorm.DB
	now  func() time.Time
}

// NewPostgresStore connects to dsn and migrates the sessions table.
func NewPostgresStore(ctx context.Context, dsn string, opts Options) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", ErrInvalidConfig)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("migrating sessions table: %w", err)
	}

	return &PostgresStore{opts: opts, db: db, now: time.Now}, nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*session.State, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}

	var row sessionRow
	err := s.db.WithContext(ctx).First(&row, "session_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.opts.fresh(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	if s.opts.expired(row.LastActivity, s.now()) {
		if err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
		return s.opts.fresh(), nil
	}
	return decodeRecord(Record{SessionID: id, State: []byte(row.State)})
}

func (s *PostgresStore) Save(ctx context.Context, id string, st *session.State) error {
	rec, err := newRecord(id, st, s.now())
	if err != nil {
		return err
	}
	row := sessionRow{SessionID: rec.SessionID, State: datatypes.JSON(rec.State), LastActivity: rec.LastActivity}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "last_activity"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("saving session %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&sessionRow{}, "session_id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
