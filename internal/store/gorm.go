package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DoyleJ11/lobby-sync/internal/engine"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/multierr"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the gorm-backed store used for both Postgres and SQLite.
type DB struct {
	db *gorm.DB
}

// OpenPostgres parses the DSN with pgx and runs gorm on a pgx-backed
// database/sql pool.
func OpenPostgres(dsn string) (*DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	sqlDB := stdlib.OpenDB(*cfg)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormConfig())
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("open postgres: %w", err), sqlDB.Close())
	}
	return finishOpen(gdb)
}

// OpenSQLite opens a SQLite database file. ":memory:" gives a private
// in-memory database.
func OpenSQLite(path string) (*DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	gdb, err := gorm.Open(sqlite.Open(path+sqliteParams(path)), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if strings.Contains(path, ":memory:") {
		// Every pooled connection would otherwise see its own empty database.
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return finishOpen(gdb)
}

func sqliteParams(path string) string {
	if strings.Contains(path, "?") {
		return ""
	}
	return "?_foreign_keys=on&_busy_timeout=5000"
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
}

func finishOpen(gdb *gorm.DB) (*DB, error) {
	s := &DB{db: gdb}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, multierr.Append(fmt.Errorf("ping db: %w", err), sqlDB.Close())
	}
	if err := s.Migrate(); err != nil {
		return nil, multierr.Append(fmt.Errorf("run migrations: %w", err), sqlDB.Close())
	}
	return s, nil
}

func (s *DB) Migrate() error {
	return s.db.AutoMigrate(&LobbyResult{}, &SeatChoice{})
}

// SaveResults writes the close-time snapshot. Saving the same lobby twice
// keeps the first copy.
func (s *DB) SaveResults(ctx context.Context, res *engine.Results) error {
	if res == nil || res.LobbyID == "" {
		return fmt.Errorf("results need a lobby id")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&LobbyResult{}).Where("lobby_id = ?", res.LobbyID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		row := toRow(res, time.Now().UTC())
		return tx.Create(&row).Error
	})
}

func (s *DB) LoadResults(ctx context.Context, lobbyID string) (*engine.Results, error) {
	return s.loadOne(ctx, lobbyID, s.db.Where("lobby_id = ?", lobbyID))
}

// LoadResultsByCode picks the newest row when a code was reused.
func (s *DB) LoadResultsByCode(ctx context.Context, code string) (*engine.Results, error) {
	return s.loadOne(ctx, code, s.db.Where("code = ?", code).Order("id desc"))
}

func (s *DB) loadOne(ctx context.Context, key string, q *gorm.DB) (*engine.Results, error) {
	var row LobbyResult
	err := q.WithContext(ctx).
		Preload("Seats", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return fromRow(row), nil
}

func (s *DB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
