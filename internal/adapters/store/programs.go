// Package store persists execution history to MySQL.
package store

import (
	"context"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/dkeye/CodeRoom/internal/domain"
)

const defaultHistoryLimit = 50

func InitMySQL(dsn string) (*gorm.DB, error) {
	return gorm.Open(mysql.Open(dsn), &gorm.Config{})
}

type ProgramStore struct {
	db *gorm.DB
}

func NewProgramStore(db *gorm.DB) (*ProgramStore, error) {
	if err := db.AutoMigrate(&domain.Program{}); err != nil {
		return nil, err
	}
	return &ProgramStore{db: db}, nil
}

func (s *ProgramStore) Save(ctx context.Context, p *domain.Program) error {
	return s.db.WithContext(ctx).Create(p).Error
}

// ByRoom returns the most recent executions first.
func (s *ProgramStore) ByRoom(ctx context.Context, room domain.RoomName, limit int) ([]domain.Program, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	var out []domain.Program
	err := s.db.WithContext(ctx).
		Where("room = ?", string(room)).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// NopStore stands in when no MySQL DSN is configured.
type NopStore struct{}

func (NopStore) Save(context.Context, *domain.Program) error { return nil }

func (NopStore) ByRoom(context.Context, domain.RoomName, int) ([]domain.Program, error) {
	return nil, nil
}
