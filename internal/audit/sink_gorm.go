package audit

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"

	"marketmaker/pkg/exception"
)

// Record is the table row of an important event.
type Record struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Market    string    `gorm:"size:32;index"`
	Kind      string    `gorm:"size:16;index"`
	Details   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

func (Record) TableName() string {
	return "important_events"
}

// GormSink stores events in a SQL table.
type GormSink struct {
	db     *gorm.DB
	market string
}

// NewGormSink migrates the events table and returns a sink writing to it.
func NewGormSink(db *gorm.DB, market string) (*GormSink, error) {
	if db == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "gorm db")
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, errors.Wrap(err, "migrate important events table")
	}

	return &GormSink{db: db, market: market}, nil
}

func (s *GormSink) Name() string { return "gorm" }

func (s *GormSink) Handle(ctx context.Context, ev Event) error {
	row := Record{
		Market:    s.market,
		Kind:      ev.Kind.String(),
		Details:   ev.Details,
		CreatedAt: ev.Time,
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrapf(err, "insert %s event", ev.Kind)
	}

	return nil
}

// Close is a no-op; the connection belongs to the caller.
func (s *GormSink) Close() error { return nil }
