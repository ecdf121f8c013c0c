package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hmchain/core/types"
)

// ErrDSNRequired is returned by Open when no database location is given.
var ErrDSNRequired = errors.New("indexer: dsn must be configured")

const maxQueryLimit = 500

// MarketEvent is one committed market event row.
type MarketEvent struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Height     uint64    `gorm:"index:idx_market_events_position,priority:1"`
	Seq        int       `gorm:"index:idx_market_events_position,priority:2"`
	CallHash   string    `gorm:"size:64;index"`
	Type       string    `gorm:"size:64;index"`
	OrderID    *uint64   `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

func (MarketEvent) TableName() string { return "market_events" }

func (e *MarketEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Event is the query-side view of a stored row.
type Event struct {
	Height     uint64            `json:"height"`
	CallHash   string            `json:"callHash"`
	Type       string            `json:"type"`
	OrderID    *uint64           `json:"orderId,omitempty"`
	Attributes map[string]string `json:"attributes"`
}

// Store persists market events in SQLite through gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at dsn and migrates the schema.
// ":memory:" gives a private in-memory database.
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrDSNRequired
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open indexer database: %w", err)
	}
	if dsn == ":memory:" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&MarketEvent{}); err != nil {
		return nil, fmt.Errorf("migrate indexer schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record stores the events of one committed call in a single transaction.
func (s *Store) Record(height uint64, callHash string, evts []types.Event) error {
	if s == nil || len(evts) == 0 {
		return nil
	}
	rows := make([]MarketEvent, 0, len(evts))
	for i, evt := range evts {
		attrs, err := json.Marshal(evt.Attributes)
		if err != nil {
			return fmt.Errorf("encode attributes: %w", err)
		}
		row := MarketEvent{
			Height:     height,
			Seq:        i,
			CallHash:   callHash,
			Type:       evt.Type,
			Attributes: string(attrs),
		}
		if raw, ok := evt.Attributes["orderId"]; ok {
			if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
				row.OrderID = &id
			}
		}
		rows = append(rows, row)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
}

// EventsForOrder returns the history of one order, oldest first.
func (s *Store) EventsForOrder(ctx context.Context, orderID uint64, limit int) ([]Event, error) {
	var rows []MarketEvent
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("height ASC").Order("seq ASC").
		Limit(clampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	return toEvents(rows)
}

// Recent returns the newest events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	var rows []MarketEvent
	err := s.db.WithContext(ctx).
		Order("height DESC").Order("seq DESC").
		Limit(clampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	return toEvents(rows)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

func toEvents(rows []MarketEvent) ([]Event, error) {
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		attrs := map[string]string{}
		if row.Attributes != "" {
			if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
				return nil, fmt.Errorf("decode attributes of %s: %w", row.ID, err)
			}
		}
		out = append(out, Event{
			Height:     row.Height,
			CallHash:   row.CallHash,
			Type:       row.Type,
			OrderID:    row.OrderID,
			Attributes: attrs,
		})
	}
	return out, nil
}
