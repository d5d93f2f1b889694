package rewardsd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"poolrewards/core/events"
	"poolrewards/core/types"
)

// JournalEntry is one persisted registry event.
type JournalEntry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Sequence   int64     `gorm:"uniqueIndex" json:"sequence"`
	Type       string    `gorm:"index" json:"type"`
	Pool       string    `gorm:"index" json:"pool"`
	Attributes string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Event decodes the stored attributes.
func (e JournalEntry) Event() (*types.Event, error) {
	out := &types.Event{Type: e.Type, Attributes: map[string]string{}}
	if e.Attributes == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(e.Attributes), &out.Attributes); err != nil {
		return nil, fmt.Errorf("decode journal entry %s: %w", e.ID, err)
	}
	return out, nil
}

// JournalFilter narrows List results. Zero values match everything.
type JournalFilter struct {
	Pool  string
	Type  string
	Limit int
}

// Journal persists registry events in SQL. It implements events.Emitter.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq int64
}

// OpenJournal opens the sqlite database at dsn and migrates the schema.
func OpenJournal(dsn string, log *slog.Logger) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return NewJournal(db, log)
}

// NewJournal wraps an existing gorm handle.
func NewJournal(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&JournalEntry{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	var last JournalEntry
	res := db.Order("sequence desc").Limit(1).Find(&last)
	if res.Error != nil {
		return nil, fmt.Errorf("load journal head: %w", res.Error)
	}
	return &Journal{db: db, logger: log, now: time.Now, seq: last.Sequence}, nil
}

// Emit implements events.Emitter. Persistence failures are logged.
func (j *Journal) Emit(e events.Event) {
	if _, err := j.Append(context.Background(), e); err != nil {
		j.logger.Error("journal append failed", slog.String("type", e.EventType()), slog.Any("error", err))
	}
}

// Append stores e and returns the new entry.
func (j *Journal) Append(ctx context.Context, e events.Event) (*JournalEntry, error) {
	payload := events.ToPayload(e)
	if payload == nil {
		return nil, fmt.Errorf("nil event")
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	entry := &JournalEntry{
		ID:         uuid.New(),
		Sequence:   j.seq + 1,
		Type:       payload.Type,
		Pool:       payload.Attribute("pool"),
		Attributes: string(attrs),
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	j.seq = entry.Sequence
	return entry, nil
}

// List returns matching entries in emission order.
func (j *Journal) List(ctx context.Context, filter JournalFilter) ([]JournalEntry, error) {
	query := j.db.WithContext(ctx).Model(&JournalEntry{}).Order("sequence asc")
	if filter.Pool != "" {
		query = query.Where("pool = ?", filter.Pool)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var entries []JournalEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
