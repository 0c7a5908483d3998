package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stablefactory/core/events"
	"stablefactory/observability"
)

// DefaultLimit bounds Recent when the caller passes no limit.
const DefaultLimit = 100

// MaxLimit caps a single Recent query.
const MaxLimit = 1000

// Record is a persisted factory event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Channel    string    `gorm:"size:64;index" json:"channel,omitempty"`
	Attributes string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// TableName pins the audit table name.
func (Record) TableName() string { return "factory_events" }

// Decode returns the stored attribute map.
func (r Record) Decode() (map[string]string, error) {
	out := make(map[string]string)
	if strings.TrimSpace(r.Attributes) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Store appends committed factory events to a SQL table.
type Store struct {
	db     *gorm.DB
	now    func() time.Time
	logger *slog.Logger
}

// Dialector selects postgres for postgres URLs and keyword DSNs, sqlite
// otherwise.
func Dialector(dsn string) gorm.Dialector {
	trimmed := strings.TrimSpace(dsn)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=") {
		return postgres.Open(trimmed)
	}
	return sqlite.Open(trimmed)
}

// Open connects to dsn and migrates the audit schema.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("audit: dsn required")
	}
	db, err := gorm.Open(Dialector(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("audit: database required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, now: time.Now, logger: log.With("component", "audit")}, nil
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(clock func() time.Time) {
	if s == nil || clock == nil {
		return
	}
	s.now = clock
}

// Emit implements events.Emitter. Write failures are logged and counted but
// never surface to the engine, whose transaction already committed.
func (s *Store) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	if err := s.Append(context.Background(), evt); err != nil {
		observability.Events().RecordDrop("audit")
		s.logger.Warn("audit append failed", "type", evt.EventType(), "error", err)
	}
}

// Append persists one event.
func (s *Store) Append(ctx context.Context, evt events.Event) error {
	renderable, ok := evt.(events.Renderable)
	if !ok {
		return fmt.Errorf("audit: event %s has no rendered form", evt.EventType())
	}
	rendered := renderable.Event()
	if rendered == nil {
		return fmt.Errorf("audit: event %s rendered empty", evt.EventType())
	}
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return fmt.Errorf("audit: encode attributes: %w", err)
	}
	record := Record{
		ID:         uuid.New(),
		Type:       rendered.Type,
		Channel:    rendered.Attributes["channel"],
		Attributes: string(attrs),
		CreatedAt:  s.now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

// Query filters Recent.
type Query struct {
	Type    string
	Channel string
	Limit   int
}

// Recent returns the newest records first.
func (s *Store) Recent(ctx context.Context, q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	tx := s.db.WithContext(ctx).Model(&Record{})
	if t := strings.TrimSpace(q.Type); t != "" {
		tx = tx.Where("type = ?", t)
	}
	if c := strings.TrimSpace(q.Channel); c != "" {
		tx = tx.Where("channel = ?", c)
	}
	var records []Record
	if err := tx.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Close releases the underlying connection pool.
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
