package usagelog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corelink-ai/provider-gateway/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/valyala/bytebufferpool"
	"gorm.io/gorm"
)

// Sink receives one finished-call record. Implementations must tolerate
// being called from many goroutines.
type Sink interface {
	Write(ctx context.Context, record *models.UsageRecord) error
}

// DBSink persists records through gorm. Pointing it at a clickhouse-backed
// DB turns the table into an analytics feed; sqlite/postgres work the same.
type DBSink struct {
	db *gorm.DB
}

func NewDBSink(db *gorm.DB) *DBSink {
	return &DBSink{db: db}
}

func (s *DBSink) AutoMigrate() error {
	return s.db.AutoMigrate(&models.UsageRecord{})
}

func (s *DBSink) Write(ctx context.Context, record *models.UsageRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to persist usage record: %w", err)
	}
	return nil
}

// LogSink emits records as JSON log lines. Encoding goes through a pooled
// buffer since every call produces one record.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) Write(_ context.Context, record *models.UsageRecord) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if err := json.NewEncoder(buf).Encode(record); err != nil {
		return fmt.Errorf("failed to encode usage record: %w", err)
	}
	fiberlog.Infof("usage: %s", buf.B)
	return nil
}
