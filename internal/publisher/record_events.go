package publisher

import (
	"context"
	"fmt"

	commonredis "heartlen/common/redis"
	"heartlen/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RecordEventPublisher 将记录保存事件写入 Redis Streams
type RecordEventPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRecordEventPublisher 创建事件发布器
func NewRecordEventPublisher(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *RecordEventPublisher {
	return &RecordEventPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// PublishRecordSaved 发布记录保存事件
func (p *RecordEventPublisher) PublishRecordSaved(ctx context.Context, rec *models.Record) error {
	event := models.RecordSavedEvent{
		RecordID:    rec.ID,
		SubjectID:   rec.SubjectID,
		SessionID:   rec.SessionID,
		HeartRate:   rec.HeartRate.BPM,
		SDNN:        rec.HRV.SDNN,
		SampleCount: len(rec.Samples),
		Timestamp:   rec.Timestamp.Unix(),
	}

	id, err := commonredis.PublishJSONToStream(ctx, p.client, p.stream, p.maxLen, event)
	if err != nil {
		return fmt.Errorf("failed to publish record event: %w", err)
	}

	p.logger.Debug("Published record event",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("record_id", rec.ID),
	)
	return nil
}
