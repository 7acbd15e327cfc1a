package repository

import (
	"context"
	"errors"

	"heartlen/internal/models"
)

// ErrNoRecords 受试者没有任何记录
var ErrNoRecords = errors.New("no records found")

// RecordRepository 测量记录仓库
type RecordRepository interface {
	// SaveRecord 保存一次测量批次
	SaveRecord(ctx context.Context, rec *models.Record) error

	// GetSubjectSummary 受试者最近访问时间与历史平均值
	GetSubjectSummary(ctx context.Context, subjectID string) (*models.SubjectSummary, error)

	// ListRecords 按时间倒序列出受试者的记录
	ListRecords(ctx context.Context, subjectID string, limit int) ([]*models.Record, error)
}
