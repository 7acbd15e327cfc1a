package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"heartlen/internal/models"

	"go.uber.org/zap"
)

const recordsSchema = `
	CREATE TABLE IF NOT EXISTS ppg_records (
		record_id             UUID PRIMARY KEY,
		subject_id            TEXT NOT NULL,
		session_id            TEXT NOT NULL DEFAULT '',
		heart_rate            DOUBLE PRECISION NOT NULL DEFAULT 0,
		heart_rate_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		hrv_sdnn              DOUBLE PRECISION NOT NULL DEFAULT 0,
		hrv_confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
		quality_class         TEXT NOT NULL DEFAULT '--',
		quality_confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
		ppg_data              JSONB NOT NULL,
		recorded_at           TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ppg_records_subject_time ON ppg_records (subject_id, recorded_at DESC);
`

// PostgresRecordRepository 基于 PostgreSQL 的记录仓库
type PostgresRecordRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresRecordRepository 创建记录仓库
func NewPostgresRecordRepository(db *sql.DB, logger *zap.Logger) *PostgresRecordRepository {
	return &PostgresRecordRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 建表（幂等）
func (r *PostgresRecordRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, recordsSchema); err != nil {
		return fmt.Errorf("failed to create ppg_records schema: %w", err)
	}
	return nil
}

// SaveRecord 保存记录，NaN 指标按 0 存储
func (r *PostgresRecordRepository) SaveRecord(ctx context.Context, rec *models.Record) error {
	rec.Sanitize()

	ppgData, err := json.Marshal(rec.Samples)
	if err != nil {
		return fmt.Errorf("failed to marshal ppg data: %w", err)
	}

	query := `
		INSERT INTO ppg_records (
			record_id, subject_id, session_id,
			heart_rate, heart_rate_confidence,
			hrv_sdnn, hrv_confidence,
			quality_class, quality_confidence,
			ppg_data, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID,
		rec.SubjectID,
		rec.SessionID,
		rec.HeartRate.BPM,
		rec.HeartRate.Confidence,
		rec.HRV.SDNN,
		rec.HRV.Confidence,
		rec.Quality.Class,
		rec.Quality.Confidence,
		ppgData,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	r.logger.Debug("Record saved",
		zap.String("record_id", rec.ID),
		zap.String("subject_id", rec.SubjectID),
		zap.Int("samples", len(rec.Samples)),
	)
	return nil
}

// GetSubjectSummary 受试者最近访问时间与历史平均值
// 保存时不可计算的指标记为 0，不计入平均
func (r *PostgresRecordRepository) GetSubjectSummary(ctx context.Context, subjectID string) (*models.SubjectSummary, error) {
	query := `
		SELECT
			COUNT(*),
			MAX(recorded_at),
			COALESCE(AVG(NULLIF(heart_rate, 0)), 0),
			COALESCE(AVG(NULLIF(hrv_sdnn, 0)), 0)
		FROM ppg_records
		WHERE subject_id = $1
	`

	var (
		count      int64
		lastAccess sql.NullTime
		avgHR      float64
		avgHRV     float64
	)
	err := r.db.QueryRowContext(ctx, query, subjectID).Scan(&count, &lastAccess, &avgHR, &avgHRV)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRecords
		}
		return nil, fmt.Errorf("failed to query subject summary: %w", err)
	}
	if count == 0 || !lastAccess.Valid {
		return nil, ErrNoRecords
	}

	return &models.SubjectSummary{
		SubjectID:    subjectID,
		LastAccess:   lastAccess.Time,
		AvgHeartRate: avgHR,
		AvgHRV:       avgHRV,
		RecordCount:  count,
	}, nil
}

// ListRecords 按时间倒序列出记录
func (r *PostgresRecordRepository) ListRecords(ctx context.Context, subjectID string, limit int) ([]*models.Record, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT
			record_id, subject_id, session_id,
			heart_rate, heart_rate_confidence,
			hrv_sdnn, hrv_confidence,
			quality_class, quality_confidence,
			ppg_data, recorded_at
		FROM ppg_records
		WHERE subject_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec := &models.Record{}
		var ppgData []byte
		if err := rows.Scan(
			&rec.ID,
			&rec.SubjectID,
			&rec.SessionID,
			&rec.HeartRate.BPM,
			&rec.HeartRate.Confidence,
			&rec.HRV.SDNN,
			&rec.HRV.Confidence,
			&rec.Quality.Class,
			&rec.Quality.Confidence,
			&ppgData,
			&rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := json.Unmarshal(ppgData, &rec.Samples); err != nil {
			r.logger.Warn("Failed to decode ppg data", zap.String("record_id", rec.ID), zap.Error(err))
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return out, nil
}
