package repository

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"heartlen/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresRecordRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewPostgresRecordRepository(db, zap.NewNop())
	return db, mock, repo
}

func TestEnsureSchema(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS ppg_records`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecord_SanitizesNaN(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &models.Record{
		ID:        "5f0c6d1e-9a51-4d3c-8d7e-1b2a3c4d5e6f",
		SessionID: "session-1",
		HeartRate: models.NotComputableHeartRate(),
		HRV:       models.NotComputableHRV(),
		Quality:   models.UnassessedQuality(),
		Samples:   []float64{1.5, math.NaN(), 2},
		Timestamp: ts,
	}

	mock.ExpectExec(`INSERT INTO ppg_records`).
		WithArgs(rec.ID, "unknown", "session-1", 0.0, 0.0, 0.0, 0.0, "--", 0.0, []byte(`[1.5,0,2]`), ts).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.SaveRecord(context.Background(), rec))
	assert.Equal(t, "unknown", rec.SubjectID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecord_DBError(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO ppg_records`).
		WillReturnError(errors.New("connection reset"))

	err := repo.SaveRecord(context.Background(), &models.Record{ID: "r1", SubjectID: "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert record")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSubjectSummary_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	last := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"count", "max", "avg_hr", "avg_hrv"}).
		AddRow(int64(3), last, 71.5, 42.25)

	mock.ExpectQuery(`(?s)AVG\(NULLIF\(heart_rate, 0\)\).*AVG\(NULLIF\(hrv_sdnn, 0\)\)`).
		WithArgs("alice").
		WillReturnRows(rows)

	s, err := repo.GetSubjectSummary(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", s.SubjectID)
	assert.True(t, last.Equal(s.LastAccess))
	assert.Equal(t, 71.5, s.AvgHeartRate)
	assert.Equal(t, 42.25, s.AvgHRV)
	assert.Equal(t, int64(3), s.RecordCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSubjectSummary_NoRecords(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"count", "max", "avg_hr", "avg_hrv"}).
		AddRow(int64(0), nil, 0.0, 0.0)
	mock.ExpectQuery(`SELECT`).
		WithArgs("bob").
		WillReturnRows(rows)

	s, err := repo.GetSubjectSummary(context.Background(), "bob")
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrNoRecords)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecords(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	ts := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"record_id", "subject_id", "session_id",
		"heart_rate", "heart_rate_confidence", "hrv_sdnn", "hrv_confidence",
		"quality_class", "quality_confidence", "ppg_data", "recorded_at",
	}).AddRow(
		"r1", "alice", "s1", 70.0, 95.0, 40.0, 60.0, "excellent", 88.0, []byte(`[1,2,3]`), ts,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs("alice", 20).
		WillReturnRows(rows)

	recs, err := repo.ListRecords(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "r1", recs[0].ID)
	assert.Equal(t, 70.0, recs[0].HeartRate.BPM)
	assert.Equal(t, "excellent", recs[0].Quality.Class)
	assert.Equal(t, []float64{1, 2, 3}, recs[0].Samples)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryRecordRepository(t *testing.T) {
	repo := NewMemoryRecordRepository()
	ctx := context.Background()

	_, err := repo.GetSubjectSummary(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoRecords)

	t1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	require.NoError(t, repo.SaveRecord(ctx, &models.Record{
		ID: "a", SubjectID: "alice", Timestamp: t1,
		HeartRate: models.HeartRateResult{BPM: 60}, HRV: models.HRVResult{SDNN: 30},
	}))
	require.NoError(t, repo.SaveRecord(ctx, &models.Record{
		ID: "b", SubjectID: "alice", Timestamp: t2,
		HeartRate: models.HeartRateResult{BPM: 80}, HRV: models.NotComputableHRV(),
	}))

	s, err := repo.GetSubjectSummary(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, t2, s.LastAccess)
	assert.Equal(t, 70.0, s.AvgHeartRate)
	// 不可计算的 HRV 保存为 0，不拉低平均值
	assert.Equal(t, 30.0, s.AvgHRV)
	assert.Equal(t, int64(2), s.RecordCount)

	recs, err := repo.ListRecords(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].ID)
}
