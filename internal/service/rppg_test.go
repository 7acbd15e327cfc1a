package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"heartlen/internal/config"
	httpapi "heartlen/internal/http"
	"heartlen/internal/models"
	"heartlen/internal/pipeline"
	"heartlen/internal/publisher"
	"heartlen/internal/repository"
	"heartlen/internal/signal"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*RPPGService, *repository.MemoryRecordRepository) {
	t.Helper()

	cfg := config.Default()
	cfg.Capture.FPS = 200
	cfg.Capture.Width = 16
	cfg.Capture.Height = 16
	cfg.Sampling.Interval = 20 * time.Millisecond

	logger := zap.NewNop()
	source, err := newSource(cfg, nil, logger)
	require.NoError(t, err)

	repo := repository.NewMemoryRecordRepository()
	s, err := newRPPGService(cfg, logger, source, repo)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.StopRecording(context.Background()) })
	return s, repo
}

func waitForSamples(t *testing.T, s *RPPGService) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Current().SampleCount > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewSource(t *testing.T) {
	cfg := config.Default()

	_, err := newSource(cfg, nil, zap.NewNop())
	assert.NoError(t, err)

	cfg.Capture.Source = "mqtt"
	_, err = newSource(cfg, nil, zap.NewNop())
	assert.Error(t, err)

	cfg.Capture.Source = "webcam"
	_, err = newSource(cfg, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestRPPGService_SaveNow(t *testing.T) {
	s, repo := newTestService(t)
	ctx := context.Background()

	_, err := s.SaveNow(ctx)
	assert.ErrorIs(t, err, pipeline.ErrNoSamples)

	_, err = s.StartRecording(ctx)
	require.NoError(t, err)
	waitForSamples(t, s)

	rec, err := s.SaveNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSubjectID, rec.SubjectID)
	assert.NotEmpty(t, rec.Samples)

	s.SetSubject("alice")
	_, err = s.SaveNow(ctx)
	require.NoError(t, err)

	summary, err := repo.GetSubjectSummary(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.RecordCount)

	summary, err = s.SubjectSummary(ctx, models.DefaultSubjectID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.RecordCount)

	require.NoError(t, s.StopRecording(ctx))
	_, err = s.SaveNow(ctx)
	assert.ErrorIs(t, err, pipeline.ErrNoSamples)
}

func TestRPPGService_PublishesRecordEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s, _ := newTestService(t)
	s.events = publisher.NewRecordEventPublisher(client, s.config.Cache.RecordStream, 100, zap.NewNop())
	ctx := context.Background()

	_, err := s.StartRecording(ctx)
	require.NoError(t, err)
	waitForSamples(t, s)

	_, err = s.SaveNow(ctx)
	require.NoError(t, err)

	n, err := client.XLen(ctx, s.config.Cache.RecordStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRPPGService_Sampling(t *testing.T) {
	s, repo := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.StartSampling(), httpapi.ErrSamplingRequiresRecording)

	_, err := s.StartRecording(ctx)
	require.NoError(t, err)
	waitForSamples(t, s)

	require.NoError(t, s.StartSampling())
	assert.True(t, s.SamplingEnabled())

	require.Eventually(t, func() bool {
		summary, err := repo.GetSubjectSummary(ctx, models.DefaultSubjectID)
		return err == nil && summary.RecordCount >= 2
	}, 2*time.Second, 10*time.Millisecond)

	// 停止录制同时关闭采样
	require.NoError(t, s.StopRecording(ctx))
	assert.False(t, s.SamplingEnabled())
}

func TestRPPGService_CombinationAndSubject(t *testing.T) {
	s, _ := newTestService(t)

	assert.Equal(t, signal.ModeDefault, s.CombinationMode())
	require.NoError(t, s.SetCombinationMode(signal.ModeGreenOnly))
	assert.Equal(t, signal.ModeGreenOnly, s.CombinationMode())
	assert.Error(t, s.SetCombinationMode(signal.CombinationMode("infrared")))
	assert.Equal(t, signal.ModeGreenOnly, s.CombinationMode())

	assert.Equal(t, models.DefaultSubjectID, s.Subject())
	s.SetSubject("carol")
	assert.Equal(t, "carol", s.Current().SubjectID)
	s.SetSubject("")
	assert.Equal(t, models.DefaultSubjectID, s.Subject())
	assert.False(t, s.ModelReady())
}

func TestRPPGService_HTTP(t *testing.T) {
	s, _ := newTestService(t)
	h := s.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/recording/start", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"code":2000`)
	assert.Equal(t, pipeline.StateRecording, s.driver.State())

	waitForSamples(t, s)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/vitals", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"recording":true`)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/recording/stop", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pipeline.StateIdle, s.driver.State())
}
