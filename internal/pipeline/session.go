package pipeline

import (
	"errors"
	"image"
	"time"

	"heartlen/internal/features"
	"heartlen/internal/models"
	"heartlen/internal/quality"
	"heartlen/internal/signal"
	"heartlen/internal/vitals"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Session 单次录制的处理状态，只由一个 goroutine 驱动
type Session struct {
	id         string
	roiFrac    float64
	buffer     *signal.Buffer
	estimator  *vitals.Estimator
	classifier *quality.Classifier
	gate       *rate.Sometimes
	logger     *zap.Logger

	hr        models.HeartRateResult
	hrv       models.HRVResult
	quality   models.QualityResult
	processed uint64
	skipped   uint64
}

// NewSession 创建录制会话
func NewSession(id string, fps float64, opts Options, classifier *quality.Classifier, logger *zap.Logger) *Session {
	every, interval := opts.QualityEvery, opts.QualityInterval
	if every <= 0 && interval <= 0 {
		every = 1
	}

	return &Session{
		id:         id,
		roiFrac:    opts.ROIFraction,
		buffer:     signal.NewBuffer(opts.BufferCapacity),
		estimator:  vitals.NewEstimator(vitals.FrameRateToSecondsPerSample(fps)),
		classifier: classifier,
		gate:       &rate.Sometimes{Every: every, Interval: interval},
		logger:     logger,
		hr:         models.NotComputableHeartRate(),
		hrv:        models.NotComputableHRV(),
		quality:    models.UnassessedQuality(),
	}
}

// ID 会话ID
func (s *Session) ID() string {
	return s.id
}

// Process 处理一帧：采样、合成、写入缓冲并更新 HR/HRV，样本足够时按节流策略评估质量。
// 采样失败时跳过本帧，缓冲不变。
func (s *Session) Process(frame models.Frame, mode signal.CombinationMode) (models.Vitals, signal.Snapshot) {
	var roi image.Rectangle
	if s.roiFrac > 0 && s.roiFrac < 1 {
		roi = signal.CenterROI(frame.Width, frame.Height, s.roiFrac)
	}

	means, err := signal.SampleFrame(frame, roi)
	if err != nil {
		s.skipped++
		s.logger.Debug("Frame skipped", zap.Uint64("seq", frame.Seq), zap.Error(err))
		snap := s.buffer.Snapshot()
		return s.vitals(mode, snap, frame.Timestamp), snap
	}

	s.buffer.Append(signal.Combine(mode, means))
	s.processed++

	snap := s.buffer.Snapshot()
	s.hr, s.hrv = s.estimator.Estimate(signal.ValleyIndices(snap.Values))

	if snap.Len() >= features.MinWindow {
		s.gate.Do(func() {
			s.quality = s.assess(snap.Values)
		})
	}

	return s.vitals(mode, snap, frame.Timestamp), snap
}

func (s *Session) assess(window []float64) models.QualityResult {
	fv, err := features.Extract(window)
	if errors.Is(err, features.ErrInsufficientVariance) {
		return models.UnassessedQuality()
	}
	return s.classifier.Classify(fv)
}

func (s *Session) vitals(mode signal.CombinationMode, snap signal.Snapshot, ts time.Time) models.Vitals {
	if ts.IsZero() {
		ts = time.Now()
	}
	var last float64
	if n := snap.Len(); n > 0 {
		last = snap.Values[n-1]
	}
	return models.Vitals{
		SessionID:       s.id,
		Recording:       true,
		CombinationMode: mode.String(),
		HeartRate:       s.hr,
		HRV:             s.hrv,
		Quality:         s.quality,
		SampleCount:     snap.Len(),
		LastSample:      last,
		FramesProcessed: s.processed,
		FramesSkipped:   s.skipped,
		UpdatedAt:       ts,
	}
}
