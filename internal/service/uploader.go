package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"heartlen/internal/models"
	"heartlen/internal/pipeline"

	"go.uber.org/zap"
)

// RecordSaver 生成并保存一条记录
type RecordSaver interface {
	SaveNow(ctx context.Context) (*models.Record, error)
}

// Uploader 采样模式：按固定间隔自动保存当前会话。
// 上一次保存未完成时跳过本次触发。
type Uploader struct {
	interval time.Duration
	saver    RecordSaver
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup

	busy    atomic.Bool
	uploads atomic.Uint64
	skipped atomic.Uint64
}

// NewUploader 创建定时上传器
func NewUploader(interval time.Duration, saver RecordSaver, logger *zap.Logger) *Uploader {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Uploader{
		interval: interval,
		saver:    saver,
		logger:   logger,
	}
}

// Enabled 是否处于采样模式
func (u *Uploader) Enabled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cancel != nil
}

// Start 开启采样模式（已开启时无操作）
func (u *Uploader) Start(ctx context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	u.cancel = cancel
	u.running.Add(1)
	go u.loop(ctx)

	u.logger.Info("Sampling started", zap.Duration("interval", u.interval))
}

// Stop 关闭采样模式并等待进行中的上传结束
func (u *Uploader) Stop() {
	u.mu.Lock()
	cancel := u.cancel
	u.cancel = nil
	u.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	u.running.Wait()
	u.logger.Info("Sampling stopped",
		zap.Uint64("uploads", u.uploads.Load()),
		zap.Uint64("skipped", u.skipped.Load()),
	)
}

func (u *Uploader) loop(ctx context.Context) {
	defer u.running.Done()

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.trigger(ctx)
		}
	}
}

// trigger 启动一次后台上传；上一次仍在进行时跳过
func (u *Uploader) trigger(ctx context.Context) bool {
	if !u.busy.CompareAndSwap(false, true) {
		u.skipped.Add(1)
		u.logger.Debug("Previous upload still running, skipping tick")
		return false
	}
	u.running.Add(1)
	go func() {
		defer u.running.Done()
		defer u.busy.Store(false)
		u.upload(ctx)
	}()
	return true
}

func (u *Uploader) upload(ctx context.Context) {
	rec, err := u.saver.SaveNow(ctx)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoSamples) || errors.Is(err, context.Canceled) {
			u.logger.Debug("Sampling upload skipped", zap.Error(err))
			return
		}
		u.logger.Error("Sampling upload failed", zap.Error(err))
		return
	}
	u.uploads.Add(1)
	u.logger.Debug("Sampling upload saved",
		zap.String("record_id", rec.ID),
		zap.String("subject_id", rec.SubjectID),
	)
}

// Uploads 成功上传次数
func (u *Uploader) Uploads() uint64 {
	return u.uploads.Load()
}

// Skipped 因重叠被跳过的次数
func (u *Uploader) Skipped() uint64 {
	return u.skipped.Load()
}
