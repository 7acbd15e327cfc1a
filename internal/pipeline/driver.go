package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"heartlen/internal/capture"
	"heartlen/internal/models"
	"heartlen/internal/quality"
	"heartlen/internal/signal"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyRecording 已在录制中
	ErrAlreadyRecording = errors.New("pipeline is already recording")
	// ErrNoSamples 当前没有可持久化的样本
	ErrNoSamples = errors.New("no samples recorded")
)

// State 驱动器状态
type State int32

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	if s == StateRecording {
		return "recording"
	}
	return "idle"
}

// Options 处理参数
type Options struct {
	BufferCapacity  int           // 0 表示无界
	ROIFraction     float64       // 中心采样区域占比，0 或 1 表示整帧
	QualityEvery    int           // 每 N 个合格帧评估一次质量
	QualityInterval time.Duration // 或距上次评估超过该间隔
	Mode            signal.CombinationMode
}

// Listener 每帧处理后的回调，在消费 goroutine 中调用。
// 回调不得阻塞，也不得调用 Driver 的 Start/Stop/State。
type Listener func(models.Vitals)

// Driver 录制状态机：Idle ⇄ Recording
type Driver struct {
	source     capture.Source
	classifier *quality.Classifier
	opts       Options
	logger     *zap.Logger

	mode atomic.Value // signal.CombinationMode

	mu        sync.Mutex
	state     State
	ended     atomic.Bool // 采集源已关闭帧通道
	cancel    context.CancelFunc
	done      chan struct{}
	listeners []Listener

	resultsMu sync.RWMutex
	current   models.Vitals
	snapshot  signal.Snapshot
}

// NewDriver 创建驱动器
func NewDriver(source capture.Source, classifier *quality.Classifier, opts Options, logger *zap.Logger) *Driver {
	d := &Driver{
		source:     source,
		classifier: classifier,
		opts:       opts,
		logger:     logger,
	}
	mode := opts.Mode
	if mode == "" {
		mode = signal.ModeDefault
	}
	d.mode.Store(mode)
	d.current = d.idleVitals()
	return d
}

// OnUpdate 注册每帧回调，需在 Start 之前调用
func (d *Driver) OnUpdate(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Mode 当前组合方式
func (d *Driver) Mode() signal.CombinationMode {
	return d.mode.Load().(signal.CombinationMode)
}

// SetCombinationMode 切换组合方式，下一个样本生效
func (d *Driver) SetCombinationMode(mode signal.CombinationMode) error {
	if _, err := signal.ParseCombinationMode(string(mode)); err != nil {
		return err
	}
	d.mode.Store(mode)
	d.logger.Info("Combination mode changed", zap.String("mode", mode.String()))
	return nil
}

// State 当前状态，采集源自行结束后视为 Idle
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateRecording && d.ended.Load() {
		return StateIdle
	}
	return d.state
}

// Start 开始录制：重置缓冲、获取采集源并启动消费 goroutine。
// 录制的结束只由 Stop 控制，ctx 的取消不会终止录制。
func (d *Driver) Start(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateRecording {
		if !d.ended.Load() {
			return "", ErrAlreadyRecording
		}
		// 上一个会话的采集源已结束，先释放
		if err := d.stopLocked(); err != nil {
			d.logger.Warn("Failed to release ended session", zap.Error(err))
		}
	}
	d.ended.Store(false)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	frames, err := d.source.Start(runCtx)
	if err != nil {
		cancel()
		return "", fmt.Errorf("failed to start capture source: %w", err)
	}

	session := NewSession(uuid.New().String(), d.source.FrameRate(), d.opts, d.classifier, d.logger)
	listeners := append([]Listener(nil), d.listeners...)

	d.resultsMu.Lock()
	d.current = d.idleVitals()
	d.current.SessionID = session.ID()
	d.current.Recording = true
	d.snapshot = signal.Snapshot{}
	d.resultsMu.Unlock()

	d.state = StateRecording
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.consume(runCtx, frames, session, listeners, d.done)

	d.logger.Info("Recording started",
		zap.String("session_id", session.ID()),
		zap.Float64("fps", d.source.FrameRate()),
		zap.Int("buffer_capacity", d.opts.BufferCapacity),
		zap.String("mode", d.Mode().String()),
	)
	return session.ID(), nil
}

func (d *Driver) consume(ctx context.Context, frames <-chan models.Frame, session *Session, listeners []Listener, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				d.endSession(session)
				return
			}
			// Stop 与新帧同时就绪时不再处理
			if ctx.Err() != nil {
				return
			}

			v, snap := session.Process(frame, d.Mode())

			d.resultsMu.Lock()
			d.current = v
			d.snapshot = snap
			d.resultsMu.Unlock()

			for _, l := range listeners {
				l(v)
			}
		}
	}
}

// endSession 采集源关闭帧通道：会话不再更新，已采集的样本仍可 Finalize
func (d *Driver) endSession(session *Session) {
	d.ended.Store(true)

	d.resultsMu.Lock()
	d.current.Recording = false
	d.current.UpdatedAt = time.Now()
	samples := d.snapshot.Len()
	d.resultsMu.Unlock()

	d.logger.Error("Capture source closed frame channel, recording ended",
		zap.String("session_id", session.ID()),
		zap.Int("samples", samples),
	)
}

// Ended 当前会话是否因采集源结束而停止
func (d *Driver) Ended() bool {
	return d.ended.Load()
}

// Stop 结束录制，释放采集源并丢弃会话数据（幂等）
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *Driver) stopLocked() error {
	if d.state == StateIdle {
		return nil
	}

	d.cancel()
	<-d.done
	err := d.source.Stop()

	d.resultsMu.Lock()
	sessionID := d.current.SessionID
	samples := d.snapshot.Len()
	d.current = d.idleVitals()
	d.snapshot = signal.Snapshot{}
	d.resultsMu.Unlock()

	d.state = StateIdle
	d.cancel = nil
	d.done = nil
	d.ended.Store(false)

	d.logger.Info("Recording stopped",
		zap.String("session_id", sessionID),
		zap.Int("samples", samples),
	)
	if err != nil {
		return fmt.Errorf("failed to stop capture source: %w", err)
	}
	return nil
}

// Current 最新的生命体征快照
func (d *Driver) Current() models.Vitals {
	d.resultsMu.RLock()
	v := d.current
	d.resultsMu.RUnlock()

	if !v.Recording {
		v.CombinationMode = d.Mode().String()
	}
	return v
}

// Samples 当前会话的样本副本
func (d *Driver) Samples() []float64 {
	d.resultsMu.RLock()
	defer d.resultsMu.RUnlock()
	out := make([]float64, d.snapshot.Len())
	copy(out, d.snapshot.Values)
	return out
}

// Finalize 生成持久化批次 {samples, HR, HRV, subjectID, timestamp}
func (d *Driver) Finalize(subjectID string) (*models.Record, error) {
	d.resultsMu.RLock()
	defer d.resultsMu.RUnlock()

	if d.current.SessionID == "" || d.snapshot.Len() == 0 {
		return nil, ErrNoSamples
	}

	samples := make([]float64, d.snapshot.Len())
	copy(samples, d.snapshot.Values)

	return &models.Record{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		SessionID: d.current.SessionID,
		HeartRate: d.current.HeartRate,
		HRV:       d.current.HRV,
		Quality:   d.current.Quality,
		Samples:   samples,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (d *Driver) idleVitals() models.Vitals {
	return models.Vitals{
		CombinationMode: d.Mode().String(),
		HeartRate:       models.NotComputableHeartRate(),
		HRV:             models.NotComputableHRV(),
		Quality:         models.UnassessedQuality(),
		UpdatedAt:       time.Now(),
	}
}
