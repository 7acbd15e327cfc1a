package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"heartlen/internal/models"

	"go.uber.org/zap"
)

// SyntheticConfig 合成源配置
type SyntheticConfig struct {
	Width      int
	Height     int
	FPS        float64
	HeartRate  float64 // bpm
	Noise      float64
	Amplitude  float64 // 像素调制幅度
	BufferSize int
}

// SyntheticSource 生成带脉搏调制的肤色帧
type SyntheticSource struct {
	cfg    SyntheticConfig
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewSyntheticSource 创建合成源
func NewSyntheticSource(cfg SyntheticConfig, logger *zap.Logger) (*SyntheticSource, error) {
	if cfg.FPS <= 0 {
		return nil, ErrInvalidFrameRate
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid synthetic frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 6
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 8
	}
	return &SyntheticSource{cfg: cfg, logger: logger}, nil
}

// FrameRate 名义帧率
func (s *SyntheticSource) FrameRate() float64 {
	return s.cfg.FPS
}

// Start 启动帧生成
func (s *SyntheticSource) Start(ctx context.Context) (<-chan models.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan models.Frame, s.cfg.BufferSize)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx, out, s.done)

	s.logger.Info("Synthetic capture source started",
		zap.Float64("fps", s.cfg.FPS),
		zap.Float64("heart_rate", s.cfg.HeartRate),
		zap.Int("width", s.cfg.Width),
		zap.Int("height", s.cfg.Height),
	)
	return out, nil
}

func (s *SyntheticSource) run(ctx context.Context, out chan<- models.Frame, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	wave := NewPulseWave(s.cfg.FPS, s.cfg.HeartRate, s.cfg.Noise)
	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.cfg.FPS))
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			frame := RenderSkinFrame(s.cfg.Width, s.cfg.Height, wave.Next(), s.cfg.Amplitude)
			frame.Seq = seq
			frame.Timestamp = now
			frame.SourceID = "synthetic"
			seq++

			// 非阻塞发送，消费方落后时丢帧
			select {
			case out <- frame:
				s.delivered.Add(1)
			default:
				s.dropped.Add(1)
			}
		}
	}
}

// Stop 停止帧生成（幂等）
func (s *SyntheticSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.logger.Info("Synthetic capture source stopped",
		zap.Uint64("frames_delivered", s.delivered.Load()),
		zap.Uint64("frames_dropped", s.dropped.Load()),
	)
	return nil
}

// Stats 采集统计
func (s *SyntheticSource) Stats() Stats {
	return Stats{
		FramesDelivered: s.delivered.Load(),
		FramesDropped:   s.dropped.Load(),
	}
}

// RenderSkinFrame 生成一帧肤色 RGB 图像，pulse 调制各通道
// 红色通道随脉搏增强，绿色和蓝色通道随血容量吸收减弱。
// 像素间使用有序抖动，区域均值可以分辨小于 1 个灰度级的变化。
func RenderSkinFrame(width, height int, pulse, amplitude float64) models.Frame {
	r := 170 + amplitude*pulse
	g := 120 - 1.5*amplitude*pulse
	b := 100 - 0.5*amplitude*pulse

	data := make([]byte, width*height*3)
	for i := 0; i < width*height; i++ {
		d := (float64(i%ditherLevels) + 0.5) / ditherLevels
		data[3*i] = clampByte(r + d)
		data[3*i+1] = clampByte(g + d)
		data[3*i+2] = clampByte(b + d)
	}
	return models.Frame{
		Width:  width,
		Height: height,
		Format: models.PixelFormatRGB,
		Data:   data,
	}
}

const ditherLevels = 64

func clampByte(v float64) byte {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v)
}
