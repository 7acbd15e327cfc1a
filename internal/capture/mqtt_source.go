package capture

import (
	"context"
	"sync"
	"sync/atomic"

	mqttclient "heartlen/common/mqtt"
	"heartlen/internal/models"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅能力（common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttclient.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTSource 订阅 msgpack 编码的帧
type MQTTSource struct {
	sub        Subscriber
	topic      string
	qos        byte
	fps        float64
	bufferSize int
	logger     *zap.Logger

	mu      sync.Mutex
	out     chan models.Frame
	running bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
	invalid   atomic.Uint64
}

// NewMQTTSource 创建 MQTT 帧源，fps 为发布端的名义帧率
func NewMQTTSource(sub Subscriber, topic string, qos byte, fps float64, bufferSize int, logger *zap.Logger) (*MQTTSource, error) {
	if fps <= 0 {
		return nil, ErrInvalidFrameRate
	}
	if bufferSize <= 0 {
		bufferSize = 8
	}
	return &MQTTSource{
		sub:        sub,
		topic:      topic,
		qos:        qos,
		fps:        fps,
		bufferSize: bufferSize,
		logger:     logger,
	}, nil
}

// FrameRate 名义帧率
func (s *MQTTSource) FrameRate() float64 {
	return s.fps
}

// Start 订阅帧主题
func (s *MQTTSource) Start(ctx context.Context) (<-chan models.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, ErrAlreadyStarted
	}

	out := make(chan models.Frame, s.bufferSize)
	if err := s.sub.Subscribe(s.topic, s.qos, s.handle); err != nil {
		return nil, err
	}
	s.out = out
	s.running = true

	s.logger.Info("MQTT capture source started",
		zap.String("topic", s.topic),
		zap.Float64("fps", s.fps),
	)
	return out, nil
}

func (s *MQTTSource) handle(topic string, payload []byte) error {
	frame, err := DecodeFrame(payload)
	if err != nil {
		s.invalid.Add(1)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	select {
	case s.out <- frame:
		s.delivered.Add(1)
	default:
		s.dropped.Add(1)
	}
	return nil
}

// Stop 取消订阅并关闭帧通道（幂等）
func (s *MQTTSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.out)

	if err := s.sub.Unsubscribe(s.topic); err != nil {
		s.logger.Warn("Failed to unsubscribe frame topic", zap.String("topic", s.topic), zap.Error(err))
		return err
	}

	s.logger.Info("MQTT capture source stopped",
		zap.String("topic", s.topic),
		zap.Uint64("frames_delivered", s.delivered.Load()),
		zap.Uint64("frames_dropped", s.dropped.Load()),
		zap.Uint64("frames_invalid", s.invalid.Load()),
	)
	return nil
}

// Stats 采集统计
func (s *MQTTSource) Stats() Stats {
	return Stats{
		FramesDelivered: s.delivered.Load(),
		FramesDropped:   s.dropped.Load(),
	}
}
