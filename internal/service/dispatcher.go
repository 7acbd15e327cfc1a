package service

import (
	"context"
	"sync/atomic"

	"heartlen/internal/models"

	"go.uber.org/zap"
)

// Sink 生命体征下游（缓存、MQTT、websocket）
type Sink interface {
	Deliver(ctx context.Context, v models.Vitals) error
}

// SinkFunc 函数适配 Sink
type SinkFunc func(ctx context.Context, v models.Vitals) error

func (f SinkFunc) Deliver(ctx context.Context, v models.Vitals) error {
	return f(ctx, v)
}

type namedSink struct {
	name string
	sink Sink
}

// Dispatcher 把管道回调转成有界队列，在独立 goroutine 中扇出到各下游。
// 队列满时丢弃最新一条，管道消费 goroutine 不会被下游阻塞。
type Dispatcher struct {
	queue   chan models.Vitals
	subject func() string
	sinks   []namedSink
	logger  *zap.Logger

	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// NewDispatcher 创建分发器
func NewDispatcher(queueSize int, subject func() string, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		queue:   make(chan models.Vitals, queueSize),
		subject: subject,
		logger:  logger,
	}
}

// AddSink 注册下游，需在 Run 之前调用
func (d *Dispatcher) AddSink(name string, s Sink) {
	d.sinks = append(d.sinks, namedSink{name: name, sink: s})
}

// Enqueue 非阻塞入队，可直接作为 pipeline.Listener
func (d *Dispatcher) Enqueue(v models.Vitals) {
	select {
	case d.queue <- v:
	default:
		if n := d.dropped.Add(1); n%100 == 1 {
			d.logger.Warn("Vitals queue full, dropping update",
				zap.String("session_id", v.SessionID),
				zap.Uint64("dropped", n),
			)
		}
	}
}

// Run 消费队列直到 ctx 取消
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-d.queue:
			d.dispatch(ctx, v)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, v models.Vitals) {
	if v.SubjectID == "" && d.subject != nil {
		v.SubjectID = d.subject()
	}
	for _, s := range d.sinks {
		if err := s.sink.Deliver(ctx, v); err != nil {
			d.logger.Debug("Failed to deliver vitals",
				zap.String("sink", s.name),
				zap.String("session_id", v.SessionID),
				zap.Error(err),
			)
		}
	}
	d.delivered.Add(1)
}

// Dropped 因队列满被丢弃的更新数
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Delivered 已分发的更新数
func (d *Dispatcher) Delivered() uint64 {
	return d.delivered.Load()
}
