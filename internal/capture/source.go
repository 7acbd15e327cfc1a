// Package capture 提供帧采集源：合成源与 MQTT 帧源。
//
// 所有实现遵循相同约定：
//   - Start 立即返回只读帧通道，通道在 Stop 之前不会关闭
//   - 消费方落后时丢帧而不是阻塞
//   - Stop 幂等
package capture

import (
	"context"
	"errors"

	"heartlen/internal/models"
)

var (
	// ErrAlreadyStarted 采集源已启动
	ErrAlreadyStarted = errors.New("capture source already started")
	// ErrInvalidFrameRate 帧率必须为正
	ErrInvalidFrameRate = errors.New("frame rate must be positive")
)

// Source 帧采集源
type Source interface {
	Start(ctx context.Context) (<-chan models.Frame, error)
	Stop() error
	// FrameRate 名义帧率，用于换算样本间隔
	FrameRate() float64
}

// Stats 采集统计
type Stats struct {
	FramesDelivered uint64 `json:"frames_delivered"`
	FramesDropped   uint64 `json:"frames_dropped"`
}
