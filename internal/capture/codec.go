package capture

import (
	"errors"
	"fmt"

	"heartlen/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrInvalidFrame 帧尺寸或格式不合法
var ErrInvalidFrame = errors.New("invalid frame")

// EncodeFrame 帧编码为 msgpack
func EncodeFrame(f models.Frame) ([]byte, error) {
	b, err := msgpack.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return b, nil
}

// DecodeFrame 从 msgpack 解码帧
func DecodeFrame(b []byte) (models.Frame, error) {
	var f models.Frame
	if err := msgpack.Unmarshal(b, &f); err != nil {
		return models.Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return models.Frame{}, fmt.Errorf("%w: size %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	if f.Format.BytesPerPixel() == 0 {
		return models.Frame{}, fmt.Errorf("%w: format %q", ErrInvalidFrame, f.Format)
	}
	return f, nil
}
