package models

import "time"

// PixelFormat 帧像素格式
type PixelFormat string

const (
	PixelFormatRGB  PixelFormat = "rgb"  // 3 字节/像素
	PixelFormatRGBA PixelFormat = "rgba" // 4 字节/像素
)

// BytesPerPixel 每像素字节数，未知格式返回 0
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatRGB, "":
		return 3
	case PixelFormatRGBA:
		return 4
	default:
		return 0
	}
}

// Frame 采集源输出的一帧图像
// Data 为行优先、无填充的像素数据
type Frame struct {
	Seq       uint64      `msgpack:"seq" json:"seq"`
	Timestamp time.Time   `msgpack:"ts" json:"timestamp"`
	Width     int         `msgpack:"w" json:"width"`
	Height    int         `msgpack:"h" json:"height"`
	Format    PixelFormat `msgpack:"fmt" json:"format"`
	Data      []byte      `msgpack:"data" json:"-"`
	SourceID  string      `msgpack:"src" json:"source_id"`
}
