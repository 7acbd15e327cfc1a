package signal

import (
	"errors"
	"fmt"
	"image"

	"heartlen/internal/models"
)

var (
	// ErrEmptyRegion 裁剪后的采样区域没有像素
	ErrEmptyRegion = errors.New("sampling region is empty")
	// ErrShortFrame 帧数据长度小于宽×高×每像素字节数
	ErrShortFrame = errors.New("frame data shorter than declared dimensions")
	// ErrUnsupportedFormat 不支持的像素格式
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
)

// ChannelMeans 采样区域内各通道均值，取值 [0,255]
type ChannelMeans struct {
	R float64
	G float64
	B float64
}

// SampleFrame 计算 roi 区域内 R/G/B 三通道均值
// roi 会被裁剪到帧范围内，零值 roi 表示整帧
func SampleFrame(frame models.Frame, roi image.Rectangle) (ChannelMeans, error) {
	bpp := frame.Format.BytesPerPixel()
	if bpp == 0 {
		return ChannelMeans{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, frame.Format)
	}

	// image.Rect 会把负宽高规范化为非空矩形，需先拒绝
	if frame.Width <= 0 || frame.Height <= 0 {
		return ChannelMeans{}, fmt.Errorf("%w: frame size %dx%d", ErrEmptyRegion, frame.Width, frame.Height)
	}
	// 逐级比较，宽×高×bpp 不会溢出
	if frame.Width > len(frame.Data)/bpp || frame.Height > len(frame.Data)/(frame.Width*bpp) {
		return ChannelMeans{}, fmt.Errorf("%w: have %d bytes for %dx%d %s",
			ErrShortFrame, len(frame.Data), frame.Width, frame.Height, frame.Format)
	}

	bounds := image.Rect(0, 0, frame.Width, frame.Height)
	if roi.Empty() {
		roi = bounds
	}
	region := roi.Intersect(bounds)
	if region.Empty() {
		return ChannelMeans{}, ErrEmptyRegion
	}

	var sumR, sumG, sumB uint64
	stride := frame.Width * bpp
	for y := region.Min.Y; y < region.Max.Y; y++ {
		row := frame.Data[y*stride : (y+1)*stride]
		for x := region.Min.X; x < region.Max.X; x++ {
			p := row[x*bpp:]
			sumR += uint64(p[0])
			sumG += uint64(p[1])
			sumB += uint64(p[2])
		}
	}

	n := float64(region.Dx() * region.Dy())
	return ChannelMeans{
		R: float64(sumR) / n,
		G: float64(sumG) / n,
		B: float64(sumB) / n,
	}, nil
}

// CenterROI 返回帧中心的矩形区域，fraction 为宽高各自占比 (0,1]
func CenterROI(width, height int, fraction float64) image.Rectangle {
	if fraction <= 0 || fraction > 1 {
		fraction = 1
	}
	w := int(float64(width) * fraction)
	h := int(float64(height) * fraction)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	x0 := (width - w) / 2
	y0 := (height - h) / 2
	return image.Rect(x0, y0, x0+w, y0+h)
}
