// Package features 计算信号质量分类所需的 12 维统计特征。
package features

import (
	"errors"
	"math"

	"heartlen/internal/signal"
)

// MinWindow 质量评估所需的最少样本数
const MinWindow = 100

// Size 特征维数
const Size = 12

// 特征下标，顺序即模型输入顺序
const (
	Mean = iota
	Std
	Skewness
	Kurtosis
	Range
	ZeroCrossings
	RMS
	PeakToPeak
	PeakCount
	ValleyCount
	AvgPeakDistance
	AvgPeakHeight
)

// ErrInsufficientVariance 窗口内样本方差为 0，偏度与峰度无定义
var ErrInsufficientVariance = errors.New("signal window has zero variance")

const varianceTolerance = 1e-9

var names = [Size]string{
	"mean", "std", "skewness", "kurtosis", "range", "zeroCrossings",
	"rms", "peakToPeak", "peakCount", "valleyCount", "avgPeakDistance", "avgPeakHeight",
}

// FeatureVector 固定 12 维特征
type FeatureVector [Size]float64

// Names 特征名称
func Names() []string {
	out := make([]string, Size)
	copy(out, names[:])
	return out
}

// Slice 转为切片（模型输入）
func (v FeatureVector) Slice() []float64 {
	out := make([]float64, Size)
	copy(out, v[:])
	return out
}

// Map 名称到取值，用于日志与导出
func (v FeatureVector) Map() map[string]float64 {
	out := make(map[string]float64, Size)
	for i, n := range names {
		out[n] = v[i]
	}
	return out
}

// Extract 计算窗口特征
// 空窗口返回全零向量；方差为 0 时偏度、峰度置 0 并返回 ErrInsufficientVariance。
func Extract(window []float64) (FeatureVector, error) {
	var fv FeatureVector
	n := len(window)
	if n == 0 {
		return fv, nil
	}

	var sum, sumSq float64
	min, max := window[0], window[0]
	for _, x := range window {
		sum += x
		sumSq += x * x
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	mean := sum / float64(n)

	var m2, m3, m4 float64
	for _, x := range window {
		d := x - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	m2 /= float64(n)
	m3 /= float64(n)
	m4 /= float64(n)
	std := math.Sqrt(m2)

	crossings := 0
	for i := 1; i < n; i++ {
		if (window[i] >= 0) != (window[i-1] >= 0) {
			crossings++
		}
	}

	peaks := signal.PeakIndices(window)
	valleys := signal.ValleyIndices(window)

	fv[Mean] = mean
	fv[Std] = std
	fv[Range] = max - min
	fv[ZeroCrossings] = float64(crossings)
	fv[RMS] = math.Sqrt(sumSq / float64(n))
	fv[PeakToPeak] = max - min
	fv[PeakCount] = float64(len(peaks))
	fv[ValleyCount] = float64(len(valleys))

	if len(peaks) > 1 {
		fv[AvgPeakDistance] = float64(peaks[len(peaks)-1]-peaks[0]) / float64(len(peaks)-1)
	}
	if len(peaks) > 0 {
		var h float64
		for _, i := range peaks {
			h += window[i]
		}
		fv[AvgPeakHeight] = h / float64(len(peaks))
	}

	// 常数窗口的 std 只剩舍入误差，按相对容差判为 0
	if max == min || std <= varianceTolerance*math.Max(1, math.Abs(mean)) {
		fv[Std] = 0
		return fv, ErrInsufficientVariance
	}
	fv[Skewness] = m3 / (std * std * std)
	fv[Kurtosis] = m4 / (m2 * m2)

	return fv, nil
}
