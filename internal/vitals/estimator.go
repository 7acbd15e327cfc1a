package vitals

import (
	"math"

	"heartlen/internal/models"
)

// hrvFullConfidenceIntervals HRV 置信度达到满额所需的 NN 间期数
const hrvFullConfidenceIntervals = 8

// Estimator 基于谷值下标估计心率与HRV
type Estimator struct {
	secondsPerSample float64
}

// NewEstimator 创建估计器，secondsPerSample 为相邻样本时间间隔（秒）
func NewEstimator(secondsPerSample float64) *Estimator {
	return &Estimator{secondsPerSample: secondsPerSample}
}

// FrameRateToSecondsPerSample 帧率转换为样本间隔
func FrameRateToSecondsPerSample(fps float64) float64 {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return 0
	}
	return 1 / fps
}

// SecondsPerSample 样本间隔
func (e *Estimator) SecondsPerSample() float64 {
	return e.secondsPerSample
}

// Estimate 由谷值下标同时计算心率和HRV，间隔只计算一次
func (e *Estimator) Estimate(valleys []int) (models.HeartRateResult, models.HRVResult) {
	gaps := Gaps(valleys)
	return e.HeartRate(gaps), e.HRV(gaps)
}

// Gaps 相邻谷值的下标间隔（样本数）
func Gaps(valleys []int) []float64 {
	if len(valleys) < 2 {
		return nil
	}
	gaps := make([]float64, len(valleys)-1)
	for i := 1; i < len(valleys); i++ {
		gaps[i-1] = float64(valleys[i] - valleys[i-1])
	}
	return gaps
}

// HeartRate bpm = 60 / (平均间隔 × 样本间隔)
// 置信度 = clamp(100 × (1 - CV), 0, 100)
func (e *Estimator) HeartRate(gaps []float64) models.HeartRateResult {
	if len(gaps) < 1 || e.secondsPerSample <= 0 {
		return models.NotComputableHeartRate()
	}

	mean, std := meanStd(gaps)
	if mean <= 0 {
		return models.NotComputableHeartRate()
	}

	return models.HeartRateResult{
		BPM:        60 / (mean * e.secondsPerSample),
		Confidence: clamp(100*(1-std/mean), 0, 100),
	}
}

// HRV SDNN（毫秒），至少需要 2 个 NN 间期（3 个谷值）
func (e *Estimator) HRV(gaps []float64) models.HRVResult {
	if len(gaps) < 2 || e.secondsPerSample <= 0 {
		return models.NotComputableHRV()
	}

	intervals := make([]float64, len(gaps))
	for i, g := range gaps {
		intervals[i] = g * e.secondsPerSample * 1000
	}

	mean, popStd := meanStd(intervals)
	if mean <= 0 {
		return models.NotComputableHRV()
	}

	// SDNN 使用样本标准差 (n-1)
	n := float64(len(intervals))
	sdnn := popStd * math.Sqrt(n/(n-1))

	coverage := math.Min(1, n/hrvFullConfidenceIntervals)
	return models.HRVResult{
		SDNN:       sdnn,
		Confidence: clamp(100*(1-popStd/mean)*coverage, 0, 100),
	}
}

// meanStd 均值与总体标准差
func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
