package capture

import "math"

// PulseWave 相位累加的类 PPG 波形
// 每个周期：收缩期快速上升，随后指数回落到下一次上升，周期内只有一个谷值
type PulseWave struct {
	fs    float64
	hrBPM float64
	noise float64
	phase float64
	n     uint64
}

// NewPulseWave fs 为采样率（帧率），hrBPM 为心率，noise 为确定性噪声幅度
func NewPulseWave(fs, hrBPM, noise float64) *PulseWave {
	return &PulseWave{fs: fs, hrBPM: hrBPM, noise: noise}
}

// Next 返回下一个样本，取值约在 [0,1]
func (w *PulseWave) Next() float64 {
	v := pulseShape(w.phase)

	// 缓慢的呼吸基线，周期 4 秒
	v += 0.03 * math.Sin(2*math.Pi*float64(w.n)/(w.fs*4))
	if w.noise > 0 {
		v += w.noise * (2*fract(math.Sin(12.9898*float64(w.n+1))*43758.5453) - 1)
	}

	w.n++
	w.phase += w.hrBPM / 60 / w.fs
	w.phase -= math.Floor(w.phase)

	return v
}

// pulseShape 单个心动周期波形，t ∈ [0,1)
func pulseShape(t float64) float64 {
	const rise = 0.2
	if t < rise {
		s := math.Sin(math.Pi * t / (2 * rise))
		return s * s
	}
	return math.Exp(-(t - rise) / 0.3)
}

func fract(x float64) float64 { return x - math.Floor(x) }
