package models

import (
	"encoding/json"
	"math"
	"time"
)

// 质量等级标签，顺序与模型输出一致
const (
	QualityBad        = "bad"
	QualityAcceptable = "acceptable"
	QualityExcellent  = "excellent"
	QualityUnassessed = "--"
)

// QualityClasses 模型输出类别顺序
var QualityClasses = []string{QualityBad, QualityAcceptable, QualityExcellent}

// HeartRateResult 心率估计结果
// BPM 为 NaN 表示无法计算，此时 Confidence 为 0
type HeartRateResult struct {
	BPM        float64
	Confidence float64
}

// HRVResult 心率变异性（SDNN，毫秒）
type HRVResult struct {
	SDNN       float64
	Confidence float64
}

// QualityResult 信号质量评估结果
type QualityResult struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// UnassessedQuality 未评估的质量结果
func UnassessedQuality() QualityResult {
	return QualityResult{Class: QualityUnassessed, Confidence: 0}
}

// NotComputableHeartRate 无法计算的心率
func NotComputableHeartRate() HeartRateResult {
	return HeartRateResult{BPM: math.NaN(), Confidence: 0}
}

// NotComputableHRV 无法计算的HRV
func NotComputableHRV() HRVResult {
	return HRVResult{SDNN: math.NaN(), Confidence: 0}
}

// Computable 心率是否有效
func (r HeartRateResult) Computable() bool {
	return !math.IsNaN(r.BPM) && !math.IsInf(r.BPM, 0)
}

// Computable HRV是否有效
func (r HRVResult) Computable() bool {
	return !math.IsNaN(r.SDNN) && !math.IsInf(r.SDNN, 0)
}

// MarshalJSON NaN 输出为 null
func (r HeartRateResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		BPM        *float64 `json:"bpm"`
		Confidence float64  `json:"confidence"`
	}{BPM: finiteOrNil(r.BPM), Confidence: r.Confidence})
}

// UnmarshalJSON null 还原为 NaN
func (r *HeartRateResult) UnmarshalJSON(data []byte) error {
	var aux struct {
		BPM        *float64 `json:"bpm"`
		Confidence float64  `json:"confidence"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.BPM = nilToNaN(aux.BPM)
	r.Confidence = aux.Confidence
	return nil
}

// MarshalJSON NaN 输出为 null
func (r HRVResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		SDNN       *float64 `json:"sdnn"`
		Confidence float64  `json:"confidence"`
	}{SDNN: finiteOrNil(r.SDNN), Confidence: r.Confidence})
}

// UnmarshalJSON null 还原为 NaN
func (r *HRVResult) UnmarshalJSON(data []byte) error {
	var aux struct {
		SDNN       *float64 `json:"sdnn"`
		Confidence float64  `json:"confidence"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.SDNN = nilToNaN(aux.SDNN)
	r.Confidence = aux.Confidence
	return nil
}

// Vitals 实时生命体征快照（每帧更新）
type Vitals struct {
	SessionID       string          `json:"session_id"`
	SubjectID       string          `json:"subject_id,omitempty"`
	Recording       bool            `json:"recording"`
	CombinationMode string          `json:"combination_mode"`
	HeartRate       HeartRateResult `json:"heart_rate"`
	HRV             HRVResult       `json:"hrv"`
	Quality         QualityResult   `json:"quality"`
	SampleCount     int             `json:"sample_count"`
	LastSample      float64         `json:"last_sample"`
	FramesProcessed uint64          `json:"frames_processed"`
	FramesSkipped   uint64          `json:"frames_skipped"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func nilToNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
