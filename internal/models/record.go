package models

import (
	"math"
	"time"
)

// DefaultSubjectID 未设置受试者时使用的ID
const DefaultSubjectID = "unknown"

// Record 一次持久化的测量批次
type Record struct {
	ID        string          `json:"id"`
	SubjectID string          `json:"subject_id"`
	SessionID string          `json:"session_id"`
	HeartRate HeartRateResult `json:"heart_rate"`
	HRV       HRVResult       `json:"hrv"`
	Quality   QualityResult   `json:"quality"`
	Samples   []float64       `json:"ppg_data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Sanitize 保存前将不可计算的指标置为 0，并补全受试者ID
func (r *Record) Sanitize() {
	if r.SubjectID == "" {
		r.SubjectID = DefaultSubjectID
	}
	if !r.HeartRate.Computable() {
		r.HeartRate = HeartRateResult{}
	}
	if !r.HRV.Computable() {
		r.HRV = HRVResult{}
	}
	for i, v := range r.Samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			r.Samples[i] = 0
		}
	}
}

// SubjectSummary 受试者历史汇总
type SubjectSummary struct {
	SubjectID    string    `json:"subject_id"`
	LastAccess   time.Time `json:"last_access"`
	AvgHeartRate float64   `json:"avg_heart_rate"`
	AvgHRV       float64   `json:"avg_hrv"`
	RecordCount  int64     `json:"record_count"`
}

// RecordSavedEvent 记录保存事件（发布到 Redis Streams）
type RecordSavedEvent struct {
	RecordID    string  `json:"record_id"`
	SubjectID   string  `json:"subject_id"`
	SessionID   string  `json:"session_id"`
	HeartRate   float64 `json:"heart_rate"`
	SDNN        float64 `json:"sdnn"`
	SampleCount int     `json:"sample_count"`
	Timestamp   int64   `json:"timestamp"`
}
