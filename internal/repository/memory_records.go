package repository

import (
	"context"
	"sort"
	"sync"

	"heartlen/internal/models"
)

// MemoryRecordRepository 未启用数据库时使用的内存仓库
type MemoryRecordRepository struct {
	mu      sync.RWMutex
	records map[string][]*models.Record // subjectID -> records
}

func NewMemoryRecordRepository() *MemoryRecordRepository {
	return &MemoryRecordRepository{
		records: map[string][]*models.Record{},
	}
}

func (r *MemoryRecordRepository) SaveRecord(_ context.Context, rec *models.Record) error {
	rec.Sanitize()

	cp := *rec
	cp.Samples = append([]float64(nil), rec.Samples...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[cp.SubjectID] = append(r.records[cp.SubjectID], &cp)
	return nil
}

func (r *MemoryRecordRepository) GetSubjectSummary(_ context.Context, subjectID string) (*models.SubjectSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := r.records[subjectID]
	if len(recs) == 0 {
		return nil, ErrNoRecords
	}

	s := &models.SubjectSummary{SubjectID: subjectID, RecordCount: int64(len(recs))}
	var sumHR, sumHRV float64
	var nHR, nHRV int
	for _, rec := range recs {
		if rec.Timestamp.After(s.LastAccess) {
			s.LastAccess = rec.Timestamp
		}
		if rec.HeartRate.BPM != 0 {
			sumHR += rec.HeartRate.BPM
			nHR++
		}
		if rec.HRV.SDNN != 0 {
			sumHRV += rec.HRV.SDNN
			nHRV++
		}
	}
	if nHR > 0 {
		s.AvgHeartRate = sumHR / float64(nHR)
	}
	if nHRV > 0 {
		s.AvgHRV = sumHRV / float64(nHRV)
	}
	return s, nil
}

func (r *MemoryRecordRepository) ListRecords(_ context.Context, subjectID string, limit int) ([]*models.Record, error) {
	if limit <= 0 {
		limit = 20
	}

	r.mu.RLock()
	all := append([]*models.Record(nil), r.records[subjectID]...)
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
