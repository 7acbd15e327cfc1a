package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"heartlen/internal/export"
	"heartlen/internal/models"
	"heartlen/internal/pipeline"
	"heartlen/internal/repository"
	"heartlen/internal/signal"

	"go.uber.org/zap"
)

// ErrSamplingRequiresRecording 采样模式只能在录制中开启
var ErrSamplingRequiresRecording = errors.New("sampling requires an active recording")

// RecordingController 录制服务对外能力
type RecordingController interface {
	StartRecording(ctx context.Context) (string, error)
	StopRecording(ctx context.Context) error
	StartSampling() error
	StopSampling()
	SamplingEnabled() bool

	CombinationMode() signal.CombinationMode
	SetCombinationMode(mode signal.CombinationMode) error
	Subject() string
	SetSubject(subjectID string)

	Current() models.Vitals
	Finalize() (*models.Record, error)
	SaveNow(ctx context.Context) (*models.Record, error)
	SubjectSummary(ctx context.Context, subjectID string) (*models.SubjectSummary, error)
	ListRecords(ctx context.Context, subjectID string, limit int) ([]*models.Record, error)
	ModelReady() bool
}

// RecordingHandler 录制 API
type RecordingHandler struct {
	svc    RecordingController
	logger *zap.Logger
}

func NewRecordingHandler(svc RecordingController, logger *zap.Logger) *RecordingHandler {
	return &RecordingHandler{svc: svc, logger: logger}
}

type statusResponse struct {
	SessionID       string `json:"session_id,omitempty"`
	Recording       bool   `json:"recording"`
	Sampling        bool   `json:"sampling"`
	SubjectID       string `json:"subject_id"`
	CombinationMode string `json:"combination_mode"`
	ModelReady      bool   `json:"model_ready"`
}

func (h *RecordingHandler) status() statusResponse {
	v := h.svc.Current()
	return statusResponse{
		SessionID:       v.SessionID,
		Recording:       v.Recording,
		Sampling:        h.svc.SamplingEnabled(),
		SubjectID:       h.svc.Subject(),
		CombinationMode: h.svc.CombinationMode().String(),
		ModelReady:      h.svc.ModelReady(),
	}
}

// Health 存活检查
func (h *RecordingHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.status()))
}

// StartRecording POST /api/v1/recording/start
func (h *RecordingHandler) StartRecording(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.StartRecording(r.Context()); err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRecording) {
			writeJSON(w, http.StatusConflict, Fail(err.Error()))
			return
		}
		h.logger.Error("Failed to start recording", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.status()))
}

// StopRecording POST /api/v1/recording/stop
func (h *RecordingHandler) StopRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.StopRecording(r.Context()); err != nil {
		h.logger.Error("Failed to stop recording", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.status()))
}

// StartSampling POST /api/v1/sampling/start
func (h *RecordingHandler) StartSampling(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.StartSampling(); err != nil {
		writeJSON(w, http.StatusConflict, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.status()))
}

// StopSampling POST /api/v1/sampling/stop
func (h *RecordingHandler) StopSampling(w http.ResponseWriter, r *http.Request) {
	h.svc.StopSampling()
	writeJSON(w, http.StatusOK, Ok(h.status()))
}

type combinationResponse struct {
	Mode  string              `json:"mode"`
	Label string              `json:"label"`
	Modes []combinationOption `json:"modes,omitempty"`
}

type combinationOption struct {
	Mode  string `json:"mode"`
	Label string `json:"label"`
}

// Combination GET/PUT /api/v1/config/combination
func (h *RecordingHandler) Combination(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut {
		var payload struct {
			Mode string `json:"mode"`
		}
		if err := readBodyJSON(r, maxBodyBytes, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
			return
		}
		mode, err := signal.ParseCombinationMode(payload.Mode)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
		if err := h.svc.SetCombinationMode(mode); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
	}

	mode := h.svc.CombinationMode()
	resp := combinationResponse{Mode: mode.String(), Label: mode.Label()}
	for _, m := range signal.Modes() {
		resp.Modes = append(resp.Modes, combinationOption{Mode: m.String(), Label: m.Label()})
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// Subject GET/POST /api/v1/subject
func (h *RecordingHandler) Subject(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var payload struct {
			SubjectID string `json:"subject_id"`
		}
		if err := readBodyJSON(r, maxBodyBytes, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
			return
		}
		subject := strings.TrimSpace(payload.SubjectID)
		if subject == "" {
			writeJSON(w, http.StatusBadRequest, Fail("subject_id is required"))
			return
		}
		h.svc.SetSubject(subject)
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"subject_id": h.svc.Subject()}))
}

// Vitals GET /api/v1/vitals
func (h *RecordingHandler) Vitals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.svc.Current()))
}

type savedRecord struct {
	RecordID    string                 `json:"record_id"`
	SubjectID   string                 `json:"subject_id"`
	HeartRate   models.HeartRateResult `json:"heart_rate"`
	HRV         models.HRVResult       `json:"hrv"`
	SampleCount int                    `json:"sample_count"`
	Timestamp   string                 `json:"timestamp"`
}

// Records GET/POST /api/v1/records
func (h *RecordingHandler) Records(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		h.ListRecords(w, r)
		return
	}
	h.SaveRecord(w, r)
}

// ListRecords GET /api/v1/records?subjectId=&limit=
func (h *RecordingHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	subjectID := strings.TrimSpace(r.URL.Query().Get("subjectId"))
	if subjectID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("missing subjectId"))
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 20)
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	recs, err := h.svc.ListRecords(r.Context(), subjectID, limit)
	if err != nil {
		h.logger.Error("Failed to list records", zap.String("subject_id", subjectID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}

	items := make([]savedRecord, 0, len(recs))
	for _, rec := range recs {
		items = append(items, toSavedRecord(rec))
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": items,
		"total": len(items),
	}))
}

func toSavedRecord(rec *models.Record) savedRecord {
	return savedRecord{
		RecordID:    rec.ID,
		SubjectID:   rec.SubjectID,
		HeartRate:   rec.HeartRate,
		HRV:         rec.HRV,
		SampleCount: len(rec.Samples),
		Timestamp:   rec.Timestamp.Format(time.RFC3339),
	}
}

// SaveRecord POST /api/v1/records
func (h *RecordingHandler) SaveRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.SaveNow(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrNoSamples) {
			writeJSON(w, http.StatusConflict, Fail(err.Error()))
			return
		}
		h.logger.Error("Failed to save record", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, Ok(toSavedRecord(rec)))
}

// ExportRecord GET /api/v1/records/export
func (h *RecordingHandler) ExportRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Finalize()
	if err != nil {
		if errors.Is(err, pipeline.ErrNoSamples) {
			writeJSON(w, http.StatusConflict, Fail(err.Error()))
			return
		}
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}

	data, err := export.RecordWorkbook(rec)
	if err != nil {
		h.logger.Error("Failed to export record", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export record"))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(rec)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// LastAccess GET /api/v1/last-access?subjectId=
func (h *RecordingHandler) LastAccess(w http.ResponseWriter, r *http.Request) {
	subjectID := strings.TrimSpace(r.URL.Query().Get("subjectId"))
	if subjectID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("missing subjectId"))
		return
	}

	summary, err := h.svc.SubjectSummary(r.Context(), subjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRecords) {
			writeJSON(w, http.StatusNotFound, Fail("no records found"))
			return
		}
		h.logger.Error("Failed to query subject summary", zap.String("subject_id", subjectID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(summary))
}
