package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterRecordingRoutes 注册录制、配置与记录相关路由
func (r *Router) RegisterRecordingRoutes(h *RecordingHandler) {
	r.Handle("/healthz", methods(http.MethodGet)(h.Health))

	r.Handle("/api/v1/recording/start", methods(http.MethodPost)(h.StartRecording))
	r.Handle("/api/v1/recording/stop", methods(http.MethodPost)(h.StopRecording))
	r.Handle("/api/v1/sampling/start", methods(http.MethodPost)(h.StartSampling))
	r.Handle("/api/v1/sampling/stop", methods(http.MethodPost)(h.StopSampling))

	r.Handle("/api/v1/config/combination", methods(http.MethodGet, http.MethodPut)(h.Combination))
	r.Handle("/api/v1/subject", methods(http.MethodGet, http.MethodPost)(h.Subject))

	r.Handle("/api/v1/vitals", methods(http.MethodGet)(h.Vitals))
	r.Handle("/api/v1/records", methods(http.MethodGet, http.MethodPost)(h.Records))
	r.Handle("/api/v1/records/export", methods(http.MethodGet)(h.ExportRecord))
	r.Handle("/api/v1/last-access", methods(http.MethodGet)(h.LastAccess))
}

// RegisterLiveRoutes 注册 websocket 实时推送
func (r *Router) RegisterLiveRoutes(hub *LiveHub) {
	r.HandleHandler("/ws/vitals", hub)
}
