// ============================================================================
// MechFlow HTTP API
// ============================================================================
//
// Package: internal/transport/httpapi
// 文件: server.go
// 功能: 以 chi 路由對外提供排產、台帳與產能檢查
//
// 路由:
//   POST /v1/schedules                 產生排產（?dry_run=true 只預覽）
//   GET  /v1/schedules/current         目前的排產結果
//   POST /v1/tasks/{taskID}/toggle     翻轉任務完成狀態
//   POST /v1/capability/check          產能檢查
//   GET  /v1/stats                     台帳統計
//   GET  /health                       健康檢查
//   GET  /metrics                      Prometheus（有設定時）
//
// ============================================================================

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ChuLiYu/mechflow/internal/capability"
	"github.com/ChuLiYu/mechflow/internal/ledger"
	"github.com/ChuLiYu/mechflow/internal/logger"
	"github.com/ChuLiYu/mechflow/internal/planner"
	"github.com/ChuLiYu/mechflow/internal/scheduler"
	"github.com/ChuLiYu/mechflow/pkg/types"
)

const (
	maxBodyBytes = 8 << 20

	// statusClientClosedRequest 呼叫端在排產完成前取消
	statusClientClosedRequest = 499

	// RevisionHeader 回應中的台帳版本
	RevisionHeader = "X-Mechflow-Revision"
)

// Service HTTP API 需要的排產能力，由 *planner.Planner 實作
type Service interface {
	Plan(ctx context.Context, input types.PlanInput) (*planner.Report, error)
	Preview(ctx context.Context, input types.PlanInput) (*planner.Report, error)
	Toggle(ctx context.Context, taskID string) (types.ScheduleTask, error)
	Current() (*types.ScheduleResult, error)
	Stats() ledger.Stats
}

// CheckRequest 產能檢查請求
type CheckRequest struct {
	Steps          []types.ManufacturingStep `json:"steps"`
	AvailableTypes []string                  `json:"availableTypes"`
}

// CheckResponse 產能檢查回應
type CheckResponse struct {
	Warnings []string `json:"warnings"`
}

// ErrorResponse 錯誤回應
type ErrorResponse struct {
	Error  string            `json:"error"`
	Issues []scheduler.Issue `json:"issues,omitempty"`
}

type handler struct {
	svc Service
	log *logger.Logger
}

// NewRouter 建立路由；metrics 為 nil 時不掛 /metrics
func NewRouter(svc Service, metrics http.Handler) chi.Router {
	h := &handler{svc: svc, log: logger.L().Named("http")}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		h.accessLog,
	)

	r.Get("/health", h.health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/schedules", h.generate)
		r.Get("/schedules/current", h.current)
		r.Post("/tasks/{taskID}/toggle", h.toggle)
		r.Post("/capability/check", h.check)
		r.Get("/stats", h.stats)
	})
	return r
}

// NewServer 依設定建立 http.Server
func NewServer(addr string, handler http.Handler, readTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readTimeout,
	}
}

// ============================================================================
// Handlers
// ============================================================================

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) generate(w http.ResponseWriter, r *http.Request) {
	var input types.PlanInput
	if !h.decode(w, r, &input) {
		return
	}

	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	plan := h.svc.Plan
	if dryRun {
		plan = h.svc.Preview
	}

	report, err := plan(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !dryRun {
		w.Header().Set(RevisionHeader, strconv.FormatUint(report.Revision, 10))
	}
	writeJSON(w, http.StatusOK, report.Result)
}

func (h *handler) current(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Current()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set(RevisionHeader, strconv.FormatUint(h.svc.Stats().Revision, 10))
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) toggle(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.Toggle(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *handler) check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !h.decode(w, r, &req) {
		return
	}
	warnings := capability.Check(req.Steps, capability.NewTypeSet(req.AvailableTypes...))
	writeJSON(w, http.StatusOK, CheckResponse{Warnings: warnings})
}

func (h *handler) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

// ============================================================================
// 輔助函數
// ============================================================================

func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// StatusFor 錯誤對應的 HTTP 狀態碼
func StatusFor(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrTaskNotFound), errors.Is(err, ledger.ErrNoSchedule):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrCanceled), errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: err.Error()}

	var verr *scheduler.ValidationError
	if errors.As(err, &verr) {
		resp.Issues = verr.Issues
	}
	if status >= http.StatusInternalServerError {
		h.log.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.ErrorF(err))
		resp.Error = http.StatusText(status)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// accessLog 以 zap 記錄每個請求
func (h *handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		h.log.Debug(r.Context(), "http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Int("bytes", ww.BytesWritten()),
			logger.Duration("took", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}
