package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/ports"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/usecase"
	"github.com/kirillkom/financial-risk-analyzer/internal/observability/metrics"
)

const (
	defaultCleanupHours     = 24
	defaultBackpressureWait = 250 * time.Millisecond
)

type Options struct {
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration

	// Metrics instruments requests; MetricsHandler is served on /metrics.
	Metrics        *metrics.HTTPServerMetrics
	MetricsHandler http.Handler
	// Health contributes extra fields to /healthz.
	Health func() map[string]any
	// Files enables the stored-file routes.
	Files ports.FileManager
}

type Router struct {
	processor ports.FileProcessor
	tasks     ports.TaskManager
	results   ports.ResultReader
	opts      Options
}

func NewRouter(processor ports.FileProcessor, tasks ports.TaskManager, results ports.ResultReader, opts Options) *Router {
	if opts.BackpressureWait <= 0 {
		opts.BackpressureWait = defaultBackpressureWait
	}
	return &Router{
		processor: processor,
		tasks:     tasks,
		results:   results,
		opts:      opts,
	}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(accessLog, chimiddleware.Recoverer)
	if rt.opts.Metrics != nil {
		r.Use(rt.opts.Metrics.Middleware)
	}

	r.Get("/healthz", rt.healthz)
	if rt.opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", rt.opts.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(
			rateLimit(rt.opts.RateLimitRPS, rt.opts.RateLimitBurst),
			backpressure(rt.opts.MaxInFlight, rt.opts.BackpressureWait),
		)

		r.Post("/{file_id}/process", rt.processFile)
		r.Get("/files/{file_id}/tasks", rt.fileTasks)
		r.Get("/files/{file_id}/result", rt.fileResult)
		r.Get("/task/{task_id}", rt.getTask)
		r.Delete("/task/{task_id}/cancel", rt.cancelTask)
		r.Post("/tasks/cleanup", rt.cleanupTasks)
		r.Get("/json_res/{file_id}", rt.fileResult)

		if rt.opts.Files != nil {
			r.Post("/upload", rt.uploadFile)
			r.Get("/files/{file_id}/results", rt.resultFiles)
			r.Get("/{file_id}", rt.fileMetadata)
			r.Put("/{file_id}", rt.updateFileStatus)
			r.Delete("/{file_id}", rt.deleteFile)
			r.Get("/{file_id}/download", rt.downloadFile)
		}
	})

	return withRequestID(r)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{"status": "ok"}
	if rt.opts.Health != nil {
		for k, v := range rt.opts.Health() {
			payload[k] = v
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (rt *Router) processFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")
	repoID := strings.TrimSpace(r.URL.Query().Get("repo_id"))
	if repoID == "" {
		writeError(w, http.StatusBadRequest, "repo_id is required")
		return
	}

	task, err := rt.processor.Submit(r.Context(), fileID, repoID)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id": task.ID,
		"message": usecase.MsgProcessingStarted,
	})
}

type taskView struct {
	TaskID    string           `json:"task_id"`
	Status    domain.TaskPhase `json:"status"`
	Reason    string           `json:"reason,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func viewOf(task domain.Task) taskView {
	return taskView{TaskID: task.ID, Status: task.Phase, Reason: task.Reason, CreatedAt: task.CreatedAt}
}

func (rt *Router) fileTasks(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")
	tasks := rt.tasks.TasksForFile(fileID)
	views := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, viewOf(task))
	}
	writeJSON(w, http.StatusOK, map[string]any{"file_id": fileID, "tasks": views})
}

func (rt *Router) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := rt.tasks.Task(chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (rt *Router) cancelTask(w http.ResponseWriter, r *http.Request) {
	task, cancelled, err := rt.tasks.Cancel(chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	message := usecase.MsgCancelled
	if !cancelled {
		message = usecase.MsgAlreadyFinished
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id": task.ID,
		"status":  task.Phase,
		"message": message,
	})
}

func (rt *Router) cleanupTasks(w http.ResponseWriter, r *http.Request) {
	hours := float64(defaultCleanupHours)
	if raw := strings.TrimSpace(r.URL.Query().Get("hours")); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "hours must be a non-negative number")
			return
		}
		hours = parsed
	}
	report := rt.tasks.Cleanup(time.Duration(hours * float64(time.Hour)))
	if report.DeletedTasks == nil {
		report.DeletedTasks = []string{}
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) fileResult(w http.ResponseWriter, r *http.Request) {
	if rt.results == nil {
		writeError(w, http.StatusNotFound, "results are not available")
		return
	}
	result, err := rt.results.GetJSONResult(r.Context(), chi.URLParam(r, "file_id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// errorStatus maps domain error kinds onto response codes.
func errorStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrFileNotFound), domain.IsKind(err, domain.ErrTaskNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
