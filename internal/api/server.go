package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "AgentGuard-Chain/internal/errors"
	"AgentGuard-Chain/internal/observability/metrics"
	"AgentGuard-Chain/internal/submit"
)

// Server 负责暴露 REST 接口。
type Server struct {
	addr    string
	service *submit.Service
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, service *submit.Service) *Server {
	return &Server{addr: addr, service: service}
}

// Handler 返回已装配路由的 HTTP 处理器，测试直接使用它。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/executions", s.instrument("executions", s.handleExecutions))
	mux.HandleFunc("/api/v1/executions/", s.instrument("execution", s.handleExecution))
	mux.HandleFunc("/api/v1/stats", s.instrument("stats", s.handleStats))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET/POST")
	}
}

// handleSubmit 处理意图提交请求。
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "提交服务未初始化")
		return
	}

	var req submit.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "请求体解析失败")
		return
	}

	sub, err := s.service.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, sub)
}

// handleList 返回符合过滤条件的执行记录。
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "提交服务未初始化")
		return
	}

	opts := listOptionsFromQuery(r)
	subs, err := s.service.List(r.Context(), opts...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// handleExecution 返回单条执行记录。
func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "提交服务未初始化")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/executions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "执行 ID 非法")
		return
	}

	sub, err := s.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleStats 返回执行统计。
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "提交服务未初始化")
		return
	}

	stats, err := s.service.Stats(r.Context(), listOptionsFromQuery(r)...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func listOptionsFromQuery(r *http.Request) []submit.ListOption {
	query := r.URL.Query()
	var opts []submit.ListOption
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, submit.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, submit.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]submit.Status, 0, 4)
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, submit.Status(strings.TrimSpace(s)))
		}
		opts = append(opts, submit.WithStatuses(statuses...))
	}
	if agentID := query.Get("agent_id"); agentID != "" {
		opts = append(opts, submit.WithAgentID(agentID))
	}
	if q := query.Get("q"); q != "" {
		opts = append(opts, submit.WithQuery(q))
	}
	return opts
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

// writeServiceError 将业务错误映射到 HTTP 状态码。
func writeServiceError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case submit.CodeSubmissionNotFound, xerrors.CodeNotFound:
		status = http.StatusNotFound
	case submit.CodeSubmissionValidation, xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case submit.CodeSubmissionConflict, xerrors.CodeConflict:
		status = http.StatusConflict
	}
	writeError(w, status, string(code), err.Error())
}

// instrument 记录请求耗时与状态码。
func (s *Server) instrument(handler string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(handler, r.Method, recorder.status, time.Since(started))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
