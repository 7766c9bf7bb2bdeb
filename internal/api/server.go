package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ContextHub-Chain/internal/agent"
	"ContextHub-Chain/internal/market"
	"ContextHub-Chain/internal/observability/alerting"
	"ContextHub-Chain/internal/observability/metrics"
	"ContextHub-Chain/internal/registry"
	"ContextHub-Chain/internal/stream"
	"ContextHub-Chain/pkg/logger"

	xerrors "ContextHub-Chain/internal/errors"
)

// Server 负责暴露 REST 与 WebSocket 接口，供外部查询上下文与驱动智能体。
type Server struct {
	addr     string
	contexts *registry.Registry
	markets  *market.Service
	factory  *agent.Factory
	bus      stream.Bus
	alerts   alerting.Dispatcher
	log      *slog.Logger
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithAlerts 指定需要告警的错误所投递的通知分发器。
func WithAlerts(dispatcher alerting.Dispatcher) Option {
	return func(s *Server) {
		s.alerts = dispatcher
	}
}

// NewServer 构造 API 服务实例。markets、factory 与 bus 允许为空，
// 对应的接口会返回未初始化错误。
func NewServer(addr string, contexts *registry.Registry, markets *market.Service, factory *agent.Factory, bus stream.Bus, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		contexts: contexts,
		markets:  markets,
		factory:  factory,
		bus:      bus,
		log:      logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回挂载全部路由的处理器，便于测试时直接接入 httptest。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/contexts", s.instrument("contexts", s.handleContexts))
	mux.HandleFunc("/api/v1/contexts/", s.instrument("context_detail", s.handleContextByID))
	mux.HandleFunc("/api/v1/market/price", s.instrument("market_price", s.handlePrice))
	mux.HandleFunc("/api/v1/market/orderbook", s.instrument("market_orderbook", s.handleOrderBook))
	mux.HandleFunc("/api/v1/market/candles", s.instrument("market_candles", s.handleCandles))
	mux.HandleFunc("/api/v1/agents/execute", s.instrument("agents_execute", s.handleExecute))
	mux.HandleFunc("/ws", s.handleWS)
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

func (s *Server) handleContexts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListContexts(w, r)
	case http.MethodPost:
		s.handleRegisterContext(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleListContexts 返回全部记录，支持按类别与能力集合过滤。
// 两个过滤条件同时给出时取交集语义：先按类别过滤，再按能力过滤。
func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var records []registry.Record
	if rawType := strings.TrimSpace(query.Get("type")); rawType != "" {
		t, err := registry.ParseType(rawType)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		records = s.contexts.ListByType(t)
	} else {
		records = s.contexts.ListAll()
	}

	if rawCaps := strings.TrimSpace(query.Get("capabilities")); rawCaps != "" {
		required := strings.Split(rawCaps, ",")
		filtered := records[:0]
		for _, record := range records {
			if record.HasCapabilities(required) {
				filtered = append(filtered, record)
			}
		}
		records = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"contexts": records,
		"count":    len(records),
	})
}

// registerRequest 是注册接口的请求体。authority 仅作为不透明凭证透传。
type registerRequest struct {
	Context   registry.Record `json:"context"`
	Authority string          `json:"authority,omitempty"`
}

func (s *Server) handleRegisterContext(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	reference, err := s.contexts.Register(req.Context, req.Authority)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// 注册成功后在推送通道广播一条事件，失败不影响注册结果。
	if s.bus != nil {
		update := stream.Update{
			Kind:      stream.KindContextRegistered,
			ContextID: req.Context.ID,
			At:        time.Now().Unix(),
		}
		if err := s.bus.Publish(r.Context(), update); err != nil {
			s.log.Warn("广播注册事件失败", slog.String("context_id", req.Context.ID), slog.Any("error", err))
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"reference":  reference,
		"context_id": req.Context.ID,
	})
}

func (s *Server) handleContextByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/contexts/")
	if id == "" || strings.Contains(id, "/") {
		s.fail(w, r, xerrors.New(xerrors.CodeInvalidArgument, "上下文标识不合法"))
		return
	}

	record, ok := s.contexts.Lookup(id)
	if !ok {
		s.fail(w, r, xerrors.New(xerrors.CodeNotFound, "上下文不存在",
			xerrors.WithMetadata("context_id", id)))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	if !s.requireMarkets(w, r) {
		return
	}
	quote, err := s.markets.Price(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	if !s.requireMarkets(w, r) {
		return
	}
	depth := 0
	if raw := r.URL.Query().Get("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.fail(w, r, xerrors.New(xerrors.CodeInvalidArgument, "depth 参数不合法"))
			return
		}
		depth = parsed
	}
	book, err := s.markets.OrderBook(r.Context(), r.URL.Query().Get("symbol"), depth)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	if !s.requireMarkets(w, r) {
		return
	}
	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.fail(w, r, xerrors.New(xerrors.CodeInvalidArgument, "limit 参数不合法"))
			return
		}
		limit = parsed
	}
	candles, err := s.markets.Candles(r.Context(), query.Get("symbol"), query.Get("interval"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  strings.ToUpper(strings.TrimSpace(query.Get("symbol"))),
		"candles": candles,
	})
}

func (s *Server) requireMarkets(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return false
	}
	if s.markets == nil {
		s.fail(w, r, xerrors.New(xerrors.CodeInitializationFailure, "行情服务未初始化"))
		return false
	}
	return true
}

// executeRequest 是指令委托接口的请求体。
type executeRequest struct {
	Kind        agent.Kind        `json:"kind"`
	Instruction agent.Instruction `json:"instruction"`
}

// handleExecute 为每次请求构造一个新的智能体并执行指令。
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.factory == nil {
		s.fail(w, r, xerrors.New(xerrors.CodeInitializationFailure, "智能体工厂未初始化"))
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	ag, err := s.factory.Create(req.Kind)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := ag.Execute(r.Context(), req.Instruction)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// instrument 包装处理器以记录请求量、错误量与时延指标。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
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

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// fail 写出错误响应，并在错误需要告警时投递通知事件。
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if s.alerts != nil && xerrors.ShouldAlert(err) {
		event := alerting.FromError(err, r.URL.Path)
		if notifyErr := s.alerts.Notify(r.Context(), event); notifyErr != nil {
			s.log.Warn("投递告警事件失败", slog.Any("error", notifyErr))
		}
	}
	writeError(w, err)
}

// writeError 将统一错误类型映射为 HTTP 状态码与 JSON 错误体。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodePermissionDenied:
		status = http.StatusForbidden
	case xerrors.CodeUpstreamFailure:
		status = http.StatusBadGateway
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}

	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    string(code),
			"message": message,
		},
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
