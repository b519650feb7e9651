package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utrading/utrading-copy-engine/pkg/goplus"
	"github.com/utrading/utrading-copy-engine/pkg/logger"
)

// HealthServer HTTP 健康检查和指标服务器
type HealthServer struct {
	addr         string
	consumer     ConsumerRef
	publisher    PublisherRef
	engine       EngineRef
	server       *http.Server
	mu           sync.RWMutex
	healthy      bool
	healthySince time.Time
	startTime    time.Time
	metrics      *Metrics
}

// ConsumerRef 信号消费者引用接口
type ConsumerRef interface {
	IsSubscribed() bool
}

// PublisherRef NATS发布器引用接口
type PublisherRef interface {
	IsConnected() bool
}

// EngineRef 执行编排器引用接口
type EngineRef interface {
	GetStats() map[string]any
}

// NewHealthServer 创建健康检查服务器
func NewHealthServer(addr string, engine EngineRef, consumer ConsumerRef, publisher PublisherRef) *HealthServer {
	return &HealthServer{
		addr:         addr,
		consumer:     consumer,
		publisher:    publisher,
		engine:       engine,
		healthy:      true,
		healthySince: time.Now(),
		startTime:    time.Now(),
		metrics:      GetMetrics(),
	}
}

// Start 启动HTTP服务器
func (h *HealthServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("/health", h.healthHandler)
	mux.HandleFunc("/health/ready", h.readyHandler)
	mux.HandleFunc("/health/live", h.liveHandler)

	// Prometheus指标端点
	mux.Handle("/metrics", promhttp.Handler())

	// 服务状态端点
	mux.HandleFunc("/status", h.statusHandler)

	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info().Str("addr", h.addr).Msg("health server starting")

	goplus.Go(func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health server error")
		}
	})

	logger.Info().Str("addr", h.addr).Msg("health server started")

	return nil
}

// Stop 停止服务器
func (h *HealthServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.healthy = false
	h.mu.Unlock()

	return h.server.Shutdown(ctx)
}

// healthHandler 健康检查处理器
func (h *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := h.getHealthStatus()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// readyHandler 就绪检查处理器
func (h *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	ready := h.isReady()
	if !ready {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// liveHandler 存活检查处理器
func (h *HealthServer) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// statusHandler 服务状态处理器
func (h *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := h.getHealthStatus()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// isReady 检查服务是否就绪
// 信号订阅断开时摘除流量，已在执行中的任务不受影响
func (h *HealthServer) isReady() bool {
	h.mu.RLock()
	healthy := h.healthy
	h.mu.RUnlock()

	if !healthy {
		return false
	}

	if h.consumer != nil && !h.consumer.IsSubscribed() {
		return false
	}

	return true
}

// getHealthStatus 获取健康状态
func (h *HealthServer) getHealthStatus() HealthStatus {
	h.mu.RLock()
	healthy := h.healthy
	healthySince := h.healthySince
	h.mu.RUnlock()

	subscribed := false
	if h.consumer != nil {
		subscribed = h.consumer.IsSubscribed()
	}

	natsConnected := false
	if h.publisher != nil {
		natsConnected = h.publisher.IsConnected()
	}

	var engineStats map[string]any
	if h.engine != nil {
		engineStats = h.engine.GetStats()
	}

	return HealthStatus{
		Healthy:      healthy,
		HealthySince: healthySince.Format(time.RFC3339),
		Uptime:       time.Since(h.startTime).String(),
		NATS: NATSStatus{
			Connected:  natsConnected,
			Subscribed: subscribed,
		},
		Engine: engineStats,
	}
}

// HealthStatus 健康状态结构
type HealthStatus struct {
	Healthy      bool           `json:"healthy"`
	HealthySince string         `json:"healthy_since"`
	Uptime       string         `json:"uptime"`
	NATS         NATSStatus     `json:"nats"`
	Engine       map[string]any `json:"engine,omitempty"`
}

// NATSStatus NATS连接状态
type NATSStatus struct {
	Connected  bool `json:"connected"`
	Subscribed bool `json:"subscribed"`
}

// Metrics 指标收集器
type Metrics struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration prometheus.Histogram
	riskBlocked       *prometheus.CounterVec
	dedupSkipped      prometheus.Counter
	exchangeErrors    *prometheus.CounterVec
	// 事件扇出相关
	eventsConsumed  *prometheus.CounterVec
	fanoutFollowers prometheus.Histogram
	fanoutDuration  prometheus.Histogram
	// NATS 相关
	natsConnected    prometheus.Gauge
	resultsPublished prometheus.Counter
	publishErrors    prometheus.Counter
	// 钱包相关
	walletsDeactivated prometheus.Counter
}

// NewMetrics 创建指标收集器
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of copy executions by action and final status",
			},
			[]string{"action", "status"}, // open/close × open/blocked/failed/closed/skipped
		),
		executionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "单个跟单者执行耗时分布（秒）",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		riskBlocked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "risk_blocked_total",
				Help:      "风控拦截总数（按原因）",
			},
			[]string{"reason"},
		),
		dedupSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_deduplicated_total",
				Help:      "Total number of executions skipped by deduplication",
			},
		),
		exchangeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exchange_errors_total",
				Help:      "交易所调用失败总数（按错误类型）",
			},
			[]string{"type"}, // auth, network, exchange, validation
		),
		eventsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trade_events_consumed_total",
				Help:      "Total number of trade lifecycle events consumed",
			},
			[]string{"action"}, // opened, closed
		),
		fanoutFollowers: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fanout_followers_per_event",
				Help:      "每个信号事件的跟单者数量分布",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		),
		fanoutDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fanout_duration_seconds",
				Help:      "整个事件扇出耗时分布（秒）",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		natsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "nats_connected",
				Help:      "NATS connection status (1=connected, 0=disconnected)",
			},
		),
		resultsPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "results_published_total",
				Help:      "Total number of execution results published to NATS",
			},
		),
		publishErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "result_publish_errors_total",
				Help:      "Total number of execution result publish errors",
			},
		),
		walletsDeactivated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wallets_deactivated_total",
				Help:      "凭证失效被停用的钱包总数",
			},
		),
	}

	prometheus.MustRegister(
		m.executionsTotal,
		m.executionDuration,
		m.riskBlocked,
		m.dedupSkipped,
		m.exchangeErrors,
		m.eventsConsumed,
		m.fanoutFollowers,
		m.fanoutDuration,
		m.natsConnected,
		m.resultsPublished,
		m.publishErrors,
		m.walletsDeactivated,
	)

	return m
}

// IncExecution 增加跟单执行计数
func (m *Metrics) IncExecution(action, status string) {
	m.executionsTotal.WithLabelValues(action, status).Inc()
}

// ObserveExecutionDuration 观察单次执行耗时
func (m *Metrics) ObserveExecutionDuration(seconds float64) {
	m.executionDuration.Observe(seconds)
}

// IncRiskBlocked 增加风控拦截计数
func (m *Metrics) IncRiskBlocked(reason string) {
	m.riskBlocked.WithLabelValues(reason).Inc()
}

// IncDedupSkipped 增加去重跳过计数
func (m *Metrics) IncDedupSkipped() {
	m.dedupSkipped.Inc()
}

// IncExchangeError 增加交易所错误计数
func (m *Metrics) IncExchangeError(errType string) {
	m.exchangeErrors.WithLabelValues(errType).Inc()
}

// IncEventConsumed 增加消费的信号事件计数
func (m *Metrics) IncEventConsumed(action string) {
	m.eventsConsumed.WithLabelValues(action).Inc()
}

// ObserveFanout 观察一次事件扇出
func (m *Metrics) ObserveFanout(followers int, seconds float64) {
	m.fanoutFollowers.Observe(float64(followers))
	m.fanoutDuration.Observe(seconds)
}

// SetNATSConnected 设置NATS连接状态
func (m *Metrics) SetNATSConnected(connected bool) {
	if connected {
		m.natsConnected.Set(1)
	} else {
		m.natsConnected.Set(0)
	}
}

// IncResultsPublished 增加发布的结果计数
func (m *Metrics) IncResultsPublished() {
	m.resultsPublished.Inc()
}

// IncPublishErrors 增加结果发布失败计数
func (m *Metrics) IncPublishErrors() {
	m.publishErrors.Inc()
}

// IncWalletsDeactivated 增加停用钱包计数
func (m *Metrics) IncWalletsDeactivated() {
	m.walletsDeactivated.Inc()
}

var globalMetrics *Metrics
var metricsMu sync.Once

// GetMetrics 获取全局指标收集器
func GetMetrics() *Metrics {
	metricsMu.Do(func() {
		globalMetrics = NewMetrics("copy_engine")
	})
	return globalMetrics
}

// InitMetrics 初始化指标收集器（供main使用）
func InitMetrics() {
	GetMetrics()
}
