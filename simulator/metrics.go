package simulator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Collector 指標收集器,彙整模擬器計數與裝置感測值。
type Collector struct {
	mu sync.RWMutex

	simState  string
	requests  uint64
	writes    uint64
	errors    uint64
	busyCount uint64

	vacuumMbar   int
	pressureMbar int
	outputMbar   int

	// 歷史記錄 (用於計算速率)
	requestHistory []requestSample
	maxHistory     int

	sim    *Simulator
	logger *zap.Logger
}

type requestSample struct {
	timestamp time.Time
	requests  uint64
}

// MetricsSnapshot 指標快照
type MetricsSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	State     string    `json:"state"`
	SessionID string    `json:"session_id"`
	Firmware  string    `json:"firmware"`

	// 請求指標
	TotalRequests   uint64  `json:"total_requests"`
	TotalWrites     uint64  `json:"total_writes"`
	TotalErrors     uint64  `json:"total_errors"`
	BusyTransitions uint64  `json:"busy_transitions"`
	ErrorRate       float64 `json:"error_rate"`
	RequestsPerSec  float64 `json:"requests_per_sec"`

	// 裝置感測值
	VacuumChamberMbar   int `json:"vacuum_chamber_mbar"`
	PressureChamberMbar int `json:"pressure_chamber_mbar"`
	OutputPressureMbar  int `json:"output_pressure_mbar"`
}

// NewCollector 建立指標收集器
func NewCollector(sim *Simulator, logger *zap.Logger) *Collector {
	return &Collector{
		sim:        sim,
		logger:     logger,
		maxHistory: 60, // 保留 60 個樣本 (用於計算每秒速率)
	}
}

// Start 啟動背景收集與 HTTP 伺服器
func (c *Collector) Start(endpoint string, port int) error {
	go c.collectLoop()

	mux := http.NewServeMux()
	mux.HandleFunc(endpoint, c.handleMetrics)
	mux.HandleFunc("/health", c.handleHealth)
	mux.HandleFunc("/ready", c.handleReady)

	addr := fmt.Sprintf(":%d", port)
	c.logger.Info("啟動指標伺服器", zap.String("addr", addr))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			c.logger.Error("指標伺服器錯誤", zap.Error(err))
		}
	}()

	return nil
}

// collectLoop 背景收集迴圈
func (c *Collector) collectLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		c.collect()
	}
}

// collect 收集指標
func (c *Collector) collect() {
	if c.sim == nil {
		return
	}

	stats := c.sim.Stats()
	vacuum, pressure, output := c.sim.Readings()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.simState = c.sim.State().String()
	c.requests = stats.Requests
	c.writes = stats.Writes
	c.errors = stats.Errors
	c.busyCount = stats.BusyTransitions
	c.vacuumMbar = vacuum
	c.pressureMbar = pressure
	c.outputMbar = output

	// 記錄歷史
	sample := requestSample{
		timestamp: time.Now(),
		requests:  stats.Requests,
	}
	c.requestHistory = append(c.requestHistory, sample)
	if len(c.requestHistory) > c.maxHistory {
		c.requestHistory = c.requestHistory[1:]
	}
}

// Snapshot 取得指標快照
func (c *Collector) Snapshot() MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := MetricsSnapshot{
		Timestamp:           time.Now(),
		Uptime:              time.Since(c.sim.startTime).String(),
		State:               c.simState,
		SessionID:           c.sim.SessionID(),
		Firmware:            c.sim.Firmware(),
		TotalRequests:       c.requests,
		TotalWrites:         c.writes,
		TotalErrors:         c.errors,
		BusyTransitions:     c.busyCount,
		VacuumChamberMbar:   c.vacuumMbar,
		PressureChamberMbar: c.pressureMbar,
		OutputPressureMbar:  c.outputMbar,
	}

	// 計算錯誤率
	if c.requests > 0 {
		snapshot.ErrorRate = float64(c.errors) / float64(c.requests) * 100
	}

	// 計算每秒請求數 (使用最近的歷史記錄)
	if len(c.requestHistory) >= 2 {
		first := c.requestHistory[0]
		last := c.requestHistory[len(c.requestHistory)-1]
		duration := last.timestamp.Sub(first.timestamp).Seconds()
		if duration > 0 {
			snapshot.RequestsPerSec = float64(last.requests-first.requests) / duration
		}
	}

	return snapshot
}

// handleMetrics 處理 /metrics 請求
func (c *Collector) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := c.Snapshot()

	// 檢查 Accept header
	accept := r.Header.Get("Accept")
	if accept == "application/json" || r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshot)
		return
	}

	// Prometheus 格式
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	fmt.Fprintf(w, "# HELP pgvasim_uptime_seconds Uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE pgvasim_uptime_seconds gauge\n")
	fmt.Fprintf(w, "pgvasim_uptime_seconds %f\n\n", time.Since(c.sim.startTime).Seconds())

	fmt.Fprintf(w, "# HELP pgvasim_requests_total Total number of Modbus requests\n")
	fmt.Fprintf(w, "# TYPE pgvasim_requests_total counter\n")
	fmt.Fprintf(w, "pgvasim_requests_total %d\n\n", snapshot.TotalRequests)

	fmt.Fprintf(w, "# HELP pgvasim_writes_total Total number of accepted register writes\n")
	fmt.Fprintf(w, "# TYPE pgvasim_writes_total counter\n")
	fmt.Fprintf(w, "pgvasim_writes_total %d\n\n", snapshot.TotalWrites)

	fmt.Fprintf(w, "# HELP pgvasim_errors_total Total number of Modbus exceptions\n")
	fmt.Fprintf(w, "# TYPE pgvasim_errors_total counter\n")
	fmt.Fprintf(w, "pgvasim_errors_total %d\n\n", snapshot.TotalErrors)

	fmt.Fprintf(w, "# HELP pgvasim_busy_transitions_total Total number of busy cycles\n")
	fmt.Fprintf(w, "# TYPE pgvasim_busy_transitions_total counter\n")
	fmt.Fprintf(w, "pgvasim_busy_transitions_total %d\n\n", snapshot.BusyTransitions)

	fmt.Fprintf(w, "# HELP pgvasim_requests_per_second Requests per second\n")
	fmt.Fprintf(w, "# TYPE pgvasim_requests_per_second gauge\n")
	fmt.Fprintf(w, "pgvasim_requests_per_second %f\n\n", snapshot.RequestsPerSec)

	fmt.Fprintf(w, "# HELP pgvasim_vacuum_chamber_mbar Vacuum chamber reading in mBar\n")
	fmt.Fprintf(w, "# TYPE pgvasim_vacuum_chamber_mbar gauge\n")
	fmt.Fprintf(w, "pgvasim_vacuum_chamber_mbar %d\n\n", snapshot.VacuumChamberMbar)

	fmt.Fprintf(w, "# HELP pgvasim_pressure_chamber_mbar Pressure chamber reading in mBar\n")
	fmt.Fprintf(w, "# TYPE pgvasim_pressure_chamber_mbar gauge\n")
	fmt.Fprintf(w, "pgvasim_pressure_chamber_mbar %d\n\n", snapshot.PressureChamberMbar)

	fmt.Fprintf(w, "# HELP pgvasim_output_pressure_mbar Output pressure reading in mBar\n")
	fmt.Fprintf(w, "# TYPE pgvasim_output_pressure_mbar gauge\n")
	fmt.Fprintf(w, "pgvasim_output_pressure_mbar %d\n", snapshot.OutputPressureMbar)
}

// handleHealth 處理 /health 請求
func (c *Collector) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// handleReady 處理 /ready 請求
func (c *Collector) handleReady(w http.ResponseWriter, r *http.Request) {
	if c.sim == nil || c.sim.State() != StateRunning {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
