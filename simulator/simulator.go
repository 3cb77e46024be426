// Package simulator 在 TCP 上重現 PGVA-1 分注裝置的 Modbus 行為,
// 供驅動程式整合測試與無硬體環境的開發使用。
package simulator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tbrandon/mbserver"
	"go.uber.org/zap"

	"pgva-driver"
)

// State 模擬器狀態
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// PGVA-1 僅支援 FC03/04/06,其餘功能碼一律回應 IllegalFunction。
var unsupportedFunctionCodes = []uint8{1, 2, 5, 15, 16}

// Stats 累計計數器,由 Modbus 處理函式與裝置模型遞增。
type Stats struct {
	Requests        atomic.Uint64
	Writes          atomic.Uint64
	Errors          atomic.Uint64
	BusyTransitions atomic.Uint64
}

// StatsSnapshot 計數器的瞬時值
type StatsSnapshot struct {
	Requests        uint64
	Writes          uint64
	Errors          uint64
	BusyTransitions uint64
}

// Simulator 單一 PGVA-1 裝置的 Modbus TCP 模擬器
type Simulator struct {
	cfg    *Config
	logger *zap.Logger

	sessionID string
	state     atomic.Int32
	startTime time.Time

	device *device
	server *mbserver.Server
	snap   *Snapshot

	stats Stats
}

// Option 模擬器選項
type Option func(*Simulator)

// WithLogger 指定日誌器,預設為 no-op。
func WithLogger(logger *zap.Logger) Option {
	return func(s *Simulator) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFirmware 覆蓋裝置回報的韌體版本。
func WithFirmware(version pgva.FirmwareVersion) Option {
	return func(s *Simulator) {
		s.cfg.Device.Firmware = version.String()
	}
}

// WithBusyDuration 覆蓋每個寫入命令的忙碌時長。
func WithBusyDuration(d time.Duration) Option {
	return func(s *Simulator) {
		s.cfg.Device.BusyDuration = d
	}
}

// WithWedged 讓忙碌位元永不清除,模擬卡死的裝置。
func WithWedged() Option {
	return func(s *Simulator) {
		s.cfg.Device.Wedged = true
	}
}

// WithStorage 啟用暫存器快照並指定檔案路徑。
func WithStorage(path string) Option {
	return func(s *Simulator) {
		s.cfg.Persistence.Enabled = true
		s.cfg.Persistence.Path = path
	}
}

// New 建立模擬器。cfg 為 nil 時使用預設配置。
func New(cfg *Config, opts ...Option) (*Simulator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Simulator{
		cfg:       cfg,
		logger:    zap.NewNop(),
		sessionID: uuid.NewString(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置驗證失敗: %w", err)
	}

	dev, err := newDevice(cfg.Device, &s.stats, s.logger.Named("device"))
	if err != nil {
		return nil, err
	}
	s.device = dev

	return s, nil
}

// Start 開始監聽 Modbus TCP 連線。
func (s *Simulator) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("模擬器已經在運行中")
	}
	s.startTime = time.Now()

	if s.cfg.Persistence.Enabled {
		snap, err := OpenSnapshot(s.cfg.Persistence.Path, s.logger)
		if err != nil {
			s.state.Store(int32(StateStopped))
			return err
		}
		if err := s.device.attachSnapshot(snap); err != nil {
			snap.Close()
			s.state.Store(int32(StateStopped))
			return err
		}
		s.snap = snap
	}

	server := mbserver.NewServer()
	server.RegisterFunctionHandler(fcReadHoldingRegisters,
		s.instrument("ReadHoldingRegisters", s.device.readHoldingRegisters))
	server.RegisterFunctionHandler(fcReadInputRegisters,
		s.instrument("ReadInputRegisters", s.device.readInputRegisters))
	server.RegisterFunctionHandler(fcWriteSingleRegister,
		s.instrument("WriteSingleRegister", s.device.writeSingleRegister))
	for _, fc := range unsupportedFunctionCodes {
		server.RegisterFunctionHandler(fc, s.instrument("Unsupported", s.device.rejectFunction))
	}
	s.server = server

	if err := server.ListenTCP(s.cfg.Endpoint()); err != nil {
		s.closeSnapshot()
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("監聽 %s 失敗: %w", s.cfg.Endpoint(), err)
	}

	s.state.Store(int32(StateRunning))
	s.logger.Info("PGVA 模擬器已啟動",
		zap.String("session", s.sessionID),
		zap.String("addr", s.cfg.Endpoint()),
		zap.String("firmware", s.cfg.Device.Firmware),
		zap.Duration("busy_duration", s.cfg.Device.BusyDuration),
		zap.Bool("wedged", s.cfg.Device.Wedged),
	)

	return nil
}

// Stop 停止監聽、落盤最後的暫存器狀態。重複呼叫無副作用。
func (s *Simulator) Stop() error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}

	if s.server != nil {
		s.server.Close()
	}
	s.device.stopTimers()
	s.device.flushSnapshot()
	s.closeSnapshot()

	s.state.Store(int32(StateStopped))
	s.logger.Info("PGVA 模擬器已停止",
		zap.String("session", s.sessionID),
		zap.Duration("uptime", time.Since(s.startTime)),
		zap.Uint64("requests", s.stats.Requests.Load()),
	)

	return nil
}

// instrument 包裝處理函式,統計請求數與例外回應。
func (s *Simulator) instrument(name string, handler func(mbserver.Framer) ([]byte, *mbserver.Exception)) func(*mbserver.Server, mbserver.Framer) ([]byte, *mbserver.Exception) {
	return func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		s.stats.Requests.Add(1)
		data, exc := handler(frame)
		if exc != &mbserver.Success {
			s.stats.Errors.Add(1)
			s.logger.Debug("回應 Modbus 例外",
				zap.String("function", name),
				zap.String("exception", exc.String()),
			)
		}
		return data, exc
	}
}

func (s *Simulator) closeSnapshot() {
	if s.snap == nil {
		return
	}
	// 先解除裝置端的參照,避免忙碌計時器寫入已解除映射的記憶體
	s.device.detachSnapshot()
	if err := s.snap.Close(); err != nil {
		s.logger.Warn("關閉快照檔失敗", zap.Error(err))
	}
	s.snap = nil
}

// State 回傳目前狀態。
func (s *Simulator) State() State {
	return State(s.state.Load())
}

// SessionID 回傳本次運行的會話識別碼。
func (s *Simulator) SessionID() string {
	return s.sessionID
}

// Addr 回傳 Modbus TCP 監聽位址。
func (s *Simulator) Addr() string {
	return s.cfg.Endpoint()
}

// Firmware 回傳裝置回報的韌體版本字串。
func (s *Simulator) Firmware() string {
	return s.cfg.Device.Firmware
}

// Readings 回傳目前的感測值 (mBar),依序為真空腔、壓力腔、輸出壓力。
func (s *Simulator) Readings() (vacuum, pressure, output int) {
	return s.device.sensorReadings()
}

// Stats 回傳累計計數器的瞬時值。
func (s *Simulator) Stats() StatsSnapshot {
	return StatsSnapshot{
		Requests:        s.stats.Requests.Load(),
		Writes:          s.stats.Writes.Load(),
		Errors:          s.stats.Errors.Load(),
		BusyTransitions: s.stats.BusyTransitions.Load(),
	}
}
