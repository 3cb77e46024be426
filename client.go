package pgva

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SetOutcome 設定型操作的結果
type SetOutcome int

const (
	// OutcomeApplied 設定值已寫入裝置並確認執行完成
	OutcomeApplied SetOutcome = iota
	// OutcomeSkippedPumpDisabled 泵浦未啟用,寫入被略過 (非錯誤)
	OutcomeSkippedPumpDisabled
)

func (o SetOutcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSkippedPumpDisabled:
		return "skipped_pump_disabled"
	default:
		return "unknown"
	}
}

// Client PGVA-1 Modbus 暫存器客戶端。持有單一傳輸連線,
// 所有暫存器操作經由互斥鎖序列化,避免兩個寫入交錯送往同一裝置。
// 韌體版本於建構時讀取一次並快取。
type Client struct {
	mu        sync.Mutex
	transport RegisterTransport
	logger    *zap.Logger

	timeout      time.Duration
	pollInterval time.Duration

	firmware FirmwareVersion
}

// ClientOption 客戶端選項
type ClientOption func(*Client)

// WithLogger 注入結構化日誌,預設為 no-op。
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCommandTimeout 設定寫入後等待忙碌位元清除的逾時上限。
func WithCommandTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPollInterval 設定忙碌位元的輪詢間隔。
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// NewClient 建立客戶端並讀取韌體版本。
func NewClient(transport RegisterTransport, opts ...ClientOption) (*Client, error) {
	c := &Client{
		transport:    transport,
		logger:       zap.NewNop(),
		timeout:      DefaultCommandTimeout,
		pollInterval: DefaultPollInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	firmware, err := c.readFirmwareVersion(context.Background())
	if err != nil {
		return nil, err
	}
	c.firmware = firmware
	c.logger.Debug("韌體版本讀取完成", zap.String("firmware", firmware.String()))

	return c, nil
}

// FirmwareVersion 回傳連線時快取的韌體版本,不產生 I/O。
func (c *Client) FirmwareVersion() FirmwareVersion {
	return c.firmware
}

// Close 關閉傳輸連線。
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport.Close()
}

// --- 設定操作 (驗證 → 寫入 → 輪詢忙碌位元) ---

// SetOutputPressure 設定輸出壓力 (-450..450 mBar)。
// 韌體支援泵浦控制時會先讀取泵浦啟用暫存器;泵浦未啟用時略過寫入、
// 發出警告並回傳 OutcomeSkippedPumpDisabled。
func (c *Client) SetOutputPressure(ctx context.Context, pressure int) (SetOutcome, error) {
	if pressure < MinOutputPressureMbar || pressure > MaxOutputPressureMbar {
		c.logger.Error("輸出壓力超出工作範圍", zap.Int("pressure", pressure))
		return 0, errOutOfRange("輸出壓力 %d 超出範圍 [%d, %d] mBar",
			pressure, MinOutputPressureMbar, MaxOutputPressureMbar)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	enabled, err := c.pumpEnabled(ctx)
	if err != nil {
		return 0, err
	}
	if !enabled {
		c.logger.Warn("泵浦未啟用,略過輸出壓力設定,請先呼叫 TogglePump(true)",
			zap.Int("pressure", pressure))
		return OutcomeSkippedPumpDisabled, nil
	}

	c.logger.Info("設定輸出壓力", zap.Int("pressure", pressure))
	if err := c.writeAndWait(ctx, RegOutputPressure, pressure); err != nil {
		return 0, err
	}
	return OutcomeApplied, nil
}

// SetActuationTime 開啟輸出閥指定時間 (5..65534 ms),寫入後立即執行。
func (c *Client) SetActuationTime(ctx context.Context, ms int) error {
	if ms < MinActuationTimeMs || ms > MaxActuationTimeMs {
		c.logger.Error("閥門致動時間超出範圍", zap.Int("ms", ms))
		return errOutOfRange("致動時間 %d 超出範圍 [%d, %d] ms",
			ms, MinActuationTimeMs, MaxActuationTimeMs)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("觸發輸出閥", zap.Int("ms", ms))
	return c.writeAndWait(ctx, RegValveActuationTime, ms)
}

// SetPressureChamber 設定內部壓力腔 (200..1000 mBar),
// 寫入前依操作手冊係數換算為暫存器原始值。
func (c *Client) SetPressureChamber(ctx context.Context, mbar int) error {
	if mbar < MinPressureChamberMbar || mbar > MaxPressureChamberMbar {
		c.logger.Error("壓力腔設定值超出工作範圍", zap.Int("mbar", mbar))
		return errOutOfRange("壓力腔設定值 %d 超出範圍 [%d, %d] mBar",
			mbar, MinPressureChamberMbar, MaxPressureChamberMbar)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	raw := PressureChamberToRaw(mbar)
	c.logger.Info("設定壓力腔", zap.Int("mbar", mbar), zap.Int("raw", raw))
	return c.writeAndWait(ctx, RegPressureThreshold, raw)
}

// SetVacuumChamber 設定內部真空腔 (-900..-200 mBar),
// 寫入前依操作手冊係數換算為暫存器原始值。
func (c *Client) SetVacuumChamber(ctx context.Context, mbar int) error {
	if mbar < MinVacuumChamberMbar || mbar > MaxVacuumChamberMbar {
		c.logger.Error("真空腔設定值超出工作範圍", zap.Int("mbar", mbar))
		return errOutOfRange("真空腔設定值 %d 超出範圍 [%d, %d] mBar",
			mbar, MinVacuumChamberMbar, MaxVacuumChamberMbar)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	raw := VacuumChamberToRaw(mbar)
	c.logger.Info("設定真空腔", zap.Int("mbar", mbar), zap.Int("raw", raw))
	return c.writeAndWait(ctx, RegVacuumThreshold, raw)
}

// TogglePump 啟用或停用泵浦;不支援泵浦控制的韌體僅記錄訊息,不產生寫入。
func (c *Client) TogglePump(ctx context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.firmware.SupportsPumpControl() {
		c.logger.Info("此韌體版本不支援泵浦啟用/停用功能",
			zap.String("firmware", c.firmware.String()))
		return nil
	}

	value := 0
	if on {
		value = 1
	}
	c.logger.Info("切換泵浦", zap.Bool("on", on))
	return c.writeAndWait(ctx, RegPumpEnable, value)
}

// EnablePump 啟用泵浦。
func (c *Client) EnablePump(ctx context.Context) error {
	return c.TogglePump(ctx, true)
}

// DisablePump 停用泵浦。
func (c *Client) DisablePump(ctx context.Context) error {
	return c.TogglePump(ctx, false)
}

// ToggleManualTrigger 手動觸發因 PGVA-1 韌體 (<= 2.0.45) 缺陷而停用,
// 一律回傳 KindNotSupported,不產生任何寫入。
func (c *Client) ToggleManualTrigger(ctx context.Context, on bool) error {
	c.logger.Warn("手動觸發功能停用: PGVA-1 韌體 <= 2.0.45 存在已知缺陷")
	return errNotSupported("手動觸發因 PGVA-1 韌體 (<= 2.0.45) 缺陷而停用")
}

// --- 讀取操作 ---

// GetVacuumChamber 讀取內部真空腔壓力 (mBar)。
// 讀值一律以讀值當下的位元長度做二補數還原。
func (c *Client) GetVacuumChamber(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vacuumChamber(ctx)
}

// GetPressureChamber 讀取內部壓力腔壓力 (mBar)。
func (c *Client) GetPressureChamber(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pressureChamber(ctx)
}

// GetOutputPressure 讀取輸出埠壓力 (mBar)。
func (c *Client) GetOutputPressure(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputPressure(ctx)
}

// GetExternalSensor 讀取外部感測器原始值;韌體不支援時回傳 KindNotSupported。
func (c *Client) GetExternalSensor(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.firmware.SupportsExternalSensor() {
		return 0, errNotSupported("此韌體版本不提供外部感測器讀值")
	}
	return c.externalSensor(ctx)
}

// SensorData 內部感測器讀值彙整 (mBar)。
type SensorData struct {
	VacuumChamber   int
	PressureChamber int
	OutputPressure  int

	// ExternalSensor 僅在韌體支援時讀取,HasExternalSensor 為其有效旗標。
	ExternalSensor    int
	HasExternalSensor bool
}

// GetInternalSensorData 彙整內部感測器讀值:真空腔、壓力腔與輸出壓力,
// 韌體支援時加上外部感測器。任一讀取失敗即中止並回傳該錯誤。
func (c *Client) GetInternalSensorData(ctx context.Context) (SensorData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data SensorData
	var err error

	if c.firmware.SupportsExternalSensor() {
		if data.ExternalSensor, err = c.externalSensor(ctx); err != nil {
			return SensorData{}, err
		}
		data.HasExternalSensor = true
	}

	if data.VacuumChamber, err = c.vacuumChamber(ctx); err != nil {
		return SensorData{}, err
	}
	if data.PressureChamber, err = c.pressureChamber(ctx); err != nil {
		return SensorData{}, err
	}
	if data.OutputPressure, err = c.outputPressure(ctx); err != nil {
		return SensorData{}, err
	}

	c.logger.Debug("內部感測器讀值",
		zap.Int("vacuum_chamber", data.VacuumChamber),
		zap.Int("pressure_chamber", data.PressureChamber),
		zap.Int("output_pressure", data.OutputPressure),
	)
	return data, nil
}

// GetStatusWord 讀取並解碼狀態字組。
func (c *Client) GetStatusWord(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.readInput(ctx, RegStatusWord)
	if err != nil {
		return nil, err
	}
	decoded := DecodeWord(statusWordFields, raw)
	c.logger.Debug("狀態字組", zap.Uint16("raw", raw), zap.Any("status", decoded))
	return decoded, nil
}

// GetWarningWord 讀取並解碼警告字組;任何欄位離開 Reset 狀態時以警告等級記錄。
func (c *Client) GetWarningWord(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.readInput(ctx, RegWarningWord)
	if err != nil {
		return nil, err
	}
	decoded := DecodeWord(warningWordFields, raw)
	if AnyFlagRaised(decoded) {
		c.logger.Warn("PGVA 警告", zap.Uint16("raw", raw), zap.Any("warnings", decoded))
	} else {
		c.logger.Debug("警告字組", zap.Uint16("raw", raw))
	}
	return decoded, nil
}

// GetErrorWord 讀取並解碼錯誤字組;任何欄位離開 Reset 狀態時以錯誤等級記錄。
func (c *Client) GetErrorWord(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.readInput(ctx, RegErrorWord)
	if err != nil {
		return nil, err
	}
	decoded := DecodeWord(errorWordFields, raw)
	if AnyFlagRaised(decoded) {
		c.logger.Error("PGVA 錯誤", zap.Uint16("raw", raw), zap.Any("errors", decoded))
	} else {
		c.logger.Debug("錯誤字組", zap.Uint16("raw", raw))
	}
	return decoded, nil
}

// GetModbusErrorWord 讀取並解碼最近一次 Modbus 錯誤字組。
func (c *Client) GetModbusErrorWord(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.readInput(ctx, RegLastModbusError)
	if err != nil {
		return nil, err
	}
	decoded := DecodeWord(modbusErrorWordFields, raw)
	if AnyFlagRaised(decoded) {
		c.logger.Error("Modbus 命令錯誤", zap.Uint16("raw", raw), zap.Any("errors", decoded))
	} else {
		c.logger.Debug("Modbus 錯誤字組", zap.Uint16("raw", raw))
	}
	return decoded, nil
}

// --- 內部:讀值與寫入同步 ---

func (c *Client) vacuumChamber(ctx context.Context) (int, error) {
	raw, err := c.readInput(ctx, RegVacuumActual)
	if err != nil {
		return 0, err
	}
	result := DecodeTwosComplement(raw, BitLength(raw))
	c.logger.Debug("真空腔讀值", zap.Int("mbar", result))
	return result, nil
}

func (c *Client) pressureChamber(ctx context.Context) (int, error) {
	raw, err := c.readInput(ctx, RegPressureActual)
	if err != nil {
		return 0, err
	}
	c.logger.Debug("壓力腔讀值", zap.Int("mbar", int(raw)))
	return int(raw), nil
}

// outputPressure 原始值大於 500 時視為負值編碼,以讀值當下的位元長度
// 做二補數還原。此門檻承襲裝置的實際行為,操作手冊並未記載,
// 不得自行「修正」。
func (c *Client) outputPressure(ctx context.Context) (int, error) {
	raw, err := c.readInput(ctx, RegOutputPressureActual)
	if err != nil {
		return 0, err
	}
	if raw > 500 {
		result := DecodeTwosComplement(raw, BitLength(raw))
		c.logger.Debug("輸出壓力讀值", zap.Int("mbar", result))
		return result, nil
	}
	c.logger.Debug("輸出壓力讀值", zap.Int("mbar", int(raw)))
	return int(raw), nil
}

func (c *Client) externalSensor(ctx context.Context) (int, error) {
	raw, err := c.readInput(ctx, RegExternalSensor)
	if err != nil {
		return 0, err
	}
	c.logger.Debug("外部感測器讀值", zap.Int("raw", int(raw)))
	return int(raw), nil
}

// pumpEnabled 讀取泵浦啟用暫存器。不支援泵浦控制的韌體一律視為已啟用,
// 且不讀取暫存器。
func (c *Client) pumpEnabled(ctx context.Context) (bool, error) {
	if !c.firmware.SupportsPumpControl() {
		c.logger.Info("此韌體版本不支援泵浦啟用/停用功能,視為已啟用")
		return true, nil
	}

	value, err := c.readHolding(ctx, RegPumpEnable)
	if err != nil {
		return false, err
	}
	return value == 1, nil
}

// readFirmwareVersion 自三個輸入暫存器讀取韌體版本三元組。
func (c *Client) readFirmwareVersion(ctx context.Context) (FirmwareVersion, error) {
	major, err := c.readInput(ctx, RegFirmwareVersion)
	if err != nil {
		return FirmwareVersion{}, err
	}
	minor, err := c.readInput(ctx, RegFirmwareSubversion)
	if err != nil {
		return FirmwareVersion{}, err
	}
	build, err := c.readInput(ctx, RegFirmwareBuild)
	if err != nil {
		return FirmwareVersion{}, err
	}
	return FirmwareVersion{Major: int(major), Minor: int(minor), Build: int(build)}, nil
}

// readInput 讀取單一輸入暫存器。
func (c *Client) readInput(ctx context.Context, reg Register) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.logger.Debug("讀取輸入暫存器",
		zap.String("register", reg.Name), zap.Uint16("address", reg.Address))
	values, err := c.transport.ReadInputRegisters(reg.Address, 1)
	if err != nil {
		c.logger.Error("讀取輸入暫存器失敗",
			zap.String("register", reg.Name), zap.Error(err))
		return 0, err
	}
	if len(values) != 1 {
		return 0, errCommunication(
			fmt.Sprintf("輸入暫存器 %s 回應數量異常: %d", reg.Name, len(values)), nil)
	}
	return values[0], nil
}

// readHolding 讀取單一保持暫存器。
func (c *Client) readHolding(ctx context.Context, reg Register) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.logger.Debug("讀取保持暫存器",
		zap.String("register", reg.Name), zap.Uint16("address", reg.Address))
	values, err := c.transport.ReadHoldingRegisters(reg.Address, 1)
	if err != nil {
		c.logger.Error("讀取保持暫存器失敗",
			zap.String("register", reg.Name), zap.Error(err))
		return 0, err
	}
	if len(values) != 1 {
		return 0, errCommunication(
			fmt.Sprintf("保持暫存器 %s 回應數量異常: %d", reg.Name, len(values)), nil)
	}
	return values[0], nil
}

// writeAndWait 寫入暫存器並等待裝置執行完成。負值以 16 位元二補數編碼。
func (c *Client) writeAndWait(ctx context.Context, reg Register, value int) error {
	raw := EncodeSignedRegister(value)
	c.logger.Debug("寫入暫存器",
		zap.String("register", reg.Name),
		zap.Uint16("address", reg.Address),
		zap.Int("value", value),
		zap.Uint16("raw", raw),
	)

	if err := c.transport.WriteSingleRegister(reg.Address, raw); err != nil {
		c.logger.Error("寫入暫存器失敗", zap.String("register", reg.Name), zap.Error(err))
		return err
	}

	return c.waitIdle(ctx, reg)
}

// waitIdle 輪詢狀態字組直到忙碌位元清除。首次輪詢即清除時不再讀取;
// 超過逾時上限回傳 KindTimeout,context 取消則回傳其原因。
func (c *Client) waitIdle(ctx context.Context, reg Register) error {
	deadline := time.Now().Add(c.timeout)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.readInput(ctx, RegStatusWord)
		if err != nil {
			return err
		}
		if !IsBusy(status) {
			return nil
		}

		if time.Now().After(deadline) {
			c.logger.Error("等待命令完成逾時",
				zap.String("register", reg.Name), zap.Duration("timeout", c.timeout))
			return errTimeout("寫入 %s 後裝置持續忙碌超過 %s", reg.Name, c.timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
