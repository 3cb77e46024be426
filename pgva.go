package pgva

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// PGVA PGVA-1 裝置門面。依配置選擇通訊後端 (封閉變體集,建構時分派一次),
// 之後所有操作 1:1 轉送給暫存器客戶端。
type PGVA struct {
	cfg    *Config
	client *Client
	logger *zap.Logger
}

// New 建立 PGVA 裝置門面並建立連線。
// TCP 介面為目前唯一實作;序列介面回傳 KindUnimplemented,
// 未知介面回傳 KindConfigMismatch。
func New(cfg *Config, logger *zap.Logger) (*PGVA, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		return nil, errConfigMismatch("配置不可為空")
	}

	switch cfg.Interface {
	case InterfaceTCP:
		if err := cfg.Validate(); err != nil {
			return nil, errConfigMismatch("%v", err)
		}

		transport, err := newTCPTransport(cfg, logger)
		if err != nil {
			return nil, err
		}

		client, err := NewClient(transport,
			WithLogger(logger),
			WithCommandTimeout(cfg.Command.Timeout),
			WithPollInterval(cfg.Command.PollInterval),
		)
		if err != nil {
			_ = transport.Close()
			return nil, err
		}

		logger.Info("PGVA 已透過 TCP 連線",
			zap.String("host", cfg.TCP.IP),
			zap.Int("port", cfg.TCP.Port),
			zap.Uint8("unit_id", cfg.UnitID),
			zap.String("firmware", client.FirmwareVersion().String()),
		)
		return &PGVA{cfg: cfg, client: client, logger: logger}, nil

	case InterfaceSerial:
		logger.Error("序列埠後端尚未實作,無法透過門面建立連線")
		_, err := newSerialTransport(cfg)
		return nil, err

	default:
		return nil, errConfigMismatch("不支援的介面類型: %q", cfg.Interface)
	}
}

// Client 回傳底層暫存器客戶端。
func (p *PGVA) Client() *Client {
	return p.client
}

// Close 關閉與裝置的連線。
func (p *PGVA) Close() error {
	return p.client.Close()
}

// FirmwareVersion 回傳連線時快取的韌體版本。
func (p *PGVA) FirmwareVersion() FirmwareVersion {
	return p.client.FirmwareVersion()
}

// SetOutputPressure 設定輸出壓力 (-450..450 mBar)。
func (p *PGVA) SetOutputPressure(ctx context.Context, pressure int) (SetOutcome, error) {
	return p.client.SetOutputPressure(ctx, pressure)
}

// TriggerActuationValve 開啟輸出閥指定時間 (5..65534 ms)。
func (p *PGVA) TriggerActuationValve(ctx context.Context, ms int) error {
	return p.client.SetActuationTime(ctx, ms)
}

// SetPressureChamber 設定內部壓力腔 (200..1000 mBar)。
func (p *PGVA) SetPressureChamber(ctx context.Context, mbar int) error {
	return p.client.SetPressureChamber(ctx, mbar)
}

// SetVacuumChamber 設定內部真空腔 (-900..-200 mBar)。
func (p *PGVA) SetVacuumChamber(ctx context.Context, mbar int) error {
	return p.client.SetVacuumChamber(ctx, mbar)
}

// GetPressureChamber 讀取內部壓力腔壓力 (mBar)。
func (p *PGVA) GetPressureChamber(ctx context.Context) (int, error) {
	return p.client.GetPressureChamber(ctx)
}

// GetVacuumChamber 讀取內部真空腔壓力 (mBar)。
func (p *PGVA) GetVacuumChamber(ctx context.Context) (int, error) {
	return p.client.GetVacuumChamber(ctx)
}

// GetOutputPressure 讀取輸出埠壓力 (mBar)。
func (p *PGVA) GetOutputPressure(ctx context.Context) (int, error) {
	return p.client.GetOutputPressure(ctx)
}

// GetInternalSensorData 彙整所有內部感測器讀值。
func (p *PGVA) GetInternalSensorData(ctx context.Context) (SensorData, error) {
	return p.client.GetInternalSensorData(ctx)
}

// TogglePump 啟用或停用泵浦。
func (p *PGVA) TogglePump(ctx context.Context, on bool) error {
	return p.client.TogglePump(ctx, on)
}

// ToggleTrigger 手動觸發;因韌體缺陷一律回傳 KindNotSupported。
func (p *PGVA) ToggleTrigger(ctx context.Context, on bool) error {
	return p.client.ToggleManualTrigger(ctx, on)
}

// GetStatusWord 讀取並解碼狀態字組。
func (p *PGVA) GetStatusWord(ctx context.Context) (map[string]string, error) {
	return p.client.GetStatusWord(ctx)
}

// GetWarningWord 讀取並解碼警告字組。
func (p *PGVA) GetWarningWord(ctx context.Context) (map[string]string, error) {
	return p.client.GetWarningWord(ctx)
}

// GetErrorWord 讀取並解碼錯誤字組。
func (p *PGVA) GetErrorWord(ctx context.Context) (map[string]string, error) {
	return p.client.GetErrorWord(ctx)
}

// GetModbusErrorWord 讀取並解碼最近一次 Modbus 錯誤字組。
func (p *PGVA) GetModbusErrorWord(ctx context.Context) (map[string]string, error) {
	return p.client.GetModbusErrorWord(ctx)
}

// DriverInformation 以公開讀取操作組出人類可讀的驅動資訊報告。
// 報告格式化不屬於核心客戶端,僅由門面提供。
func (p *PGVA) DriverInformation(ctx context.Context) (string, error) {
	data, err := p.client.GetInternalSensorData(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Driver Information:\n")
	fmt.Fprintf(&b, "* Firmware version: %s\n", p.client.FirmwareVersion())
	fmt.Fprintf(&b, "* Connection type: %s\n", p.cfg.Interface)
	fmt.Fprintf(&b, "* Vacuum chamber: %d mBar\n", data.VacuumChamber)
	fmt.Fprintf(&b, "* Pressure chamber: %d mBar\n", data.PressureChamber)
	fmt.Fprintf(&b, "* Output pressure: %d mBar\n", data.OutputPressure)
	if data.HasExternalSensor {
		fmt.Fprintf(&b, "* External sensor: %d\n", data.ExternalSensor)
	}
	if p.cfg.Interface == InterfaceTCP {
		fmt.Fprintf(&b, "* IP Address: %s\n", p.cfg.TCP.IP)
		fmt.Fprintf(&b, "* Port: %d\n", p.cfg.TCP.Port)
		fmt.Fprintf(&b, "* Modbus Slave ID: %d\n", p.cfg.UnitID)
	}
	return b.String(), nil
}
