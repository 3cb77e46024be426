package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pgva-driver"
)

// Telemetry 遙測訊息
type Telemetry struct {
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"timestamp"`
	Firmware  string `json:"firmware"`

	VacuumChamberMbar   int  `json:"vacuum_chamber_mbar"`
	PressureChamberMbar int  `json:"pressure_chamber_mbar"`
	OutputPressureMbar  int  `json:"output_pressure_mbar"`
	ExternalSensorMbar  *int `json:"external_sensor_mbar,omitempty"`

	Status map[string]string `json:"status"`
}

// Command 命令訊息。op 可為 output、pressure、vacuum、trigger、pump。
type Command struct {
	Op   string `json:"op"`
	Mbar int    `json:"mbar,omitempty"`
	Ms   int    `json:"ms,omitempty"`
	On   bool   `json:"on,omitempty"`
}

// CommandResult 命令執行結果
type CommandResult struct {
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
	Op        string `json:"op"`
	OK        bool   `json:"ok"`
	Skipped   bool   `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Bridge 將單一 PGVA 裝置橋接到 MQTT:
// 週期性發布遙測,並接收設定命令。
type Bridge struct {
	dev       *pgva.PGVA
	client    mqtt.Client
	sessionID string
	prefix    string
	interval  time.Duration
	qos       byte
	logger    *zap.Logger
}

func newBridge(dev *pgva.PGVA, brokerURL, clientID, prefix string, interval time.Duration, logger *zap.Logger) (*Bridge, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetKeepAlive(30 * time.Second).
		SetConnectTimeout(5 * time.Second).
		SetPingTimeout(3 * time.Second).
		SetOrderMatters(false)

	if username := os.Getenv("MQTT_USERNAME"); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(os.Getenv("MQTT_PASSWORD"))
	}

	client := mqtt.NewClient(opts)
	t := client.Connect()
	if ok := t.WaitTimeout(10 * time.Second); !ok || t.Error() != nil {
		if err := t.Error(); err != nil {
			return nil, fmt.Errorf("連線 MQTT broker %s 失敗: %w", brokerURL, err)
		}
		return nil, fmt.Errorf("連線 MQTT broker %s 逾時", brokerURL)
	}

	return &Bridge{
		dev:       dev,
		client:    client,
		sessionID: uuid.NewString(),
		prefix:    prefix,
		interval:  interval,
		qos:       1,
		logger:    logger,
	}, nil
}

// Run 訂閱命令主題後進入遙測發布迴圈,直到 ctx 取消。
func (b *Bridge) Run(ctx context.Context) error {
	commandTopic := b.prefix + "/command"
	t := b.client.Subscribe(commandTopic, b.qos, b.handleCommand)
	t.Wait()
	if err := t.Error(); err != nil {
		return fmt.Errorf("訂閱 %s 失敗: %w", commandTopic, err)
	}

	b.logger.Info("橋接器已啟動",
		zap.String("session_id", b.sessionID),
		zap.String("telemetry_topic", b.prefix+"/telemetry"),
		zap.String("command_topic", commandTopic),
		zap.Duration("interval", b.interval))

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.publishTelemetry(ctx); err != nil {
				b.logger.Warn("發布遙測失敗", zap.Error(err))
			}
		}
	}
}

func (b *Bridge) publishTelemetry(ctx context.Context) error {
	readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sensors, err := b.dev.GetInternalSensorData(readCtx)
	if err != nil {
		return err
	}
	status, err := b.dev.GetStatusWord(readCtx)
	if err != nil {
		return err
	}

	msg := Telemetry{
		MessageID:           uuid.NewString(),
		SessionID:           b.sessionID,
		Timestamp:           time.Now().Unix(),
		Firmware:            b.dev.FirmwareVersion().String(),
		VacuumChamberMbar:   sensors.VacuumChamber,
		PressureChamberMbar: sensors.PressureChamber,
		OutputPressureMbar:  sensors.OutputPressure,
		Status:              status,
	}
	if sensors.HasExternalSensor {
		external := sensors.ExternalSensor
		msg.ExternalSensorMbar = &external
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	pt := b.client.Publish(b.prefix+"/telemetry", b.qos, false, payload)
	pt.Wait()
	return pt.Error()
}

// handleCommand 解析命令、執行後將結果發布回 result 主題。
func (b *Bridge) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		b.logger.Warn("無法解析命令", zap.Error(err))
		b.publishResult(CommandResult{
			MessageID: uuid.NewString(),
			SessionID: b.sessionID,
			OK:        false,
			Error:     fmt.Sprintf("無法解析命令: %v", err),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result := CommandResult{
		MessageID: uuid.NewString(),
		SessionID: b.sessionID,
		Op:        cmd.Op,
		OK:        true,
	}

	var err error
	switch cmd.Op {
	case "output":
		var outcome pgva.SetOutcome
		outcome, err = b.dev.SetOutputPressure(ctx, cmd.Mbar)
		if outcome == pgva.OutcomeSkippedPumpDisabled {
			result.Skipped = true
		}
	case "pressure":
		err = b.dev.SetPressureChamber(ctx, cmd.Mbar)
	case "vacuum":
		err = b.dev.SetVacuumChamber(ctx, cmd.Mbar)
	case "trigger":
		err = b.dev.TriggerActuationValve(ctx, cmd.Ms)
	case "pump":
		err = b.dev.TogglePump(ctx, cmd.On)
	default:
		err = fmt.Errorf("未知的命令: %q", cmd.Op)
	}

	if err != nil {
		result.OK = false
		result.Error = err.Error()
		b.logger.Warn("命令執行失敗", zap.String("op", cmd.Op), zap.Error(err))
	} else {
		b.logger.Info("命令執行完成",
			zap.String("op", cmd.Op),
			zap.Bool("skipped", result.Skipped))
	}

	b.publishResult(result)
}

func (b *Bridge) publishResult(result CommandResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		b.logger.Warn("無法序列化命令結果", zap.Error(err))
		return
	}
	t := b.client.Publish(b.prefix+"/result", b.qos, false, payload)
	t.Wait()
	if err := t.Error(); err != nil {
		b.logger.Warn("發布命令結果失敗", zap.Error(err))
	}
}

// Close 中斷 MQTT 連線
func (b *Bridge) Close() {
	if b.client != nil && b.client.IsConnectionOpen() {
		b.client.Disconnect(250)
	}
}
