package pgva

import (
	"fmt"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"
)

// RegisterTransport Modbus 暫存器傳輸抽象。讀取操作回傳依 Big Endian
// 解碼後的 16 位元暫存器值;所有失敗以 KindCommunication 錯誤回報。
type RegisterTransport interface {
	ReadInputRegisters(address, quantity uint16) ([]uint16, error)
	ReadHoldingRegisters(address, quantity uint16) ([]uint16, error)
	WriteSingleRegister(address, value uint16) error
	Close() error
}

// tcpTransport 以 goburrow/modbus 實作的 Modbus TCP 傳輸。
type tcpTransport struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// newTCPTransport 建立並連線 Modbus TCP 傳輸。
func newTCPTransport(cfg *Config, logger *zap.Logger) (*tcpTransport, error) {
	if cfg.Interface != InterfaceTCP {
		return nil, errConfigMismatch("配置介面 %q 與 TCP 後端不符", cfg.Interface)
	}

	addr := cfg.Endpoint()
	handler := modbus.NewTCPClientHandler(addr)
	handler.Timeout = cfg.Command.Timeout
	handler.SlaveId = cfg.UnitID
	handler.Logger = zap.NewStdLog(logger.Named("modbus"))

	if err := handler.Connect(); err != nil {
		return nil, errCommunication(fmt.Sprintf("連線 %s 失敗", addr), err)
	}

	return &tcpTransport{
		handler: handler,
		client:  modbus.NewClient(handler),
	}, nil
}

// newSerialTransport 序列埠 (Modbus RTU) 後端尚未實作,建構時立即失敗。
func newSerialTransport(cfg *Config) (RegisterTransport, error) {
	if cfg.Interface != InterfaceSerial {
		return nil, errConfigMismatch("配置介面 %q 與序列後端不符", cfg.Interface)
	}
	return nil, errUnimplemented("序列埠 (Modbus RTU) 後端尚未實作,請改用 TCP 介面")
}

func (t *tcpTransport) ReadInputRegisters(address, quantity uint16) ([]uint16, error) {
	data, err := t.client.ReadInputRegisters(address, quantity)
	if err != nil {
		return nil, errCommunication(fmt.Sprintf("讀取輸入暫存器 %d 失敗", address), err)
	}
	return BytesToRegisters(data), nil
}

func (t *tcpTransport) ReadHoldingRegisters(address, quantity uint16) ([]uint16, error) {
	data, err := t.client.ReadHoldingRegisters(address, quantity)
	if err != nil {
		return nil, errCommunication(fmt.Sprintf("讀取保持暫存器 %d 失敗", address), err)
	}
	return BytesToRegisters(data), nil
}

func (t *tcpTransport) WriteSingleRegister(address, value uint16) error {
	if _, err := t.client.WriteSingleRegister(address, value); err != nil {
		return errCommunication(fmt.Sprintf("寫入暫存器 %d 失敗", address), err)
	}
	return nil
}

func (t *tcpTransport) Close() error {
	return t.handler.Close()
}
