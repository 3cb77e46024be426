package simulator

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/tbrandon/mbserver"
	"go.uber.org/zap"

	"pgva-driver"
)

// Modbus 功能碼與協定限制
const (
	fcReadHoldingRegisters = 0x03
	fcReadInputRegisters   = 0x04
	fcWriteSingleRegister  = 0x06

	maxReadQuantity = 125
)

// 狀態字組的裝置端位元配置
const (
	statusPumpFieldShift uint16 = 1
	statusPumpFieldMask  uint16 = 3 << statusPumpFieldShift
	statusPumpOff        uint16 = 0
	statusPumpPressure   uint16 = 1
	statusPumpVacuum     uint16 = 2

	statusBitTargetAchieved uint16 = 1 << 6
	statusBitTriggerOpen    uint16 = 1 << 7

	// 命令完成時一併清除的暫態位元
	transientStatusBits = pgva.StatusBusyMask | statusBitTriggerOpen
)

// 警告/錯誤字組的裝置端位元
const (
	warningBitVacuumChamber uint16 = 1 << 5
	errorBitModbus          uint16 = 1 << 2
	modbusErrBitActuation   uint16 = 1 << 0
)

// device 單一 PGVA-1 裝置模型。兩張暫存器表是唯一的真實狀態,
// Modbus 處理函式與忙碌計時器都透過同一把鎖存取。
type device struct {
	mu sync.Mutex

	input   map[uint16]uint16
	holding map[uint16]uint16

	busyDuration time.Duration
	wedged       bool
	busyTimer    *time.Timer

	snap *Snapshot

	stats  *Stats
	logger *zap.Logger
}

func newDevice(cfg DeviceConfig, stats *Stats, logger *zap.Logger) (*device, error) {
	firmware, err := cfg.FirmwareVersion()
	if err != nil {
		return nil, err
	}

	d := &device{
		input:        make(map[uint16]uint16),
		holding:      make(map[uint16]uint16),
		busyDuration: cfg.BusyDuration,
		wedged:       cfg.Wedged,
		stats:        stats,
		logger:       logger,
	}

	d.input[pgva.RegFirmwareVersion.Address] = uint16(firmware.Major)
	d.input[pgva.RegFirmwareSubversion.Address] = uint16(firmware.Minor)
	d.input[pgva.RegFirmwareBuild.Address] = uint16(firmware.Build)

	d.input[pgva.RegVacuumActual.Address] = pgva.EncodeSignedRegister(cfg.VacuumChamber)
	d.input[pgva.RegPressureActual.Address] = uint16(cfg.PressureChamber)
	d.input[pgva.RegOutputPressureActual.Address] = pgva.EncodeSignedRegister(cfg.OutputPressure)
	d.input[pgva.RegExternalSensor.Address] = pgva.EncodeSignedRegister(cfg.ExternalSensor)

	// 設定值暫存器與感測讀值保持一致
	d.holding[pgva.RegVacuumThreshold.Address] = uint16(pgva.VacuumChamberToRaw(cfg.VacuumChamber))
	d.holding[pgva.RegPressureThreshold.Address] = uint16(pgva.PressureChamberToRaw(cfg.PressureChamber))
	d.holding[pgva.RegOutputPressure.Address] = pgva.EncodeSignedRegister(cfg.OutputPressure)

	if cfg.PumpEnabled {
		d.holding[pgva.RegPumpEnable.Address] = 1
	}
	d.setPumpFieldLocked(d.steadyPumpValueLocked())

	return d, nil
}

// attachSnapshot 掛上暫存器快照並嘗試還原前次狀態。
func (d *device) attachSnapshot(snap *Snapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snap = snap
	values, ok := snap.Restore()
	if !ok {
		// 新建的快照檔,先落盤目前狀態
		return snap.Store(d.registerValuesLocked())
	}

	if err := d.restoreRegistersLocked(values); err != nil {
		return err
	}
	d.logger.Info("已自快照還原暫存器狀態", zap.String("path", snap.Path()))
	return nil
}

// readInputRegisters 處理 FC04,只開放 256-266 的輸入暫存器窗口。
func (d *device) readInputRegisters(frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, quantity, ok := registerSpan(frame)
	if !ok || quantity == 0 || quantity > maxReadQuantity {
		return nil, &mbserver.IllegalDataValue
	}
	if !spanWithin(start, quantity, pgva.RegVacuumActual.Address, pgva.RegExternalSensor.Address) {
		return nil, &mbserver.IllegalDataAddress
	}

	d.mu.Lock()
	values := make([]uint16, quantity)
	for i := range values {
		values[i] = d.input[start+uint16(i)]
	}
	d.mu.Unlock()

	data := pgva.RegistersToBytes(values)
	return append([]byte{byte(len(data))}, data...), &mbserver.Success
}

// readHoldingRegisters 處理 FC03,只開放 4096-4101 的保持暫存器窗口。
func (d *device) readHoldingRegisters(frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, quantity, ok := registerSpan(frame)
	if !ok || quantity == 0 || quantity > maxReadQuantity {
		return nil, &mbserver.IllegalDataValue
	}
	if !spanWithin(start, quantity, pgva.RegValveActuationTime.Address, pgva.RegPumpEnable.Address) {
		return nil, &mbserver.IllegalDataAddress
	}

	d.mu.Lock()
	values := make([]uint16, quantity)
	for i := range values {
		values[i] = d.holding[start+uint16(i)]
	}
	d.mu.Unlock()

	data := pgva.RegistersToBytes(values)
	return append([]byte{byte(len(data))}, data...), &mbserver.Success
}

// writeSingleRegister 處理 FC06。交換本身成功與否只看位址窗口;
// 值域錯誤依裝置行為記錄在 Modbus 錯誤字組,不回傳 Modbus 例外。
func (d *device) writeSingleRegister(frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return nil, &mbserver.IllegalDataValue
	}

	address := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	if !spanWithin(address, 1, pgva.RegValveActuationTime.Address, pgva.RegPumpEnable.Address) {
		return nil, &mbserver.IllegalDataAddress
	}

	d.mu.Lock()
	d.applyWriteLocked(address, value)
	d.persistLocked()
	d.mu.Unlock()

	d.stats.Writes.Add(1)

	// FC06 回應為請求資料的回聲
	return data[0:4], &mbserver.Success
}

// rejectFunction 覆蓋 PGVA-1 不支援的功能碼 (線圈與多暫存器寫入)。
func (d *device) rejectFunction(frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	d.logger.Debug("拒絕不支援的功能碼", zap.Uint8("function", frame.GetFunction()))
	return nil, &mbserver.IllegalFunction
}

// applyWriteLocked 套用保持暫存器寫入並驅動對應的裝置動態。
func (d *device) applyWriteLocked(address, value uint16) {
	switch address {
	case pgva.RegValveActuationTime.Address:
		if int(value) < pgva.MinActuationTimeMs || int(value) > pgva.MaxActuationTimeMs {
			d.input[pgva.RegLastModbusError.Address] = modbusErrBitActuation
			d.input[pgva.RegErrorWord.Address] |= errorBitModbus
			d.logger.Warn("致動時間超出範圍,記錄至 Modbus 錯誤字組",
				zap.Uint16("value", value),
			)
			return
		}
		d.holding[address] = value
		d.input[pgva.RegLastModbusError.Address] = 0
		d.beginBusyLocked(statusBitTriggerOpen, 0)
		d.logger.Debug("觸發輸出閥", zap.Uint16("ms", value))

	case pgva.RegVacuumThreshold.Address:
		d.holding[address] = value
		mbar := pgva.RawToVacuumChamber(int(value))
		d.input[pgva.RegVacuumActual.Address] = pgva.EncodeSignedRegister(mbar)
		if mbar < -500 {
			d.input[pgva.RegWarningWord.Address] |= warningBitVacuumChamber
		} else {
			d.input[pgva.RegWarningWord.Address] &^= warningBitVacuumChamber
		}
		if d.pumpEnabledLocked() {
			d.setPumpFieldLocked(statusPumpVacuum)
		}
		d.beginBusyLocked(0, 0)
		d.logger.Debug("設定真空腔", zap.Uint16("raw", value), zap.Int("mbar", mbar))

	case pgva.RegPressureThreshold.Address:
		d.holding[address] = value
		mbar := pgva.RawToPressureChamber(int(value))
		d.input[pgva.RegPressureActual.Address] = uint16(mbar)
		d.beginBusyLocked(0, 0)
		d.logger.Debug("設定壓力腔", zap.Uint16("raw", value), zap.Int("mbar", mbar))

	case pgva.RegOutputPressure.Address:
		d.holding[address] = value
		d.input[pgva.RegOutputPressureActual.Address] = value
		d.beginBusyLocked(0, statusBitTargetAchieved)
		d.logger.Debug("設定輸出壓力", zap.Uint16("raw", value))

	case pgva.RegManualTrigger.Address:
		// 裝置接受寫入但無對應動作
		d.holding[address] = value

	case pgva.RegPumpEnable.Address:
		d.holding[address] = value
		d.setPumpFieldLocked(d.steadyPumpValueLocked())
		d.logger.Debug("切換泵浦", zap.Bool("enabled", value != 0))
	}
}

// beginBusyLocked 設立忙碌位元並排程命令完成。wedged 模式下忙碌
// 位元永不清除,供上層驅動的逾時路徑測試。
func (d *device) beginBusyLocked(whileBusy, onComplete uint16) {
	status := d.input[pgva.RegStatusWord.Address]
	status |= pgva.StatusBusyMask | whileBusy
	status &^= onComplete
	d.input[pgva.RegStatusWord.Address] = status

	d.stats.BusyTransitions.Add(1)

	if d.wedged {
		return
	}

	if d.busyTimer != nil {
		d.busyTimer.Stop()
	}
	d.busyTimer = time.AfterFunc(d.busyDuration, func() {
		d.completeCommand(onComplete)
	})
}

// completeCommand 清除暫態位元,泵浦欄位回到穩態。
func (d *device) completeCommand(onComplete uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := d.input[pgva.RegStatusWord.Address]
	status &^= transientStatusBits
	status |= onComplete
	d.input[pgva.RegStatusWord.Address] = status

	d.setPumpFieldLocked(d.steadyPumpValueLocked())
	d.persistLocked()
}

func (d *device) pumpEnabledLocked() bool {
	return d.holding[pgva.RegPumpEnable.Address] != 0
}

func (d *device) steadyPumpValueLocked() uint16 {
	if d.pumpEnabledLocked() {
		return statusPumpPressure
	}
	return statusPumpOff
}

func (d *device) setPumpFieldLocked(value uint16) {
	status := d.input[pgva.RegStatusWord.Address]
	status = (status &^ statusPumpFieldMask) | (value << statusPumpFieldShift)
	d.input[pgva.RegStatusWord.Address] = status
}

// stopTimers 停止未完成的忙碌計時器,關閉模擬器時呼叫。
func (d *device) stopTimers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busyTimer != nil {
		d.busyTimer.Stop()
		d.busyTimer = nil
	}
}

// registerValuesLocked 依 Registers() 的固定順序匯出全部暫存器值。
func (d *device) registerValuesLocked() []uint16 {
	regs := pgva.Registers()
	values := make([]uint16, len(regs))
	for i, reg := range regs {
		switch reg.Kind {
		case pgva.RegisterKindInput:
			values[i] = d.input[reg.Address]
		case pgva.RegisterKindHolding:
			values[i] = d.holding[reg.Address]
		}
	}
	return values
}

// restoreRegistersLocked 自快照還原暫存器。狀態/警告/錯誤字組屬於
// 暫態,不還原,改由還原後的設定值重新推導。
func (d *device) restoreRegistersLocked(values []uint16) error {
	regs := pgva.Registers()
	if len(values) != len(regs) {
		return errSnapshotLayout
	}

	for i, reg := range regs {
		switch reg.Address {
		case pgva.RegStatusWord.Address,
			pgva.RegWarningWord.Address,
			pgva.RegErrorWord.Address,
			pgva.RegLastModbusError.Address:
			continue
		}

		switch reg.Kind {
		case pgva.RegisterKindInput:
			d.input[reg.Address] = values[i]
		case pgva.RegisterKindHolding:
			d.holding[reg.Address] = values[i]
		}
	}

	d.input[pgva.RegStatusWord.Address] = 0
	d.setPumpFieldLocked(d.steadyPumpValueLocked())

	vacuumMbar := pgva.RawToVacuumChamber(int(d.holding[pgva.RegVacuumThreshold.Address]))
	if vacuumMbar < -500 {
		d.input[pgva.RegWarningWord.Address] |= warningBitVacuumChamber
	}

	return nil
}

func (d *device) persistLocked() {
	if d.snap == nil {
		return
	}
	if err := d.snap.Store(d.registerValuesLocked()); err != nil {
		d.logger.Warn("寫入暫存器快照失敗", zap.Error(err))
	}
}

func (d *device) flushSnapshot() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.persistLocked()
}

func (d *device) detachSnapshot() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap = nil
}

// sensorReadings 回傳目前的感測值 (mBar),供指標端點使用。
func (d *device) sensorReadings() (vacuum, pressure, output int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	vraw := d.input[pgva.RegVacuumActual.Address]
	vacuum = pgva.DecodeTwosComplement(vraw, pgva.BitLength(vraw))

	pressure = int(d.input[pgva.RegPressureActual.Address])

	oraw := d.input[pgva.RegOutputPressureActual.Address]
	if oraw > 500 {
		output = pgva.DecodeTwosComplement(oraw, pgva.BitLength(oraw))
	} else {
		output = int(oraw)
	}
	return vacuum, pressure, output
}

func registerSpan(frame mbserver.Framer) (start, quantity uint16, ok bool) {
	data := frame.GetData()
	if len(data) < 4 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint16(data[0:2]), binary.BigEndian.Uint16(data[2:4]), true
}

func spanWithin(start, quantity, first, last uint16) bool {
	if start < first {
		return false
	}
	end := int(start) + int(quantity) - 1
	return end <= int(last)
}
