package simulator

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbrandon/mbserver"
	"go.uber.org/zap"

	"pgva-driver"
)

func newTestDevice(t *testing.T, mutate func(*DeviceConfig)) (*device, *Stats) {
	t.Helper()

	cfg := DefaultConfig().Device
	cfg.BusyDuration = 100 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	stats := &Stats{}
	d, err := newDevice(cfg, stats, zap.NewNop())
	require.NoError(t, err)
	return d, stats
}

// newTCPFrame 組出最小的 Modbus TCP 請求框架 (MBAP + PDU)。
func newTCPFrame(t *testing.T, fc uint8, data []byte) *mbserver.TCPFrame {
	t.Helper()

	packet := []byte{0x00, 0x01, 0x00, 0x00, 0x00, byte(2 + len(data)), 0x01, fc}
	packet = append(packet, data...)

	frame, err := mbserver.NewTCPFrame(packet)
	require.NoError(t, err)
	return frame
}

func readRequestFrame(t *testing.T, fc uint8, address, quantity uint16) *mbserver.TCPFrame {
	t.Helper()

	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], quantity)
	return newTCPFrame(t, fc, data)
}

func writeRequestFrame(t *testing.T, address, value uint16) *mbserver.TCPFrame {
	t.Helper()

	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], value)
	return newTCPFrame(t, fcWriteSingleRegister, data)
}

// readInputSpan 透過 FC04 處理函式讀取輸入暫存器,要求成功。
func readInputSpan(t *testing.T, d *device, address, quantity uint16) []uint16 {
	t.Helper()

	data, exc := d.readInputRegisters(readRequestFrame(t, fcReadInputRegisters, address, quantity))
	require.Equal(t, mbserver.Success, *exc)
	require.Equal(t, byte(quantity*2), data[0], "回應位元組數錯誤")
	return pgva.BytesToRegisters(data[1:])
}

// readHoldingSpan 透過 FC03 處理函式讀取保持暫存器,要求成功。
func readHoldingSpan(t *testing.T, d *device, address, quantity uint16) []uint16 {
	t.Helper()

	data, exc := d.readHoldingRegisters(readRequestFrame(t, fcReadHoldingRegisters, address, quantity))
	require.Equal(t, mbserver.Success, *exc)
	require.Equal(t, byte(quantity*2), data[0], "回應位元組數錯誤")
	return pgva.BytesToRegisters(data[1:])
}

func writeRegister(t *testing.T, d *device, address, value uint16) *mbserver.Exception {
	t.Helper()

	_, exc := d.writeSingleRegister(writeRequestFrame(t, address, value))
	return exc
}

func currentStatus(t *testing.T, d *device) uint16 {
	t.Helper()
	return readInputSpan(t, d, pgva.RegStatusWord.Address, 1)[0]
}

func TestDeviceInitialState(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	values := readInputSpan(t, d, pgva.RegVacuumActual.Address, 11)

	assert.Equal(t, uint16(65036), values[0], "真空腔 -500 mBar 以二補數表示")
	assert.Equal(t, uint16(488), values[1], "壓力腔讀值")
	assert.Equal(t, uint16(0), values[2], "輸出壓力初始為 0")
	assert.Equal(t, uint16(2), values[3], "韌體主版本")
	assert.Equal(t, uint16(0), values[4], "韌體次版本")
	assert.Equal(t, uint16(45), values[5], "韌體建置號")
	assert.Equal(t, uint16(2), values[6], "狀態字組: 閒置,泵浦建壓中")
	assert.Equal(t, uint16(0), values[7], "警告字組為空")
	assert.Equal(t, uint16(0), values[8], "錯誤字組為空")
	assert.Equal(t, uint16(0), values[9], "Modbus 錯誤字組為空")
	assert.Equal(t, uint16(0), values[10], "外部感測器預設 0")
}

func TestDeviceInitialHoldingRegisters(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	values := readHoldingSpan(t, d, pgva.RegValveActuationTime.Address, 6)

	assert.Equal(t, uint16(0), values[0], "致動時間未設定")
	assert.Equal(t, uint16(1805), values[1], "真空門檻對應 -500 mBar")
	assert.Equal(t, uint16(880), values[2], "壓力門檻對應 488 mBar")
	assert.Equal(t, uint16(0), values[3], "輸出壓力設定值")
	assert.Equal(t, uint16(0), values[4], "手動觸發")
	assert.Equal(t, uint16(1), values[5], "泵浦啟用")
}

func TestDeviceFirmwareFromConfig(t *testing.T) {
	d, _ := newTestDevice(t, func(c *DeviceConfig) {
		c.Firmware = "2.1.3"
	})

	values := readInputSpan(t, d, pgva.RegFirmwareVersion.Address, 3)
	assert.Equal(t, []uint16{2, 1, 3}, values)
}

func TestDeviceReadOutsideWindow(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	tests := []struct {
		name     string
		fc       uint8
		address  uint16
		quantity uint16
	}{
		{"input below window", fcReadInputRegisters, 0, 1},
		{"input crosses upper bound", fcReadInputRegisters, 266, 2},
		{"input just before window", fcReadInputRegisters, 255, 1},
		{"holding above window", fcReadHoldingRegisters, 4102, 1},
		{"holding reads input window", fcReadHoldingRegisters, 256, 1},
		{"input reads holding window", fcReadInputRegisters, 4096, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := readRequestFrame(t, tt.fc, tt.address, tt.quantity)
			var exc *mbserver.Exception
			if tt.fc == fcReadInputRegisters {
				_, exc = d.readInputRegisters(frame)
			} else {
				_, exc = d.readHoldingRegisters(frame)
			}
			assert.Equal(t, mbserver.IllegalDataAddress, *exc)
		})
	}
}

func TestDeviceReadInvalidQuantity(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	_, exc := d.readInputRegisters(readRequestFrame(t, fcReadInputRegisters, 256, 0))
	assert.Equal(t, mbserver.IllegalDataValue, *exc)

	_, exc = d.readInputRegisters(readRequestFrame(t, fcReadInputRegisters, 256, 126))
	assert.Equal(t, mbserver.IllegalDataValue, *exc)
}

func TestDeviceWriteOutsideWindow(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	exc := writeRegister(t, d, 4095, 1)
	assert.Equal(t, mbserver.IllegalDataAddress, *exc)

	exc = writeRegister(t, d, 4102, 1)
	assert.Equal(t, mbserver.IllegalDataAddress, *exc)

	// 輸入暫存器不可寫
	exc = writeRegister(t, d, 256, 1)
	assert.Equal(t, mbserver.IllegalDataAddress, *exc)
}

func TestDeviceWriteEchoesRequest(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	frame := writeRequestFrame(t, 4099, 200)
	data, exc := d.writeSingleRegister(frame)
	require.Equal(t, mbserver.Success, *exc)
	assert.Equal(t, []byte{0x10, 0x03, 0x00, 0xC8}, data, "FC06 回應為請求回聲")
}

func TestDeviceOutputPressureWrite(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	exc := writeRegister(t, d, pgva.RegOutputPressure.Address, 200)
	require.Equal(t, mbserver.Success, *exc)

	// 寫入後立即忙碌,目標壓力旗標清除
	status := currentStatus(t, d)
	assert.NotZero(t, status&pgva.StatusBusyMask, "寫入後裝置應為忙碌")
	assert.Zero(t, status&statusBitTargetAchieved)

	// 設定值與感測值同步
	assert.Equal(t, uint16(200), readHoldingSpan(t, d, pgva.RegOutputPressure.Address, 1)[0])
	assert.Equal(t, uint16(200), readInputSpan(t, d, pgva.RegOutputPressureActual.Address, 1)[0])

	// 忙碌期滿後回到閒置,目標壓力達成
	time.Sleep(250 * time.Millisecond)
	status = currentStatus(t, d)
	assert.Zero(t, status&pgva.StatusBusyMask, "忙碌期滿應回到閒置")
	assert.NotZero(t, status&statusBitTargetAchieved, "目標壓力達成旗標應設立")
}

func TestDeviceNegativeOutputPressure(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	// -450 mBar 的二補數表示
	exc := writeRegister(t, d, pgva.RegOutputPressure.Address, 65086)
	require.Equal(t, mbserver.Success, *exc)

	assert.Equal(t, uint16(65086), readInputSpan(t, d, pgva.RegOutputPressureActual.Address, 1)[0])
}

func TestDeviceWedgedNeverClearsBusy(t *testing.T) {
	d, _ := newTestDevice(t, func(c *DeviceConfig) {
		c.BusyDuration = time.Millisecond
		c.Wedged = true
	})

	exc := writeRegister(t, d, pgva.RegOutputPressure.Address, 100)
	require.Equal(t, mbserver.Success, *exc)

	time.Sleep(50 * time.Millisecond)
	assert.NotZero(t, currentStatus(t, d)&pgva.StatusBusyMask, "卡死模式的忙碌位元不得清除")
}

func TestDeviceActuationTimeValidation(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	// 低於 5 ms:交換成功,但記錄到 Modbus 錯誤字組
	exc := writeRegister(t, d, pgva.RegValveActuationTime.Address, 3)
	require.Equal(t, mbserver.Success, *exc, "值域錯誤不回傳 Modbus 例外")

	assert.Equal(t, modbusErrBitActuation, readInputSpan(t, d, pgva.RegLastModbusError.Address, 1)[0])
	assert.Equal(t, errorBitModbus, readInputSpan(t, d, pgva.RegErrorWord.Address, 1)[0])
	assert.Equal(t, uint16(0), readHoldingSpan(t, d, pgva.RegValveActuationTime.Address, 1)[0], "無效值不得寫入")
	assert.Zero(t, currentStatus(t, d)&pgva.StatusBusyMask, "無效命令不進入忙碌")

	// 65535 也超出上限
	exc = writeRegister(t, d, pgva.RegValveActuationTime.Address, 65535)
	require.Equal(t, mbserver.Success, *exc)
	assert.Equal(t, modbusErrBitActuation, readInputSpan(t, d, pgva.RegLastModbusError.Address, 1)[0])

	// 有效值:Modbus 錯誤字組反映最後一個命令,隨之清除
	exc = writeRegister(t, d, pgva.RegValveActuationTime.Address, 100)
	require.Equal(t, mbserver.Success, *exc)

	assert.Equal(t, uint16(0), readInputSpan(t, d, pgva.RegLastModbusError.Address, 1)[0])
	assert.Equal(t, uint16(100), readHoldingSpan(t, d, pgva.RegValveActuationTime.Address, 1)[0])

	// 觸發期間輸出閥開啟
	status := currentStatus(t, d)
	assert.NotZero(t, status&pgva.StatusBusyMask)
	assert.NotZero(t, status&statusBitTriggerOpen, "致動期間觸發位元應開啟")

	time.Sleep(250 * time.Millisecond)
	status = currentStatus(t, d)
	assert.Zero(t, status&pgva.StatusBusyMask)
	assert.Zero(t, status&statusBitTriggerOpen, "致動結束後觸發位元應關閉")
}

func TestDeviceVacuumThresholdDynamics(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	exc := writeRegister(t, d, pgva.RegVacuumThreshold.Address, 1805)
	require.Equal(t, mbserver.Success, *exc)

	// 感測值依縮放係數跟隨設定值 (1805 × -0.277 ≈ -499)
	assert.Equal(t, uint16(65037), readInputSpan(t, d, pgva.RegVacuumActual.Address, 1)[0])
	assert.Zero(t, readInputSpan(t, d, pgva.RegWarningWord.Address, 1)[0]&warningBitVacuumChamber)

	// 建立真空期間泵浦欄位切到真空模式
	status := currentStatus(t, d)
	assert.Equal(t, statusPumpVacuum, (status&statusPumpFieldMask)>>statusPumpFieldShift)

	time.Sleep(250 * time.Millisecond)
	status = currentStatus(t, d)
	assert.Equal(t, statusPumpPressure, (status&statusPumpFieldMask)>>statusPumpFieldShift, "完成後泵浦回到建壓模式")
}

func TestDeviceVacuumChamberWarning(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	// 1810 × -0.277 ≈ -501,低於 -500 警告門檻
	writeRegister(t, d, pgva.RegVacuumThreshold.Address, 1810)
	assert.NotZero(t, readInputSpan(t, d, pgva.RegWarningWord.Address, 1)[0]&warningBitVacuumChamber)

	// 回到範圍內即清除
	writeRegister(t, d, pgva.RegVacuumThreshold.Address, 1805)
	assert.Zero(t, readInputSpan(t, d, pgva.RegWarningWord.Address, 1)[0]&warningBitVacuumChamber)
}

func TestDevicePressureThresholdDynamics(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	exc := writeRegister(t, d, pgva.RegPressureThreshold.Address, 902)
	require.Equal(t, mbserver.Success, *exc)

	// 902 × 0.5543 ≈ 499
	assert.Equal(t, uint16(499), readInputSpan(t, d, pgva.RegPressureActual.Address, 1)[0])
	assert.Equal(t, uint16(902), readHoldingSpan(t, d, pgva.RegPressureThreshold.Address, 1)[0])
}

func TestDevicePumpToggle(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	exc := writeRegister(t, d, pgva.RegPumpEnable.Address, 0)
	require.Equal(t, mbserver.Success, *exc)

	status := currentStatus(t, d)
	assert.Equal(t, statusPumpOff, (status&statusPumpFieldMask)>>statusPumpFieldShift)
	assert.Zero(t, status&pgva.StatusBusyMask, "泵浦切換不進入忙碌")

	exc = writeRegister(t, d, pgva.RegPumpEnable.Address, 1)
	require.Equal(t, mbserver.Success, *exc)

	status = currentStatus(t, d)
	assert.Equal(t, statusPumpPressure, (status&statusPumpFieldMask)>>statusPumpFieldShift)
}

func TestDeviceManualTriggerStored(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	exc := writeRegister(t, d, pgva.RegManualTrigger.Address, 1)
	require.Equal(t, mbserver.Success, *exc)

	assert.Equal(t, uint16(1), readHoldingSpan(t, d, pgva.RegManualTrigger.Address, 1)[0])
	assert.Zero(t, currentStatus(t, d)&pgva.StatusBusyMask, "手動觸發暫存器沒有對應動作")
}

func TestDeviceRejectUnsupportedFunction(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	frame := readRequestFrame(t, 0x01, 0, 1)
	_, exc := d.rejectFunction(frame)
	assert.Equal(t, mbserver.IllegalFunction, *exc)
}

func TestDeviceWriteRecordsStats(t *testing.T) {
	d, stats := newTestDevice(t, nil)

	writeRegister(t, d, pgva.RegOutputPressure.Address, 100)
	writeRegister(t, d, pgva.RegPumpEnable.Address, 0)

	assert.Equal(t, uint64(2), stats.Writes.Load())
	assert.Equal(t, uint64(1), stats.BusyTransitions.Load(), "只有輸出壓力寫入進入忙碌")
}

func TestDeviceSensorReadings(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	vacuum, pressure, output := d.sensorReadings()
	assert.Equal(t, -500, vacuum)
	assert.Equal(t, 488, pressure)
	assert.Equal(t, 0, output)

	writeRegister(t, d, pgva.RegOutputPressure.Address, 65086)
	_, _, output = d.sensorReadings()
	assert.Equal(t, -450, output, "輸出壓力讀值依二補數還原")
}

func TestDeviceRestoreRegisters(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	writeRegister(t, d, pgva.RegOutputPressure.Address, 200)
	writeRegister(t, d, pgva.RegValveActuationTime.Address, 150)
	writeRegister(t, d, pgva.RegPumpEnable.Address, 0)

	d.mu.Lock()
	values := d.registerValuesLocked()
	d.mu.Unlock()

	restored, _ := newTestDevice(t, nil)
	restored.mu.Lock()
	err := restored.restoreRegistersLocked(values)
	restored.mu.Unlock()
	require.NoError(t, err)

	assert.Equal(t, uint16(200), readHoldingSpan(t, restored, pgva.RegOutputPressure.Address, 1)[0])
	assert.Equal(t, uint16(150), readHoldingSpan(t, restored, pgva.RegValveActuationTime.Address, 1)[0])
	assert.Equal(t, uint16(200), readInputSpan(t, restored, pgva.RegOutputPressureActual.Address, 1)[0])

	// 暫態字組不還原:狀態重新推導,泵浦停用
	status := currentStatus(t, restored)
	assert.Zero(t, status&pgva.StatusBusyMask)
	assert.Equal(t, statusPumpOff, (status&statusPumpFieldMask)>>statusPumpFieldShift)
}

func TestDeviceRestoreRejectsBadLayout(t *testing.T) {
	d, _ := newTestDevice(t, nil)

	d.mu.Lock()
	err := d.restoreRegistersLocked([]uint16{1, 2, 3})
	d.mu.Unlock()
	assert.ErrorIs(t, err, errSnapshotLayout)
}

func TestDeviceConcurrentAccess(t *testing.T) {
	d, _ := newTestDevice(t, func(c *DeviceConfig) {
		c.BusyDuration = time.Millisecond
	})

	done := make(chan bool)

	// 框架先在測試 goroutine 內建好,處理函式只讀取框架內容
	writeFrames := make([]*mbserver.TCPFrame, 10)
	for i := range writeFrames {
		writeFrames[i] = writeRequestFrame(t, pgva.RegOutputPressure.Address, uint16(i*10))
	}
	readFrame := readRequestFrame(t, fcReadInputRegisters, pgva.RegVacuumActual.Address, 11)

	// 並發寫入
	for i := 0; i < 10; i++ {
		go func(frame *mbserver.TCPFrame) {
			for j := 0; j < 20; j++ {
				d.writeSingleRegister(frame)
			}
			done <- true
		}(writeFrames[i])
	}

	// 並發讀取
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 20; j++ {
				d.readInputRegisters(readFrame)
			}
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		<-done
	}
}

func BenchmarkDeviceWrite(b *testing.B) {
	cfg := DefaultConfig().Device
	cfg.BusyDuration = 0

	stats := &Stats{}
	d, err := newDevice(cfg, stats, zap.NewNop())
	if err != nil {
		b.Fatal(err)
	}

	packet := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, fcWriteSingleRegister, 0x10, 0x03, 0x00, 0xC8}
	frame, err := mbserver.NewTCPFrame(packet)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.writeSingleRegister(frame)
	}
}

func BenchmarkDeviceReadInputRegisters(b *testing.B) {
	cfg := DefaultConfig().Device

	stats := &Stats{}
	d, err := newDevice(cfg, stats, zap.NewNop())
	if err != nil {
		b.Fatal(err)
	}

	packet := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, fcReadInputRegisters, 0x01, 0x00, 0x00, 0x0B}
	frame, err := mbserver.NewTCPFrame(packet)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.readInputRegisters(frame)
	}
}
