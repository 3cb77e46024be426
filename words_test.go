package pgva

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBusy(t *testing.T) {
	assert.False(t, IsBusy(0), "零值狀態不應為忙碌")
	assert.True(t, IsBusy(1), "位元 0 設立即為忙碌")
	assert.True(t, IsBusy(0x0FFF))
	assert.False(t, IsBusy(0xFFFE), "僅看位元 0,其餘位元不影響")
}

func TestWordFieldExtract(t *testing.T) {
	pump := WordField{Name: "Pump", Offset: 1, Width: 2}

	assert.Equal(t, uint16(0), pump.Extract(0))
	assert.Equal(t, uint16(1), pump.Extract(1<<1))
	assert.Equal(t, uint16(2), pump.Extract(1<<2))
	assert.Equal(t, uint16(2), pump.Extract(1<<2|1), "欄位外的位元應被遮罩")
}

func TestWordFieldLabel(t *testing.T) {
	f := WordField{
		Name:   "Trigger",
		Offset: 7,
		Width:  1,
		Labels: map[uint16]string{0: "Trigger is closed", 1: "Trigger is open"},
	}

	assert.Equal(t, "Trigger is closed", f.Label(0))
	assert.Equal(t, "Trigger is open", f.Label(1<<7))

	// 未定義的欄位值回傳 Unknown
	unmapped := WordField{Name: "Pump", Offset: 1, Width: 2, Labels: map[uint16]string{0: "off"}}
	assert.Equal(t, "Unknown", unmapped.Label(1<<1|1<<2))
}

func TestDecodeStatusWord(t *testing.T) {
	// 忙碌 + 泵浦抽真空 + 槽壓低於門檻 + 觸發開啟 + 排氣閥開啟
	raw := uint16(1 | 2<<1 | 1<<3 | 1<<7 | 1<<11)

	decoded := DecodeWord(statusWordFields, raw)

	assert.Len(t, decoded, 9, "狀態字組應解碼出九個欄位")
	assert.Equal(t, "Busy", decoded["Status"])
	assert.Equal(t, "Pump is building vacuum", decoded["Pump"])
	assert.Equal(t, "Pressure in the tank is below threshold", decoded["Pressure"])
	assert.Equal(t, "Vacuum in the tank is nominal", decoded["Vacuum"])
	assert.Equal(t, "No EEPROM write pending", decoded["EEPROM"])
	assert.Equal(t, "Target pressure in progress", decoded["TargetPressure"])
	assert.Equal(t, "Trigger is open", decoded["Trigger"])
	assert.Equal(t, "Exhaust valve management disabled", decoded["OutputValveControl"])
	assert.Equal(t, "Exhaust valve open", decoded["OutputValve"])
}

func TestDecodeWarningWord(t *testing.T) {
	// 零值:所有警告均為 Reset
	decoded := DecodeWord(warningWordFields, 0)
	assert.Len(t, decoded, 7, "警告字組應解碼出七個欄位")
	for name, label := range decoded {
		assert.Equal(t, "Reset", label, "欄位 %s 應為 Reset", name)
	}
	assert.False(t, AnyFlagRaised(decoded))

	// 位元 5:真空腔設定低於 -500 mBar
	decoded = DecodeWord(warningWordFields, 1<<5)
	assert.Equal(t, "Vacuum chamber set below -500 mBar", decoded["VacuumChamber"])
	assert.Equal(t, "Reset", decoded["SupplyVoltage"])
	assert.True(t, AnyFlagRaised(decoded))

	// 位元 9:外部感測器驗證警告
	decoded = DecodeWord(warningWordFields, 1<<9)
	assert.Equal(t, "External Sensor Verification warning", decoded["ExternalSensor"])
	assert.True(t, AnyFlagRaised(decoded))
}

func TestDecodeErrorWord(t *testing.T) {
	decoded := DecodeWord(errorWordFields, 0)
	assert.Len(t, decoded, 6, "錯誤字組應解碼出六個欄位")
	assert.False(t, AnyFlagRaised(decoded))

	decoded = DecodeWord(errorWordFields, 1<<0|1<<2)
	assert.Equal(t, "Pump ran longer than 10 minutes", decoded["PumpTimeout"])
	assert.Equal(t, "Modbus error occurred, please read modbus error word", decoded["ModbusError"])
	assert.Equal(t, "Reset", decoded["LowVoltage"])
	assert.True(t, AnyFlagRaised(decoded))
}

func TestDecodeModbusErrorWord(t *testing.T) {
	decoded := DecodeWord(modbusErrorWordFields, 0)
	assert.Equal(t, map[string]string{"OutputActuationTime": "Reset"}, decoded)
	assert.False(t, AnyFlagRaised(decoded))

	decoded = DecodeWord(modbusErrorWordFields, 1)
	assert.Equal(t,
		"Trigger time is outside of input range, The Modbus command was not executed",
		decoded["OutputActuationTime"])
	assert.True(t, AnyFlagRaised(decoded))
}

func TestAnyFlagRaised(t *testing.T) {
	assert.False(t, AnyFlagRaised(nil), "空解碼結果不算有旗標")
	assert.False(t, AnyFlagRaised(map[string]string{"A": "Reset", "B": "Reset"}))
	assert.True(t, AnyFlagRaised(map[string]string{"A": "Reset", "B": "Unknown"}))
}

func BenchmarkDecodeStatusWord(b *testing.B) {
	raw := uint16(1 | 2<<1 | 1<<3 | 1<<7 | 1<<11)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		DecodeWord(statusWordFields, raw)
	}
}
