package pgva

// StatusBusyMask 狀態字組位元 0:裝置正在執行前一個寫入命令。
const StatusBusyMask uint16 = 1 << 0

// IsBusy 判斷狀態字組的忙碌位元是否設立。
func IsBusy(status uint16) bool {
	return status&StatusBusyMask != 0
}

// WordField 位元欄位描述:欄位名稱、位移、寬度與值對應的狀態文字。
type WordField struct {
	Name   string
	Offset uint
	Width  uint
	Labels map[uint16]string
}

// Extract 自原始字組取出該欄位的值。
func (f WordField) Extract(raw uint16) uint16 {
	mask := uint16(1<<f.Width - 1)
	return (raw >> f.Offset) & mask
}

// Label 回傳該欄位值對應的狀態文字。
func (f WordField) Label(raw uint16) string {
	if s, ok := f.Labels[f.Extract(raw)]; ok {
		return s
	}
	return "Unknown"
}

// DecodeWord 依欄位表將位元欄位字組解碼為 欄位名稱 → 狀態文字。
func DecodeWord(fields []WordField, raw uint16) map[string]string {
	decoded := make(map[string]string, len(fields))
	for _, f := range fields {
		decoded[f.Name] = f.Label(raw)
	}
	return decoded
}

// AnyFlagRaised 回傳解碼結果中是否有任何欄位離開 "Reset" 狀態。
func AnyFlagRaised(decoded map[string]string) bool {
	for _, v := range decoded {
		if v != "Reset" {
			return true
		}
	}
	return false
}

// 以下欄位表依 PGVA-1 操作手冊定義,於建置時固定,不會在執行期重建。
// 狀態文字保留手冊原文 (英文)。

// statusWordFields 狀態字組 (輸入暫存器 262)
var statusWordFields = []WordField{
	{Name: "Status", Offset: 0, Width: 1, Labels: map[uint16]string{
		0: "Idle",
		1: "Busy",
	}},
	{Name: "Pump", Offset: 1, Width: 2, Labels: map[uint16]string{
		0: "Pump is off",
		1: "Pump is building pressure",
		2: "Pump is building vacuum",
	}},
	{Name: "Pressure", Offset: 3, Width: 1, Labels: map[uint16]string{
		0: "Pressure in the tank is nominal",
		1: "Pressure in the tank is below threshold",
	}},
	{Name: "Vacuum", Offset: 4, Width: 1, Labels: map[uint16]string{
		0: "Vacuum in the tank is nominal",
		1: "Vacuum in the tank is below threshold",
	}},
	{Name: "EEPROM", Offset: 5, Width: 1, Labels: map[uint16]string{
		0: "No EEPROM write pending",
		1: "EEPROM write pending",
	}},
	{Name: "TargetPressure", Offset: 6, Width: 1, Labels: map[uint16]string{
		0: "Target pressure in progress",
		1: "Target pressure achieved",
	}},
	{Name: "Trigger", Offset: 7, Width: 1, Labels: map[uint16]string{
		0: "Trigger is closed",
		1: "Trigger is open",
	}},
	{Name: "OutputValveControl", Offset: 10, Width: 1, Labels: map[uint16]string{
		0: "Exhaust valve management disabled",
		1: "Exhaust valve management enabled",
	}},
	{Name: "OutputValve", Offset: 11, Width: 1, Labels: map[uint16]string{
		0: "Exhaust valve closed",
		1: "Exhaust valve open",
	}},
}

// warningWordFields 警告字組 (輸入暫存器 263)。
// 手冊另列有 PressureChamber 警告文字,但此世代韌體未指派位元,不解碼。
var warningWordFields = []WordField{
	{Name: "SupplyVoltage", Offset: 0, Width: 1, Labels: map[uint16]string{
		0: "Reset",
		1: "Abnormal supply voltage",
	}},
	{Name: "VacuumThreshold", Offset: 1, Width: 1, Labels: map[uint16]string{
		0: "Reset",
		1: "Vacuum generator cannot reach threshold",
	}},
	{Name: "PressureThreshold", Offset: 2, Width: 1, Labels: map[uint16]string{
		0: "Reset",
		1: "Pressure generator cannot reach threshold",
	}},
	{Name: "TargetPressure", Offset: 4, Width: 1, Labels: map[uint16]string{
		0: "Reset",
		1: "Preset output pressure cannot be reached",
	}},
	{Name: "VacuumChamber", Offset: 5, Width: 1, Labels: map[uint16]string{
		0: "Reset",
		1: "Vacuum chamber set below -500 mBar",
	}},
	{Name: "Pump", Offset: 7, Width: 1, Labels: map[uint16]string{
		0: "Reset",
		1: "Pump ran for 9 minutes",
	}},
	{Name: "ExternalSensor", Offset: 9, Width: 1, Labels: map[uint16]string{
		0: "Reset",
		1: "External Sensor Verification warning",
	}},
}

// errorWordFields 錯誤字組 (輸入暫存器 264)
var errorWordFields = []WordField{
	{Name: "PumpTimeout", Offset: 0, Width: 1, Labels: map[uint16]string{
		0: "Reset",
		1: "Pump ran longer than 10 minutes",
	}},
	{Name: "TimeoutPressure", Offset: 1, Width: 1, Labels: map[uint16]string{
		0: "Reset",
		1: "Target output pressure not achieved in 8 minutes",
	}},
	{Name: "ModbusError", Offset: 2, Width: 1, Labels: map[uint16]string{
		0: "Reset",
		1: "Modbus error occurred, please read modbus error word",
	}},
	{Name: "LowVoltage", Offset: 3, Width: 1, Labels: map[uint16]string{
		0: "Reset",
		1: "Power supply too low",
	}},
	{Name: "HighVoltage", Offset: 4, Width: 1, Labels: map[uint16]string{
		0: "Reset",
		1: "Power supply too high",
	}},
	{Name: "TimeoutExternalSensor", Offset: 5, Width: 1, Labels: map[uint16]string{
		0: "Reset",
		1: "External sensor check timed out",
	}},
}

// modbusErrorWordFields Modbus 錯誤字組 (輸入暫存器 265)。
// 手冊僅對位元 0 指派欄位;其餘成因 (門檻值、Unit ID、IP、DHCP、
// 外部感測器等超出範圍) 無位元配置,需對照手冊附錄查詢。
var modbusErrorWordFields = []WordField{
	{Name: "OutputActuationTime", Offset: 0, Width: 1, Labels: map[uint16]string{
		0: "Reset",
		1: "Trigger time is outside of input range, The Modbus command was not executed",
	}},
}
