package pgva

import "encoding/binary"

// PGVA-1 硬體工作範圍 (操作手冊)
const (
	MinOutputPressureMbar = -450
	MaxOutputPressureMbar = 450

	MinPressureChamberMbar = 200
	MaxPressureChamberMbar = 1000

	MinVacuumChamberMbar = -900
	MaxVacuumChamberMbar = -200

	MinActuationTimeMs = 5
	MaxActuationTimeMs = 65534

	// ModbusTCPDefaultPort PGVA-1 出廠預設的 Modbus TCP 埠
	ModbusTCPDefaultPort = 502

	// DefaultUnitID 出廠預設的 Modbus Unit ID
	DefaultUnitID = 1
)

// RegisterKind 暫存器類別
type RegisterKind int

const (
	// RegisterKindInput 輸入暫存器 (FC04 讀取)
	RegisterKindInput RegisterKind = iota
	// RegisterKindHolding 保持暫存器 (FC03 讀取 / FC06 寫入)
	RegisterKindHolding
)

func (k RegisterKind) String() string {
	switch k {
	case RegisterKindInput:
		return "Input"
	case RegisterKindHolding:
		return "Holding"
	default:
		return "Unknown"
	}
}

// Register 暫存器描述子。位址依 PGVA-1 操作手冊固定,集合為封閉集,
// 建置時即已確定。
type Register struct {
	Name    string
	Address uint16
	Kind    RegisterKind
}

// 輸入暫存器 — 感測讀值、韌體版本與狀態字組
var (
	RegVacuumActual         = Register{Name: "VacuumActual", Address: 256, Kind: RegisterKindInput}
	RegPressureActual       = Register{Name: "PressureActual", Address: 257, Kind: RegisterKindInput}
	RegOutputPressureActual = Register{Name: "OutputPressureActual", Address: 258, Kind: RegisterKindInput}
	RegFirmwareVersion      = Register{Name: "FirmwareVersion", Address: 259, Kind: RegisterKindInput}
	RegFirmwareSubversion   = Register{Name: "FirmwareSubversion", Address: 260, Kind: RegisterKindInput}
	RegFirmwareBuild        = Register{Name: "FirmwareBuild", Address: 261, Kind: RegisterKindInput}
	RegStatusWord           = Register{Name: "StatusWord", Address: 262, Kind: RegisterKindInput}
	RegWarningWord          = Register{Name: "WarningWord", Address: 263, Kind: RegisterKindInput}
	RegErrorWord            = Register{Name: "ErrorWord", Address: 264, Kind: RegisterKindInput}
	RegLastModbusError      = Register{Name: "LastModbusError", Address: 265, Kind: RegisterKindInput}
	RegExternalSensor       = Register{Name: "ExternalSensor", Address: 266, Kind: RegisterKindInput}
)

// 保持暫存器 — 命令與設定值
var (
	RegValveActuationTime = Register{Name: "ValveActuationTime", Address: 4096, Kind: RegisterKindHolding}
	RegVacuumThreshold    = Register{Name: "VacuumThreshold", Address: 4097, Kind: RegisterKindHolding}
	RegPressureThreshold  = Register{Name: "PressureThreshold", Address: 4098, Kind: RegisterKindHolding}
	RegOutputPressure     = Register{Name: "OutputPressure", Address: 4099, Kind: RegisterKindHolding}
	RegManualTrigger      = Register{Name: "ManualTrigger", Address: 4100, Kind: RegisterKindHolding}
	RegPumpEnable         = Register{Name: "PumpEnable", Address: 4101, Kind: RegisterKindHolding}
)

// Registers 回傳完整的暫存器表。
func Registers() []Register {
	return []Register{
		RegVacuumActual,
		RegPressureActual,
		RegOutputPressureActual,
		RegFirmwareVersion,
		RegFirmwareSubversion,
		RegFirmwareBuild,
		RegStatusWord,
		RegWarningWord,
		RegErrorWord,
		RegLastModbusError,
		RegExternalSensor,
		RegValveActuationTime,
		RegVacuumThreshold,
		RegPressureThreshold,
		RegOutputPressure,
		RegManualTrigger,
		RegPumpEnable,
	}
}

// RegistersToBytes 將暫存器值轉換為位元組陣列 (Big Endian)
func RegistersToBytes(registers []uint16) []byte {
	bytes := make([]byte, len(registers)*2)
	for i, reg := range registers {
		binary.BigEndian.PutUint16(bytes[i*2:], reg)
	}
	return bytes
}

// BytesToRegisters 將位元組陣列轉換為暫存器值 (Big Endian)
func BytesToRegisters(data []byte) []uint16 {
	registers := make([]uint16, len(data)/2)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return registers
}
