package pgva

import "math/bits"

// 操作手冊提供的腔體縮放係數 (暫存器原始值 → mBar)
const (
	pressureChamberScale = 0.5543
	vacuumChamberScale   = -0.277
)

// DecodeTwosComplement 將無號暫存器原始值依指定位元寬度還原為有號整數。
// 符號位 (width-1) 設立時回傳 raw - 2^width。width 有效範圍 1..16。
func DecodeTwosComplement(raw uint16, width uint) int {
	if raw&(1<<(width-1)) != 0 {
		return int(raw) - (1 << width)
	}
	return int(raw)
}

// EncodeSignedRegister 將有號整數編碼為 16 位元暫存器值,
// 負值以二補數表示 (value + 65536)。呼叫端需先確認值落在工作範圍內。
func EncodeSignedRegister(value int) uint16 {
	if value < 0 {
		return uint16(value + 1<<16)
	}
	return uint16(value)
}

// BitLength 回傳表示 raw 所需的最小位元數,raw 為 0 時回傳 1。
// 輸出壓力與真空讀值的二補數還原使用讀值當下的位元長度,
// 而非固定 16 位元。
func BitLength(raw uint16) uint {
	if raw == 0 {
		return 1
	}
	return uint(bits.Len16(raw))
}

// PressureChamberToRaw 將壓力腔設定值 (mBar) 換算為暫存器原始值,
// 小數部分朝零捨去。
func PressureChamberToRaw(mbar int) int {
	return int(float64(mbar) / pressureChamberScale)
}

// VacuumChamberToRaw 將真空腔設定值 (mBar) 換算為暫存器原始值,
// 小數部分朝零捨去。
func VacuumChamberToRaw(mbar int) int {
	return int(float64(mbar) / vacuumChamberScale)
}

// RawToPressureChamber 反向換算:壓力腔暫存器原始值 → mBar。
func RawToPressureChamber(raw int) int {
	return int(float64(raw) * pressureChamberScale)
}

// RawToVacuumChamber 反向換算:真空腔暫存器原始值 → mBar。
// 往返換算因朝零捨去會有 ±1 mBar 的誤差,屬裝置本身的量化行為。
func RawToVacuumChamber(raw int) int {
	return int(float64(raw) * vacuumChamberScale)
}
