package pgva

import (
	"fmt"
	"strconv"
	"strings"
)

// FirmwareVersion PGVA-1 韌體版本三元組,連線時自三個輸入暫存器讀取一次,
// 並於客戶端生命週期內快取。功能差異一律透過能力判斷方法表達,
// 不在呼叫端散落版本字面值比較。
type FirmwareVersion struct {
	Major int
	Minor int
	Build int
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Build)
}

// ParseFirmwareVersion 解析 "major.minor.build" 形式的版本字串。
func ParseFirmwareVersion(s string) (FirmwareVersion, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return FirmwareVersion{}, fmt.Errorf("無效的韌體版本: %q", s)
	}

	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return FirmwareVersion{}, fmt.Errorf("無效的韌體版本: %q", s)
		}
		nums[i] = n
	}

	return FirmwareVersion{Major: nums[0], Minor: nums[1], Build: nums[2]}, nil
}

// Equal 判斷兩個版本是否完全相同。
func (v FirmwareVersion) Equal(other FirmwareVersion) bool {
	return v == other
}

// firmwareWithoutPumpControl 韌體 2.1.3 沒有泵浦啟用暫存器,
// 也不提供外部感測器讀值。
var firmwareWithoutPumpControl = FirmwareVersion{Major: 2, Minor: 1, Build: 3}

// SupportsPumpControl 回傳韌體是否支援泵浦啟用/停用功能。
func (v FirmwareVersion) SupportsPumpControl() bool {
	return v != firmwareWithoutPumpControl
}

// SupportsExternalSensor 回傳韌體是否提供外部感測器讀值。
func (v FirmwareVersion) SupportsExternalSensor() bool {
	return v != firmwareWithoutPumpControl
}
