package pgva

import (
	"errors"
	"fmt"
)

// ErrorKind 驅動程式錯誤類別
type ErrorKind int

const (
	// KindOutOfRange 輸入值超出硬體工作範圍,驗證失敗,不觸碰線路
	KindOutOfRange ErrorKind = iota
	// KindNotSupported 功能受韌體缺陷限制而停用
	KindNotSupported
	// KindTimeout 寫入後輪詢忙碌位元逾時
	KindTimeout
	// KindCommunication 傳輸層失敗,包裝底層原因
	KindCommunication
	// KindConfigMismatch 配置變體與後端不符
	KindConfigMismatch
	// KindUnimplemented 後端尚未實作
	KindUnimplemented
)

func (k ErrorKind) String() string {
	switch k {
	case KindOutOfRange:
		return "OutOfRange"
	case KindNotSupported:
		return "NotSupported"
	case KindTimeout:
		return "Timeout"
	case KindCommunication:
		return "CommunicationError"
	case KindConfigMismatch:
		return "ConfigMismatch"
	case KindUnimplemented:
		return "Unimplemented"
	default:
		return "Unknown"
	}
}

// DriverError 附帶類別的驅動程式錯誤。讀取失敗一律以錯誤回報,
// 不以 0 代替,呼叫端必須能分辨「讀取失敗」與「讀值為零」。
type DriverError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *DriverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 回傳底層原因。
func (e *DriverError) Unwrap() error {
	return e.Err
}

// KindOf 取得錯誤的驅動類別;非 DriverError 時回傳 false。
func KindOf(err error) (ErrorKind, bool) {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

// IsKind 判斷錯誤是否屬於指定類別。
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func errOutOfRange(format string, args ...any) *DriverError {
	return &DriverError{Kind: KindOutOfRange, Message: fmt.Sprintf(format, args...)}
}

func errNotSupported(message string) *DriverError {
	return &DriverError{Kind: KindNotSupported, Message: message}
}

func errTimeout(format string, args ...any) *DriverError {
	return &DriverError{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

func errCommunication(message string, err error) *DriverError {
	return &DriverError{Kind: KindCommunication, Message: message, Err: err}
}

func errConfigMismatch(format string, args ...any) *DriverError {
	return &DriverError{Kind: KindConfigMismatch, Message: fmt.Sprintf(format, args...)}
}

func errUnimplemented(message string) *DriverError {
	return &DriverError{Kind: KindUnimplemented, Message: message}
}
