package pgva

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindString(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		expected string
	}{
		{KindOutOfRange, "OutOfRange"},
		{KindNotSupported, "NotSupported"},
		{KindTimeout, "Timeout"},
		{KindCommunication, "CommunicationError"},
		{KindConfigMismatch, "ConfigMismatch"},
		{KindUnimplemented, "Unimplemented"},
		{ErrorKind(99), "Unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.kind.String())
	}
}

func TestDriverErrorFormat(t *testing.T) {
	// 無底層原因
	err := errOutOfRange("輸出壓力 %d mBar 超出範圍 [%d, %d]", 451, -450, 450)
	assert.Equal(t, "OutOfRange: 輸出壓力 451 mBar 超出範圍 [-450, 450]", err.Error())

	// 有底層原因
	cause := errors.New("connection refused")
	err = errCommunication("讀取輸入暫存器失敗", cause)
	assert.Equal(t, "CommunicationError: 讀取輸入暫存器失敗: connection refused", err.Error())
}

func TestDriverErrorUnwrap(t *testing.T) {
	cause := errors.New("broken pipe")
	err := errCommunication("寫入保持暫存器失敗", cause)

	assert.ErrorIs(t, err, cause, "errors.Is 應能找到底層原因")
	assert.NoError(t, errors.Unwrap(errOutOfRange("無底層原因")), "無包裝時 Unwrap 應為 nil")
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(errTimeout("裝置持續忙碌"))
	assert.True(t, ok)
	assert.Equal(t, KindTimeout, kind)

	// 包裝後仍可辨識類別
	wrapped := fmt.Errorf("讀取感測器: %w", errNotSupported("韌體缺陷"))
	kind, ok = KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindNotSupported, kind)

	// 非驅動錯誤
	_, ok = KindOf(errors.New("其他錯誤"))
	assert.False(t, ok)
	_, ok = KindOf(nil)
	assert.False(t, ok)
}

func TestIsKind(t *testing.T) {
	err := errConfigMismatch("介面 %q 不是 TCP", "serial")

	assert.True(t, IsKind(err, KindConfigMismatch))
	assert.False(t, IsKind(err, KindTimeout))
	assert.False(t, IsKind(errors.New("其他錯誤"), KindConfigMismatch))
	assert.False(t, IsKind(nil, KindConfigMismatch))
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *DriverError
		kind ErrorKind
	}{
		{"out of range", errOutOfRange("x"), KindOutOfRange},
		{"not supported", errNotSupported("x"), KindNotSupported},
		{"timeout", errTimeout("x"), KindTimeout},
		{"communication", errCommunication("x", nil), KindCommunication},
		{"config mismatch", errConfigMismatch("x"), KindConfigMismatch},
		{"unimplemented", errUnimplemented("x"), KindUnimplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind)
		})
	}
}
