package simulator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/zap"

	"pgva-driver"
)

// 快照檔配置:2 位元組魔數 + 2 位元組版本 + 17 個暫存器各 2 位元組。
const (
	snapshotMagic       uint16 = 0x5047 // "PG"
	snapshotVersion     uint16 = 1
	snapshotHeaderBytes        = 4
)

var errSnapshotLayout = errors.New("快照內容與暫存器配置不符")

// Snapshot 以 mmap 映射的暫存器快照檔。每次寫入命令後落盤,
// 模擬器重啟時還原設定值,模擬裝置的 EEPROM 行為。
type Snapshot struct {
	path   string
	file   *os.File
	data   mmap.MMap
	logger *zap.Logger
}

// OpenSnapshot 開啟 (或建立) 快照檔並映射到記憶體。
func OpenSnapshot(path string, logger *zap.Logger) (*Snapshot, error) {
	size := int64(snapshotHeaderBytes + len(pgva.Registers())*2)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("開啟快照檔失敗: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("讀取快照檔資訊失敗: %w", err)
	}

	if info.Size() != size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("調整快照檔大小失敗: %w", err)
		}
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("映射快照檔失敗: %w", err)
	}

	return &Snapshot{
		path:   path,
		file:   f,
		data:   data,
		logger: logger,
	}, nil
}

// Restore 讀出快照中的暫存器值。新建檔案或版本不符時回傳 false。
func (s *Snapshot) Restore() ([]uint16, bool) {
	if binary.BigEndian.Uint16(s.data[0:2]) != snapshotMagic {
		return nil, false
	}
	if version := binary.BigEndian.Uint16(s.data[2:4]); version != snapshotVersion {
		s.logger.Warn("快照版本不符,忽略舊快照",
			zap.Uint16("version", version),
			zap.Uint16("expected", snapshotVersion),
		)
		return nil, false
	}

	return pgva.BytesToRegisters(s.data[snapshotHeaderBytes:]), true
}

// Store 寫入暫存器值並同步到磁碟。
func (s *Snapshot) Store(values []uint16) error {
	binary.BigEndian.PutUint16(s.data[0:2], snapshotMagic)
	binary.BigEndian.PutUint16(s.data[2:4], snapshotVersion)
	copy(s.data[snapshotHeaderBytes:], pgva.RegistersToBytes(values))

	if err := s.data.Flush(); err != nil {
		return fmt.Errorf("同步快照失敗: %w", err)
	}
	return nil
}

// Path 回傳快照檔路徑。
func (s *Snapshot) Path() string {
	return s.path
}

// Close 解除映射並關閉檔案。
func (s *Snapshot) Close() error {
	if err := s.data.Unmap(); err != nil {
		s.file.Close()
		return fmt.Errorf("解除快照映射失敗: %w", err)
	}
	return s.file.Close()
}
