package pgva

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, InterfaceTCP, cfg.Interface)
	assert.Equal(t, uint8(DefaultUnitID), cfg.UnitID)
	assert.Equal(t, "192.168.0.1", cfg.TCP.IP, "出廠預設 IP")
	assert.Equal(t, ModbusTCPDefaultPort, cfg.TCP.Port)
	assert.Equal(t, 115200, cfg.Serial.Baudrate)
	assert.Equal(t, DefaultCommandTimeout, cfg.Command.Timeout)
	assert.Equal(t, DefaultPollInterval, cfg.Command.PollInterval)

	assert.NoError(t, cfg.Validate(), "預設配置應通過驗證")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "valid serial config",
			modify: func(c *Config) {
				c.Interface = InterfaceSerial
				c.Serial.ComPort = "/dev/ttyUSB0"
			},
			wantErr: false,
		},
		{
			name: "unknown interface",
			modify: func(c *Config) {
				c.Interface = "bluetooth"
			},
			wantErr: true,
		},
		{
			name: "invalid device IP",
			modify: func(c *Config) {
				c.TCP.IP = "not-an-ip"
			},
			wantErr: true,
		},
		{
			name: "invalid port - too low",
			modify: func(c *Config) {
				c.TCP.Port = 0
			},
			wantErr: true,
		},
		{
			name: "invalid port - too high",
			modify: func(c *Config) {
				c.TCP.Port = 70000
			},
			wantErr: true,
		},
		{
			name: "serial without com port",
			modify: func(c *Config) {
				c.Interface = InterfaceSerial
				c.Serial.ComPort = ""
			},
			wantErr: true,
		},
		{
			name: "serial with invalid baudrate",
			modify: func(c *Config) {
				c.Interface = InterfaceSerial
				c.Serial.ComPort = "/dev/ttyUSB0"
				c.Serial.Baudrate = 0
			},
			wantErr: true,
		},
		{
			name: "invalid unit id",
			modify: func(c *Config) {
				c.UnitID = 0
			},
			wantErr: true,
		},
		{
			name: "invalid command timeout",
			modify: func(c *Config) {
				c.Command.Timeout = 0
			},
			wantErr: true,
		},
		{
			name: "invalid poll interval",
			modify: func(c *Config) {
				c.Command.PollInterval = -time.Millisecond
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_SaveAndLoad(t *testing.T) {
	// 建立暫存目錄
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.json")

	// 儲存配置
	cfg := DefaultConfig()
	cfg.TCP.IP = "10.0.8.15"
	cfg.TCP.Port = 5020
	cfg.UnitID = 3

	err := cfg.SaveConfig(configPath)
	require.NoError(t, err)

	// 確認檔案存在
	_, err = os.Stat(configPath)
	require.NoError(t, err)

	// 載入配置
	loadedCfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, cfg.TCP.IP, loadedCfg.TCP.IP)
	assert.Equal(t, cfg.TCP.Port, loadedCfg.TCP.Port)
	assert.Equal(t, cfg.UnitID, loadedCfg.UnitID)
	assert.Equal(t, cfg.Command.Timeout, loadedCfg.Command.Timeout)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	// 指定不存在的搜尋路徑時退回預設值
	cwd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(cwd)
	require.NoError(t, os.Chdir(t.TempDir()))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_InvalidContent(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad-config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"interface": "bluetooth"}`), 0644))

	_, err := LoadConfig(configPath)
	assert.Error(t, err, "不支援的介面類型應使載入失敗")
}

func TestConfig_Endpoint(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "192.168.0.1:502", cfg.Endpoint())

	cfg.TCP.IP = "127.0.0.1"
	cfg.TCP.Port = 5020
	assert.Equal(t, "127.0.0.1:5020", cfg.Endpoint())
}
