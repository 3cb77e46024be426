package pgva

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/viper"
)

// 介面類型 (沿用裝置手冊的寫法)
const (
	InterfaceTCP    = "tcp/ip"
	InterfaceSerial = "serial"
)

// 寫入後輪詢的預設參數
const (
	DefaultCommandTimeout = 3 * time.Second
	DefaultPollInterval   = 10 * time.Millisecond
)

// Config 驅動程式配置
type Config struct {
	Interface string        `json:"interface" mapstructure:"interface"`
	UnitID    uint8         `json:"unit_id" mapstructure:"unit_id"`
	TCP       TCPConfig     `json:"tcp" mapstructure:"tcp"`
	Serial    SerialConfig  `json:"serial" mapstructure:"serial"`
	Command   CommandConfig `json:"command" mapstructure:"command"`
}

// TCPConfig Modbus TCP 連線參數
type TCPConfig struct {
	IP   string `json:"ip" mapstructure:"ip"`
	Port int    `json:"port" mapstructure:"port"`
}

// SerialConfig Modbus RTU 連線參數 (後端尚未實作)
type SerialConfig struct {
	ComPort  string `json:"com_port" mapstructure:"com_port"`
	Baudrate int    `json:"baudrate" mapstructure:"baudrate"`
}

// CommandConfig 寫入命令的同步參數
type CommandConfig struct {
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	return &Config{
		Interface: InterfaceTCP,
		UnitID:    DefaultUnitID,
		TCP: TCPConfig{
			IP:   "192.168.0.1",
			Port: ModbusTCPDefaultPort,
		},
		Serial: SerialConfig{
			Baudrate: 115200,
		},
		Command: CommandConfig{
			Timeout:      DefaultCommandTimeout,
			PollInterval: DefaultPollInterval,
		},
	}
}

// LoadConfig 載入配置檔,環境變數 (PGVA_*) 可覆蓋設定值。
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pgva")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pgva/")
		v.AddConfigPath("$HOME/.pgva/")
	}

	// 環境變數覆蓋
	v.SetEnvPrefix("PGVA")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
		}
		// 配置檔不存在，使用預設值
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置驗證失敗: %w", err)
	}

	return cfg, nil
}

// Validate 驗證配置
func (c *Config) Validate() error {
	switch c.Interface {
	case InterfaceTCP:
		if net.ParseIP(c.TCP.IP) == nil {
			return fmt.Errorf("無效的裝置 IP: %q", c.TCP.IP)
		}
		if c.TCP.Port < 1 || c.TCP.Port > 65535 {
			return fmt.Errorf("無效的埠號: %d", c.TCP.Port)
		}
	case InterfaceSerial:
		if c.Serial.ComPort == "" {
			return fmt.Errorf("序列介面必須指定 COM 埠")
		}
		if c.Serial.Baudrate < 1 {
			return fmt.Errorf("無效的鮑率: %d", c.Serial.Baudrate)
		}
	default:
		return fmt.Errorf("不支援的介面類型: %q (可用: %s, %s)", c.Interface, InterfaceTCP, InterfaceSerial)
	}

	if c.UnitID < 1 {
		return fmt.Errorf("Unit ID 必須大於 0")
	}

	if c.Command.Timeout <= 0 {
		return fmt.Errorf("命令逾時必須大於 0")
	}

	if c.Command.PollInterval <= 0 {
		return fmt.Errorf("輪詢間隔必須大於 0")
	}

	return nil
}

// SaveConfig 儲存配置到檔案
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失敗: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("寫入配置檔失敗: %w", err)
	}

	return nil
}

// Endpoint 回傳 TCP 連線位址 (host:port)。
func (c *Config) Endpoint() string {
	return fmt.Sprintf("%s:%d", c.TCP.IP, c.TCP.Port)
}
