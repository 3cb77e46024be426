package simulator

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/viper"

	"pgva-driver"
)

// 預設監聽埠。刻意避開 502,讓模擬器不需要 root 權限即可啟動。
const DefaultListenPort = 1502

// Config 模擬器配置
type Config struct {
	Listen      ListenConfig      `json:"listen" mapstructure:"listen"`
	Device      DeviceConfig      `json:"device" mapstructure:"device"`
	Network     NetworkConfig     `json:"network" mapstructure:"network"`
	Metrics     MetricsConfig     `json:"metrics" mapstructure:"metrics"`
	Persistence PersistenceConfig `json:"persistence" mapstructure:"persistence"`
}

// ListenConfig Modbus TCP 監聽參數
type ListenConfig struct {
	IP   string `json:"ip" mapstructure:"ip"`
	Port int    `json:"port" mapstructure:"port"`
}

// DeviceConfig 裝置模型的初始狀態
type DeviceConfig struct {
	Firmware        string        `json:"firmware" mapstructure:"firmware"`
	BusyDuration    time.Duration `json:"busy_duration" mapstructure:"busy_duration"`
	Wedged          bool          `json:"wedged" mapstructure:"wedged"`
	PumpEnabled     bool          `json:"pump_enabled" mapstructure:"pump_enabled"`
	VacuumChamber   int           `json:"vacuum_chamber" mapstructure:"vacuum_chamber"`
	PressureChamber int           `json:"pressure_chamber" mapstructure:"pressure_chamber"`
	OutputPressure  int           `json:"output_pressure" mapstructure:"output_pressure"`
	ExternalSensor  int           `json:"external_sensor" mapstructure:"external_sensor"`
}

// NetworkConfig 虛擬 IP 配置
type NetworkConfig struct {
	Interface string    `json:"interface" mapstructure:"interface"`
	IPRanges  []IPRange `json:"ip_ranges" mapstructure:"ip_ranges"`
}

// IPRange IP 範圍
type IPRange struct {
	Start string `json:"start" mapstructure:"start"`
	End   string `json:"end" mapstructure:"end"`
	CIDR  string `json:"cidr" mapstructure:"cidr"`
}

// MetricsConfig 指標伺服器配置
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	Port     int    `json:"port" mapstructure:"port"`
}

// PersistenceConfig 暫存器快照配置
type PersistenceConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// DefaultConfig 返回預設配置:單一裝置、韌體 2.0.45、
// 真空腔 -500 mBar、壓力腔 488 mBar。
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			IP:   "0.0.0.0",
			Port: DefaultListenPort,
		},
		Device: DeviceConfig{
			Firmware:        "2.0.45",
			BusyDuration:    20 * time.Millisecond,
			PumpEnabled:     true,
			VacuumChamber:   -500,
			PressureChamber: 488,
		},
		Network: NetworkConfig{
			Interface: "eth0",
			IPRanges:  []IPRange{},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
			Port:     9090,
		},
		Persistence: PersistenceConfig{
			Enabled: false,
			Path:    "pgva-sim.state",
		},
	}
}

// LoadConfig 載入配置檔,環境變數 (PGVASIM_*) 可覆蓋設定值。
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pgvasim")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pgvasim/")
		v.AddConfigPath("$HOME/.pgvasim/")
	}

	// 環境變數覆蓋
	v.SetEnvPrefix("PGVASIM")
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
	if net.ParseIP(c.Listen.IP) == nil {
		return fmt.Errorf("無效的監聽 IP: %q", c.Listen.IP)
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("無效的監聽埠號: %d", c.Listen.Port)
	}

	if err := c.Device.Validate(); err != nil {
		return err
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("無效的指標埠號: %d", c.Metrics.Port)
		}
		if c.Metrics.Endpoint == "" {
			return fmt.Errorf("指標 endpoint 不可為空")
		}
	}

	if c.Persistence.Enabled && c.Persistence.Path == "" {
		return fmt.Errorf("啟用持久化必須指定快照路徑")
	}

	for _, ipRange := range c.Network.IPRanges {
		if err := ipRange.Validate(); err != nil {
			return fmt.Errorf("IP 範圍驗證失敗: %w", err)
		}
	}

	return nil
}

// Validate 驗證裝置初始狀態
func (c *DeviceConfig) Validate() error {
	if _, err := pgva.ParseFirmwareVersion(c.Firmware); err != nil {
		return err
	}

	if c.BusyDuration < 0 {
		return fmt.Errorf("忙碌時長不可為負值: %v", c.BusyDuration)
	}

	if c.VacuumChamber < pgva.MinVacuumChamberMbar || c.VacuumChamber > 0 {
		return fmt.Errorf("真空腔初始值超出範圍: %d mBar", c.VacuumChamber)
	}
	if c.PressureChamber < 0 || c.PressureChamber > pgva.MaxPressureChamberMbar {
		return fmt.Errorf("壓力腔初始值超出範圍: %d mBar", c.PressureChamber)
	}
	if c.OutputPressure < pgva.MinOutputPressureMbar || c.OutputPressure > pgva.MaxOutputPressureMbar {
		return fmt.Errorf("輸出壓力初始值超出範圍: %d mBar", c.OutputPressure)
	}

	return nil
}

// FirmwareVersion 解析配置的韌體版本。呼叫前需先通過 Validate。
func (c *DeviceConfig) FirmwareVersion() (pgva.FirmwareVersion, error) {
	return pgva.ParseFirmwareVersion(c.Firmware)
}

// Validate 驗證 IP 範圍
func (r *IPRange) Validate() error {
	if r.CIDR != "" {
		_, _, err := net.ParseCIDR(r.CIDR)
		if err != nil {
			return fmt.Errorf("無效的 CIDR: %s", r.CIDR)
		}
		return nil
	}

	if r.Start == "" || r.End == "" {
		return fmt.Errorf("必須指定 Start 和 End 或 CIDR")
	}

	startIP := net.ParseIP(r.Start)
	if startIP == nil {
		return fmt.Errorf("無效的起始 IP: %s", r.Start)
	}

	endIP := net.ParseIP(r.End)
	if endIP == nil {
		return fmt.Errorf("無效的結束 IP: %s", r.End)
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

// Endpoint 回傳 Modbus TCP 監聽位址 (host:port)。
func (c *Config) Endpoint() string {
	return fmt.Sprintf("%s:%d", c.Listen.IP, c.Listen.Port)
}

// Expand 展開 IP 範圍
func (r *IPRange) Expand() ([]net.IP, error) {
	if r.CIDR != "" {
		return expandCIDR(r.CIDR)
	}
	return expandRange(r.Start, r.End)
}

func expandCIDR(cidr string) ([]net.IP, error) {
	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for ip := ip.Mask(ipNet.Mask); ipNet.Contains(ip); incIP(ip) {
		ipCopy := make(net.IP, len(ip))
		copy(ipCopy, ip)
		ips = append(ips, ipCopy)
	}

	// 移除網路位址和廣播位址
	if len(ips) > 2 {
		ips = ips[1 : len(ips)-1]
	}

	return ips, nil
}

func expandRange(start, end string) ([]net.IP, error) {
	startIP := net.ParseIP(start).To4()
	endIP := net.ParseIP(end).To4()

	if startIP == nil || endIP == nil {
		return nil, fmt.Errorf("無效的 IP 範圍: %s - %s", start, end)
	}

	var ips []net.IP
	for ip := startIP; !ip.Equal(endIP); incIP(ip) {
		ipCopy := make(net.IP, len(ip))
		copy(ipCopy, ip)
		ips = append(ips, ipCopy)
	}
	// 包含結束 IP
	ipCopy := make(net.IP, len(endIP))
	copy(ipCopy, endIP)
	ips = append(ips, ipCopy)

	return ips, nil
}

func incIP(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}
