package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pgva-driver"
)

// 每個命令允許的最長執行時間,涵蓋連線、寫入與忙碌輪詢。
const commandTimeout = 30 * time.Second

var (
	cfgFile    string
	deviceHost string
	devicePort int
	unitID     uint8
	logger     *zap.Logger
	appConfig  *pgva.Config
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "pgvactl",
	Short: "PGVA-1 壓力/真空產生器控制工具",
	Long: `透過 Modbus TCP 操作 Festo PGVA-1 壓力/真空產生器。
支援輸出壓力、腔體門檻、輸出閥觸發與泵浦控制。`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 初始化日誌
		var err error
		logger, err = initLogger()
		if err != nil {
			return fmt.Errorf("初始化日誌失敗: %w", err)
		}

		// 載入配置 (除了 version 和 help 命令)
		if cmd.Name() != "version" && cmd.Name() != "help" && cmd.Name() != "generate" {
			appConfig, err = pgva.LoadConfig(cfgFile)
			if err != nil {
				// 配置載入失敗時使用預設值
				appConfig = pgva.DefaultConfig()
				if cfgFile != "" {
					logger.Warn("載入配置檔失敗，使用預設配置", zap.Error(err))
				}
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// connect 依配置與 CLI 參數建立裝置連線
func connect() (*pgva.PGVA, error) {
	if deviceHost != "" {
		appConfig.TCP.IP = deviceHost
	}
	if devicePort > 0 {
		appConfig.TCP.Port = devicePort
	}
	if unitID > 0 {
		appConfig.UnitID = unitID
	}

	return pgva.New(appConfig, logger)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}

// printWord 依欄位名稱排序後輸出字組內容
func printWord(title string, fields map[string]string) {
	fmt.Printf("%s:\n", title)

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Printf("  %-20s %s\n", name, fields[name])
	}
}

// infoCmd 裝置資訊命令
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "顯示裝置資訊",
	Long:  "連線後顯示韌體版本、感測讀值與狀態摘要。",
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := connect()
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, cancel := commandContext()
		defer cancel()

		info, err := dev.DriverInformation(ctx)
		if err != nil {
			return fmt.Errorf("讀取裝置資訊失敗: %w", err)
		}

		fmt.Println(info)
		return nil
	},
}

// statusCmd 狀態命令
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "顯示狀態/警告/錯誤字組",
	Long:  "讀取並解碼狀態、警告、錯誤與 Modbus 錯誤字組。",
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := connect()
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, cancel := commandContext()
		defer cancel()

		status, err := dev.GetStatusWord(ctx)
		if err != nil {
			return fmt.Errorf("讀取狀態字組失敗: %w", err)
		}
		printWord("狀態字組", status)

		warning, err := dev.GetWarningWord(ctx)
		if err != nil {
			return fmt.Errorf("讀取警告字組失敗: %w", err)
		}
		printWord("警告字組", warning)

		errWord, err := dev.GetErrorWord(ctx)
		if err != nil {
			return fmt.Errorf("讀取錯誤字組失敗: %w", err)
		}
		printWord("錯誤字組", errWord)

		modbusErr, err := dev.GetModbusErrorWord(ctx)
		if err != nil {
			return fmt.Errorf("讀取 Modbus 錯誤字組失敗: %w", err)
		}
		printWord("Modbus 錯誤字組", modbusErr)

		return nil
	},
}

// pressureCmd 壓力腔命令組
var pressureCmd = &cobra.Command{
	Use:   "pressure",
	Short: "壓力腔門檻操作",
	Long:  "設定或讀取壓力腔門檻 (200 到 1000 mBar)。",
}

var pressureSetCmd = &cobra.Command{
	Use:   "set [mbar]",
	Short: "設定壓力腔門檻",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mbar, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("無效的壓力值: %s", args[0])
		}

		dev, err := connect()
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, cancel := commandContext()
		defer cancel()

		if err := dev.SetPressureChamber(ctx, mbar); err != nil {
			return err
		}

		fmt.Printf("壓力腔門檻已設定為 %d mBar\n", mbar)
		return nil
	},
}

var pressureGetCmd = &cobra.Command{
	Use:   "get",
	Short: "讀取壓力腔讀值",
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := connect()
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, cancel := commandContext()
		defer cancel()

		mbar, err := dev.GetPressureChamber(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("壓力腔: %d mBar\n", mbar)
		return nil
	},
}

// vacuumCmd 真空腔命令組
var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "真空腔門檻操作",
	Long:  "設定或讀取真空腔門檻 (-900 到 -200 mBar)。",
}

var vacuumSetCmd = &cobra.Command{
	Use:   "set [mbar]",
	Short: "設定真空腔門檻",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mbar, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("無效的真空值: %s", args[0])
		}

		dev, err := connect()
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, cancel := commandContext()
		defer cancel()

		if err := dev.SetVacuumChamber(ctx, mbar); err != nil {
			return err
		}

		fmt.Printf("真空腔門檻已設定為 %d mBar\n", mbar)
		return nil
	},
}

var vacuumGetCmd = &cobra.Command{
	Use:   "get",
	Short: "讀取真空腔讀值",
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := connect()
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, cancel := commandContext()
		defer cancel()

		mbar, err := dev.GetVacuumChamber(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("真空腔: %d mBar\n", mbar)
		return nil
	},
}

// outputCmd 輸出壓力命令組
var outputCmd = &cobra.Command{
	Use:   "output",
	Short: "輸出壓力操作",
	Long:  "設定或讀取輸出壓力 (-450 到 450 mBar)。",
}

var outputSetCmd = &cobra.Command{
	Use:   "set [mbar]",
	Short: "設定輸出壓力",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mbar, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("無效的輸出壓力: %s", args[0])
		}

		dev, err := connect()
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, cancel := commandContext()
		defer cancel()

		outcome, err := dev.SetOutputPressure(ctx, mbar)
		if err != nil {
			return err
		}
		if outcome == pgva.OutcomeSkippedPumpDisabled {
			fmt.Println("泵浦停用中,命令已略過")
			return nil
		}

		fmt.Printf("輸出壓力已設定為 %d mBar\n", mbar)
		return nil
	},
}

var outputGetCmd = &cobra.Command{
	Use:   "get",
	Short: "讀取輸出壓力",
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := connect()
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, cancel := commandContext()
		defer cancel()

		mbar, err := dev.GetOutputPressure(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("輸出壓力: %d mBar\n", mbar)
		return nil
	},
}

// triggerCmd 觸發輸出閥
var triggerCmd = &cobra.Command{
	Use:   "trigger [ms]",
	Short: "觸發輸出閥",
	Long:  "開啟輸出閥指定的毫秒數 (5 到 65534 ms)。",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ms, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("無效的觸發時長: %s", args[0])
		}

		dev, err := connect()
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, cancel := commandContext()
		defer cancel()

		if err := dev.TriggerActuationValve(ctx, ms); err != nil {
			return err
		}

		fmt.Printf("輸出閥已觸發 %d ms\n", ms)
		return nil
	},
}

// pumpCmd 泵浦控制
var pumpCmd = &cobra.Command{
	Use:   "pump [on|off]",
	Short: "啟用或停用泵浦",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch args[0] {
		case "on":
			on = true
		case "off":
			on = false
		default:
			return fmt.Errorf("無效的參數: %s (可用: on, off)", args[0])
		}

		dev, err := connect()
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, cancel := commandContext()
		defer cancel()

		if err := dev.TogglePump(ctx, on); err != nil {
			return err
		}

		if on {
			fmt.Println("泵浦已啟用")
		} else {
			fmt.Println("泵浦已停用")
		}
		return nil
	},
}

// dispenseCmd 分注命令:正壓 + 觸發輸出閥
var dispenseCmd = &cobra.Command{
	Use:   "dispense",
	Short: "以正壓分注",
	Long:  "設定正的輸出壓力後觸發輸出閥,完成一次分注。",
	RunE: func(cmd *cobra.Command, args []string) error {
		pressure, _ := cmd.Flags().GetInt("pressure")
		ms, _ := cmd.Flags().GetInt("ms")

		if pressure <= 0 {
			return fmt.Errorf("分注需要正的輸出壓力,得到 %d mBar", pressure)
		}

		dev, err := connect()
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, cancel := commandContext()
		defer cancel()

		outcome, err := dev.SetOutputPressure(ctx, pressure)
		if err != nil {
			return err
		}
		if outcome == pgva.OutcomeSkippedPumpDisabled {
			return fmt.Errorf("泵浦停用中,無法分注")
		}

		if err := dev.TriggerActuationValve(ctx, ms); err != nil {
			return err
		}

		fmt.Printf("已分注: %d mBar × %d ms\n", pressure, ms)
		return nil
	},
}

// aspirateCmd 吸取命令:負壓 + 觸發輸出閥
var aspirateCmd = &cobra.Command{
	Use:   "aspirate",
	Short: "以負壓吸取",
	Long:  "設定負的輸出壓力後觸發輸出閥,完成一次吸取。",
	RunE: func(cmd *cobra.Command, args []string) error {
		vacuum, _ := cmd.Flags().GetInt("vacuum")
		ms, _ := cmd.Flags().GetInt("ms")

		if vacuum >= 0 {
			return fmt.Errorf("吸取需要負的輸出壓力,得到 %d mBar", vacuum)
		}

		dev, err := connect()
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, cancel := commandContext()
		defer cancel()

		outcome, err := dev.SetOutputPressure(ctx, vacuum)
		if err != nil {
			return err
		}
		if outcome == pgva.OutcomeSkippedPumpDisabled {
			return fmt.Errorf("泵浦停用中,無法吸取")
		}

		if err := dev.TriggerActuationValve(ctx, ms); err != nil {
			return err
		}

		fmt.Printf("已吸取: %d mBar × %d ms\n", vacuum, ms)
		return nil
	},
}

// configCmd 配置命令組
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "配置管理命令",
	Long:  "管理配置檔。",
}

// configValidateCmd 驗證配置
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "驗證配置檔",
	Long:  "驗證指定的配置檔是否有效。",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := pgva.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}

		fmt.Println("配置驗證通過")
		fmt.Printf("  Interface: %s\n", cfg.Interface)
		fmt.Printf("  Endpoint: %s\n", cfg.Endpoint())
		fmt.Printf("  Unit ID: %d\n", cfg.UnitID)
		fmt.Printf("  Timeout: %s\n", cfg.Command.Timeout)
		return nil
	},
}

// configGenerateCmd 生成配置
var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "生成範例配置",
	Long:  "生成範例配置檔。",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = "pgva.json"
		}

		cfg := pgva.DefaultConfig()

		if err := cfg.SaveConfig(output); err != nil {
			return fmt.Errorf("生成配置失敗: %w", err)
		}

		fmt.Printf("範例配置已生成: %s\n", output)
		return nil
	},
}

// versionCmd 版本命令
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "顯示版本資訊",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pgvactl version %s\n", Version)
		fmt.Printf("  Build: %s\n", BuildTime)
		fmt.Printf("  Commit: %s\n", GitCommit)
	},
}

func init() {
	// 全域 flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置檔路徑")
	rootCmd.PersistentFlags().StringVarP(&deviceHost, "host", "H", "", "裝置 IP 位址")
	rootCmd.PersistentFlags().IntVarP(&devicePort, "port", "p", 0, "裝置埠號")
	rootCmd.PersistentFlags().Uint8VarP(&unitID, "unit", "u", 0, "Modbus Unit ID")

	// dispense 命令 flags
	dispenseCmd.Flags().Int("pressure", 0, "輸出壓力 (mBar)")
	dispenseCmd.Flags().Int("ms", 100, "觸發時長 (ms)")

	// aspirate 命令 flags
	aspirateCmd.Flags().Int("vacuum", 0, "輸出壓力 (mBar, 負值)")
	aspirateCmd.Flags().Int("ms", 100, "觸發時長 (ms)")

	// config 命令 flags
	configGenerateCmd.Flags().StringP("output", "o", "pgva.json", "輸出檔案路徑")

	// 組裝命令樹
	pressureCmd.AddCommand(pressureSetCmd, pressureGetCmd)
	vacuumCmd.AddCommand(vacuumSetCmd, vacuumGetCmd)
	outputCmd.AddCommand(outputSetCmd, outputGetCmd)
	configCmd.AddCommand(configValidateCmd, configGenerateCmd)

	rootCmd.AddCommand(
		infoCmd,
		statusCmd,
		pressureCmd,
		vacuumCmd,
		outputCmd,
		triggerCmd,
		pumpCmd,
		dispenseCmd,
		aspirateCmd,
		configCmd,
		versionCmd,
	)
}

func initLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// Execute 執行 CLI
func Execute() error {
	return rootCmd.Execute()
}
