package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pgva-driver/simulator"
)

var (
	cfgFile   string
	logger    *zap.Logger
	appConfig *simulator.Config
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "pgvasim",
	Short: "PGVA-1 裝置模擬器",
	Long: `在 TCP 上重現 Festo PGVA-1 壓力/真空產生器的 Modbus 行為,
供驅動程式開發與整合測試使用,無需實體裝置。`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 初始化日誌
		var err error
		logger, err = initLogger()
		if err != nil {
			return fmt.Errorf("初始化日誌失敗: %w", err)
		}

		// 載入配置 (除了 version 和 help 命令)
		if cmd.Name() != "version" && cmd.Name() != "help" && cmd.Name() != "generate" {
			appConfig, err = simulator.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("載入配置失敗: %w", err)
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

// startCmd 啟動命令
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "啟動模擬器",
	Long:  "啟動模擬器並監聽 Modbus TCP 請求,收到 SIGINT/SIGTERM 時優雅關閉。",
	RunE: func(cmd *cobra.Command, args []string) error {
		// CLI 參數覆蓋配置
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			appConfig.Listen.IP = listen
		}
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			appConfig.Listen.Port = port
		}
		if firmware, _ := cmd.Flags().GetString("firmware"); firmware != "" {
			appConfig.Device.Firmware = firmware
		}
		if busy, _ := cmd.Flags().GetDuration("busy"); busy > 0 {
			appConfig.Device.BusyDuration = busy
		}
		if wedged, _ := cmd.Flags().GetBool("wedged"); wedged {
			appConfig.Device.Wedged = true
		}
		if state, _ := cmd.Flags().GetString("state"); state != "" {
			appConfig.Persistence.Enabled = true
			appConfig.Persistence.Path = state
		}

		sim, err := simulator.New(appConfig, simulator.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("建立模擬器失敗: %w", err)
		}

		ctx := context.Background()
		if err := sim.Start(ctx); err != nil {
			return fmt.Errorf("啟動模擬器失敗: %w", err)
		}

		logger.Info("模擬器已啟動",
			zap.String("session_id", sim.SessionID()),
			zap.String("address", sim.Addr()),
			zap.String("firmware", sim.Firmware()))

		// 啟動監控
		if appConfig.Metrics.Enabled {
			collector := simulator.NewCollector(sim, logger)
			if err := collector.Start(appConfig.Metrics.Endpoint, appConfig.Metrics.Port); err != nil {
				logger.Warn("啟動監控失敗", zap.Error(err))
			} else {
				logger.Info("監控已啟動",
					zap.String("endpoint", appConfig.Metrics.Endpoint),
					zap.Int("port", appConfig.Metrics.Port))
			}
		}

		// 等待終止信號
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan

		logger.Info("收到終止信號,正在關閉", zap.String("signal", sig.String()))

		if err := sim.Stop(); err != nil {
			logger.Error("關閉模擬器失敗", zap.Error(err))
			return err
		}

		logger.Info("模擬器已關閉")
		return nil
	},
}

// networkCmd 網路管理命令
var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "網路管理命令",
	Long:  "管理模擬器使用的虛擬 IP。",
}

// networkSetupCmd 設置網路
var networkSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "設置虛擬 IP",
	Long:  "根據配置在指定網路介面上設置虛擬 IP。",
	RunE: func(cmd *cobra.Command, args []string) error {
		provisioner := simulator.NewNetworkProvisioner(appConfig.Network.Interface, logger)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := provisioner.Setup(ctx, appConfig.Network.IPRanges); err != nil {
			return fmt.Errorf("設置網路失敗: %w", err)
		}

		fmt.Println("網路設置完成")
		return nil
	},
}

// networkTeardownCmd 清理網路
var networkTeardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "清理虛擬 IP",
	Long:  "移除之前設置的虛擬 IP。",
	RunE: func(cmd *cobra.Command, args []string) error {
		provisioner := simulator.NewNetworkProvisioner(appConfig.Network.Interface, logger)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// 先設置列表以便清理
		if err := provisioner.Setup(ctx, appConfig.Network.IPRanges); err != nil {
			logger.Warn("重建 IP 列表失敗", zap.Error(err))
		}

		if err := provisioner.Teardown(ctx); err != nil {
			return fmt.Errorf("清理網路失敗: %w", err)
		}

		fmt.Println("網路清理完成")
		return nil
	},
}

// networkListCmd 列出 IP
var networkListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出介面上的 IP",
	Long:  "列出指定網路介面上的所有 IP 位址。",
	RunE: func(cmd *cobra.Command, args []string) error {
		provisioner := simulator.NewNetworkProvisioner(appConfig.Network.Interface, logger)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		ips, err := provisioner.List(ctx)
		if err != nil {
			return fmt.Errorf("列出 IP 失敗: %w", err)
		}

		fmt.Printf("介面 %s 上的 IP 位址:\n", appConfig.Network.Interface)
		for _, ip := range ips {
			fmt.Printf("  %s\n", ip.String())
		}
		return nil
	},
}

// configCmd 配置命令組
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "配置管理命令",
	Long:  "管理模擬器配置檔。",
}

// configValidateCmd 驗證配置
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "驗證配置檔",
	Long:  "驗證指定的配置檔是否有效。",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := simulator.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}

		fmt.Println("配置驗證通過")
		fmt.Printf("  Listen: %s\n", cfg.Endpoint())
		fmt.Printf("  Firmware: %s\n", cfg.Device.Firmware)
		fmt.Printf("  Busy Duration: %s\n", cfg.Device.BusyDuration)
		fmt.Printf("  Metrics: %v\n", cfg.Metrics.Enabled)
		fmt.Printf("  Persistence: %v\n", cfg.Persistence.Enabled)
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
			output = "pgvasim.json"
		}

		cfg := simulator.DefaultConfig()

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
		fmt.Printf("pgvasim version %s\n", Version)
		fmt.Printf("  Build: %s\n", BuildTime)
		fmt.Printf("  Commit: %s\n", GitCommit)
	},
}

func init() {
	// 全域 flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置檔路徑")

	// start 命令 flags
	startCmd.Flags().StringP("listen", "l", "", "監聽 IP 位址")
	startCmd.Flags().IntP("port", "p", 0, "監聽埠號")
	startCmd.Flags().String("firmware", "", "模擬的韌體版本")
	startCmd.Flags().Duration("busy", 0, "命令忙碌時長")
	startCmd.Flags().Bool("wedged", false, "忙碌位永不清除 (測試逾時用)")
	startCmd.Flags().String("state", "", "暫存器狀態持久化路徑")

	// config 命令 flags
	configGenerateCmd.Flags().StringP("output", "o", "pgvasim.json", "輸出檔案路徑")

	// 組裝命令樹
	networkCmd.AddCommand(networkSetupCmd, networkTeardownCmd, networkListCmd)
	configCmd.AddCommand(configValidateCmd, configGenerateCmd)

	rootCmd.AddCommand(
		startCmd,
		networkCmd,
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
