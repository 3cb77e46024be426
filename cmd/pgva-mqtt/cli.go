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

	"pgva-driver"
)

var (
	cfgFile    string
	deviceHost string
	devicePort int
	logger     *zap.Logger
	appConfig  *pgva.Config
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "pgva-mqtt",
	Short: "PGVA-1 MQTT 遙測橋接器",
	Long: `將單一 PGVA-1 裝置橋接到 MQTT broker:
週期性發布感測器遙測,並接收設定命令。`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 初始化日誌
		var err error
		logger, err = initLogger()
		if err != nil {
			return fmt.Errorf("初始化日誌失敗: %w", err)
		}

		// 載入配置 (除了 version 和 help 命令)
		if cmd.Name() != "version" && cmd.Name() != "help" {
			appConfig, err = pgva.LoadConfig(cfgFile)
			if err != nil {
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

// startCmd 啟動命令
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "啟動橋接器",
	Long:  "連線裝置與 broker 後開始發布遙測,收到 SIGINT/SIGTERM 時優雅關閉。",
	RunE: func(cmd *cobra.Command, args []string) error {
		broker, _ := cmd.Flags().GetString("broker")
		clientID, _ := cmd.Flags().GetString("client-id")
		prefix, _ := cmd.Flags().GetString("topic")
		interval, _ := cmd.Flags().GetDuration("interval")

		// CLI 參數覆蓋配置
		if deviceHost != "" {
			appConfig.TCP.IP = deviceHost
		}
		if devicePort > 0 {
			appConfig.TCP.Port = devicePort
		}

		dev, err := pgva.New(appConfig, logger)
		if err != nil {
			return fmt.Errorf("連線裝置失敗: %w", err)
		}
		defer dev.Close()

		bridge, err := newBridge(dev, broker, clientID, prefix, interval, logger)
		if err != nil {
			return err
		}
		defer bridge.Close()

		// 等待終止信號
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigChan
			logger.Info("收到終止信號,正在關閉", zap.String("signal", sig.String()))
			cancel()
		}()

		if err := bridge.Run(ctx); err != nil {
			return err
		}

		logger.Info("橋接器已關閉")
		return nil
	},
}

// versionCmd 版本命令
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "顯示版本資訊",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pgva-mqtt version %s\n", Version)
		fmt.Printf("  Build: %s\n", BuildTime)
		fmt.Printf("  Commit: %s\n", GitCommit)
	},
}

func init() {
	// 全域 flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置檔路徑")
	rootCmd.PersistentFlags().StringVarP(&deviceHost, "host", "H", "", "裝置 IP 位址")
	rootCmd.PersistentFlags().IntVarP(&devicePort, "port", "p", 0, "裝置埠號")

	// start 命令 flags
	startCmd.Flags().StringP("broker", "b", "tcp://127.0.0.1:1883", "MQTT broker URL")
	startCmd.Flags().String("client-id", "pgva-mqtt", "MQTT client ID")
	startCmd.Flags().StringP("topic", "t", "pgva", "主題前綴")
	startCmd.Flags().DurationP("interval", "i", 5*time.Second, "遙測發布間隔")

	rootCmd.AddCommand(startCmd, versionCmd)
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
