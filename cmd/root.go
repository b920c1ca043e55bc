// Package cmd はcamshareコマンドの実装です
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"camshare/internal/camera"
	"camshare/internal/config"
	"camshare/internal/device"
	"camshare/internal/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "camshare",
	Short: "1台のカメラを複数の利用者で共有するサーバー",
	Long: `camshare は1台の物理カメラを複数の利用者で共有します。
同時に届いた撮影要求は1回の物理キャプチャにまとめられ、
結果は全ての利用者にコピーされます。`,
	SilenceUsage: true,
}

// Execute はルートコマンドを実行する
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "設定ファイル (省略時はデフォルト設定)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "ログレベル (DEBUG / INFO / WARN / ERROR)")

	rootCmd.AddCommand(serveCmd, devicesCmd, snapshotCmd)
}

// loadConfig は設定を読み込んでコマンドラインの指定を反映する
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		if !logging.IsValidLevel(logLevel) {
			return nil, fmt.Errorf("無効なログレベル: %s", logLevel)
		}
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func openLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	return logging.Open(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
}

// newManager は設定された全てのカメラを持つManagerを作成する
func newManager(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*device.Manager, error) {
	m := device.NewManager(camera.NewDefaultRegistry(), camera.NewLinuxDiscovery(), logger)
	if err := m.Load(ctx, cfg); err != nil {
		return nil, fmt.Errorf("カメラの初期化に失敗: %w", err)
	}
	return m, nil
}
