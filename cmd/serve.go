package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"camshare/internal/recorder"
	"camshare/internal/server"
)

// stopTimeout は終了時にカメラの破棄を待つ時間
const stopTimeout = 10 * time.Second

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "HTTPサーバーを起動する",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "サーバーのホスト (デフォルト: 設定ファイルの値)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "サーバーのポート (デフォルト: 設定ファイルの値)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// コマンドラインオプションで設定を上書き
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger, closer, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices, err := newManager(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := devices.Stop(stopCtx); err != nil {
			logger.Error("カメラの停止に失敗", "error", err)
		}
	}()

	if cfg.Recorder.Enabled {
		rec := recorder.New(cfg.Recorder, devices.StreamIDs(), devices, logger)
		if err := rec.Start(ctx); err != nil {
			return fmt.Errorf("定期撮影の開始に失敗: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := rec.Stop(stopCtx); err != nil {
				logger.Error("定期撮影の停止に失敗", "error", err)
			}
		}()
	}

	logger.Info("camshare を起動します", "addr", cfg.ServerAddress(), "cameras", len(devices.Cameras()))
	return server.New(cfg, devices, logger).Start(ctx)
}
