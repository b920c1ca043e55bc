package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"camshare/internal/camera"
	"camshare/internal/share"
)

var (
	snapshotDrop    int
	snapshotQuality int
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <camera-id> <file>",
	Short: "カメラを1枚撮影してJPEGで保存する",
	Long: `カメラを1枚撮影してJPEGで保存します。
ペアカメラの片方は "<ペアID>.first" / "<ペアID>.second" で指定します。`,
	Args: cobra.ExactArgs(2),
	RunE: runSnapshot,
}

func init() {
	snapshotCmd.Flags().IntVar(&snapshotDrop, "drop", 0, "撮影前に読み捨てるフレーム数")
	snapshotCmd.Flags().IntVar(&snapshotQuality, "quality", 90, "JPEG品質 (1-100)")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	id, path := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closer, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := cmd.Context()
	devices, err := newManager(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = devices.Stop(stopCtx)
	}()

	handle, err := devices.NewHandle(id)
	if err != nil {
		return err
	}
	if err := handle.Open(); err != nil {
		return err
	}
	defer handle.Close()

	if err := share.DropFrames(ctx, handle, snapshotDrop); err != nil {
		return err
	}

	var frame camera.Frame
	if err := handle.Capture(ctx, &frame); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ファイルの作成に失敗: %w", err)
	}
	if err := frame.EncodeJPEG(f, snapshotQuality); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("ファイルの書き込みに失敗: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %dx%d (%s) を保存しました\n",
		path, frame.Width, frame.Height, frame.Timestamp.Format(time.RFC3339))
	return nil
}
