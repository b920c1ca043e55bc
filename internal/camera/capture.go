package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"time"
)

// FFmpegSource はシェルコマンドを使ってV4L2デバイスから画像を取得するSource
// 1回のキャプチャごとにffmpegを起動するため遅いが、ドライバ依存が少ない
type FFmpegSource struct {
	devicePath string
	width      int
	height     int
	controls   map[string]string
	timeout    time.Duration

	mu     sync.Mutex
	opened bool
}

// NewFFmpegSource は新しいFFmpegSourceを作成する
func NewFFmpegSource(devicePath string, width, height int) *FFmpegSource {
	return &FFmpegSource{
		devicePath: devicePath,
		width:      width,
		height:     height,
		timeout:    10 * time.Second,
	}
}

// WithControls はOpen時に設定するカメラコントロールを指定する
func (c *FFmpegSource) WithControls(controls map[string]string) *FFmpegSource {
	c.controls = controls
	return c
}

// Open はデバイスが利用可能か確認し、コントロールを設定してから開いた状態にする
func (c *FFmpegSource) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return ErrAlreadyOpen
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if !c.IsDeviceAvailable(ctx) {
		return fmt.Errorf("デバイスが利用できません: %s", c.devicePath)
	}

	if len(c.controls) > 0 {
		if err := c.SetControls(ctx, c.controls); err != nil {
			return err
		}
	}

	c.opened = true
	return nil
}

// Close は閉じた状態にする
func (c *FFmpegSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = false
	return nil
}

// Size は出力画像のサイズを返す
func (c *FFmpegSource) Size() Size {
	return Size{Width: c.width, Height: c.height}
}

// IsDeviceAvailable はV4L2デバイスが利用可能かチェックする
func (c *FFmpegSource) IsDeviceAvailable(ctx context.Context) bool {
	// v4l2-ctlコマンドでデバイス情報を取得して確認
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", c.devicePath, "--info")
	return cmd.Run() == nil
}

// Capture は1フレームをJPEGとしてキャプチャする
func (c *FFmpegSource) Capture(dst *Frame) error {
	c.mu.Lock()
	opened := c.opened
	c.mu.Unlock()
	if !opened {
		return ErrNotOpen
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	// ffmpegを使って1フレームをJPEGとしてキャプチャ
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", c.width, c.height),
		"-i", c.devicePath,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "2", // 高品質JPEG
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("JPEGフレームキャプチャに失敗: %w (stderr: %s)", err, stderr.String())
	}
	if !isJPEG(stdout.Bytes()) {
		return fmt.Errorf("ffmpegの出力がJPEGではありません (%d bytes)", stdout.Len())
	}

	dst.Format = FormatJPEG
	dst.Width = c.width
	dst.Height = c.height
	dst.Data = append(dst.Data[:0], stdout.Bytes()...)
	dst.Timestamp = time.Now()
	return nil
}

// SetControls はカメラのコントロール（明度、コントラストなど）を設定する
func (c *FFmpegSource) SetControls(ctx context.Context, controls map[string]string) error {
	for _, arg := range controlArgs(controls) {
		cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", c.devicePath, "--set-ctrl", arg)
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("コントロール %s の設定に失敗: %w", arg, err)
		}
	}
	return nil
}

// controlArgs は "name=value" の形式に名前順で並べる
func controlArgs(controls map[string]string) []string {
	names := make([]string, 0, len(controls))
	for name := range controls {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]string, 0, len(names))
	for _, name := range names {
		args = append(args, name+"="+controls[name])
	}
	return args
}
