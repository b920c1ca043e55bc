package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// X11GrabSource はffmpegのx11grabでX11ディスプレイを撮影するSource
// vova616/screenshot が使えない環境（別ディスプレイなど）向け
type X11GrabSource struct {
	display string
	width   int
	height  int
	timeout time.Duration

	mu     sync.Mutex
	opened bool
}

// NewX11GrabSource は新しいX11GrabSourceを作成する
func NewX11GrabSource(display string, width, height int) *X11GrabSource {
	if display == "" {
		display = ":0"
	}
	return &X11GrabSource{
		display: display,
		width:   width,
		height:  height,
		timeout: 10 * time.Second,
	}
}

// Open はディスプレイに接続できるか確認してから開いた状態にする
func (s *X11GrabSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return ErrAlreadyOpen
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	// xdpyinfoコマンドでX11ディスプレイの利用可能性をチェック
	if err := exec.CommandContext(ctx, "xdpyinfo", "-display", s.display).Run(); err != nil {
		return fmt.Errorf("ディスプレイが利用できません (%s): %w", s.display, err)
	}

	s.opened = true
	return nil
}

// Close は閉じた状態にする
func (s *X11GrabSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

// Size は出力画像のサイズを返す
func (s *X11GrabSource) Size() Size {
	return Size{Width: s.width, Height: s.height}
}

// Capture は画面を1フレームJPEGとしてキャプチャする
func (s *X11GrabSource) Capture(dst *Frame) error {
	s.mu.Lock()
	opened := s.opened
	s.mu.Unlock()
	if !opened {
		return ErrNotOpen
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", s.args()...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("X11画面キャプチャに失敗: %w (stderr: %s)", err, stderr.String())
	}
	if !isJPEG(stdout.Bytes()) {
		return fmt.Errorf("ffmpegの出力がJPEGではありません (%d bytes)", stdout.Len())
	}

	dst.Format = FormatJPEG
	dst.Width = s.width
	dst.Height = s.height
	dst.Data = append(dst.Data[:0], stdout.Bytes()...)
	dst.Timestamp = time.Now()
	return nil
}

func (s *X11GrabSource) args() []string {
	return []string{
		"-loglevel", "error",
		"-f", "x11grab",
		"-video_size", fmt.Sprintf("%dx%d", s.width, s.height),
		"-i", s.display,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	}
}

// isJPEG はSOIとEOIマーカーで完全なJPEGかを判定する
func isJPEG(data []byte) bool {
	n := len(data)
	return n >= 4 &&
		data[0] == 0xFF && data[1] == 0xD8 &&
		data[n-2] == 0xFF && data[n-1] == 0xD9
}
