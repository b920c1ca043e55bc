package camera

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/vova616/screenshot"
)

// ScreenSource は画面キャプチャをフレーム供給元として扱うSource
// region が空の場合は画面全体を撮影する
type ScreenSource struct {
	region image.Rectangle

	mu     sync.Mutex
	opened bool
	rect   image.Rectangle
}

// NewScreenSource は新しいScreenSourceを作成する
func NewScreenSource(region image.Rectangle) *ScreenSource {
	return &ScreenSource{region: region}
}

// Open は画面に接続できるか確認して撮影範囲を確定する
func (s *ScreenSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return ErrAlreadyOpen
	}

	screen, err := screenshot.ScreenRect()
	if err != nil {
		return fmt.Errorf("画面情報の取得に失敗: %w", err)
	}

	rect := screen
	if !s.region.Empty() {
		rect = s.region.Intersect(screen)
		if rect.Empty() {
			return fmt.Errorf("撮影範囲が画面外です: %v", s.region)
		}
	}

	s.rect = rect
	s.opened = true
	return nil
}

// Close は閉じた状態にする
func (s *ScreenSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

// Size は撮影範囲のサイズを返す
// Open前は指定された範囲から求める
func (s *ScreenSource) Size() Size {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rect
	if r.Empty() {
		r = s.region
	}
	return Size{Width: r.Dx(), Height: r.Dy()}
}

// Capture は撮影範囲をRGBAフレームとして取得する
func (s *ScreenSource) Capture(dst *Frame) error {
	s.mu.Lock()
	opened, rect := s.opened, s.rect
	s.mu.Unlock()

	if !opened {
		return ErrNotOpen
	}

	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return fmt.Errorf("画面キャプチャに失敗: %w", err)
	}

	copyRGBA(dst, img)
	dst.Timestamp = time.Now()
	return nil
}

// copyRGBA は image.RGBA の画素を詰めた形で dst に書き込む
func copyRGBA(dst *Frame, img *image.RGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	need := w * h * 4
	if cap(dst.Data) < need {
		dst.Data = make([]byte, need)
	}
	dst.Data = dst.Data[:need]

	for y := 0; y < h; y++ {
		start := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(dst.Data[y*w*4:(y+1)*w*4], img.Pix[start:start+w*4])
	}

	dst.Format = FormatRGBA
	dst.Width = w
	dst.Height = h
}
