package share

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"camshare/internal/camera"
)

// Camera は共有カメラの利用者から見た操作
// Handle と StreamHandle が実装する
type Camera interface {
	Open() error
	Close() error
	Capture(ctx context.Context, dst *camera.Frame) error
	Size() camera.Size
}

var (
	_ Camera = (*Handle)(nil)
	_ Camera = (*StreamHandle)(nil)
)

// Handle は Factory の利用者ごとの窓口
// 識別子以外の状態は持たない
type Handle struct {
	id uuid.UUID
	f  *Factory
}

// ID はハンドルの識別子を返す
func (h *Handle) ID() uuid.UUID { return h.id }

// Open はハンドルを開く。既に開いている場合は何もしない
func (h *Handle) Open() error {
	return h.f.lc.add(h.id)
}

// Close はハンドルを閉じる。開いていない場合は何もしない
func (h *Handle) Close() error {
	h.f.lc.remove(h.id)
	return nil
}

// IsOpen はハンドルが開いているかを返す
func (h *Handle) IsOpen() bool {
	return h.f.lc.isOpen(h.id)
}

// Capture はフレームを1枚取得して dst に書き込む
func (h *Handle) Capture(ctx context.Context, dst *camera.Frame) error {
	return h.f.co.do(ctx, dst)
}

// Size はソースの画像サイズを返す
func (h *Handle) Size() camera.Size {
	return h.f.Size()
}

// DropFrames は n 枚のフレームを読み捨てる
// 露出が安定するまでの最初の数フレームを捨てる用途
func DropFrames(ctx context.Context, cam Camera, n int) error {
	var f camera.Frame
	for i := 0; i < n; i++ {
		if err := cam.Capture(ctx, &f); err != nil {
			return fmt.Errorf("フレームの読み捨てに失敗 (%d/%d): %w", i+1, n, err)
		}
	}
	return nil
}

// DropFramesFor は d が経過するまでフレームを読み捨てる
func DropFramesFor(ctx context.Context, cam Camera, d time.Duration) error {
	var f camera.Frame
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if err := cam.Capture(ctx, &f); err != nil {
			return fmt.Errorf("フレームの読み捨てに失敗: %w", err)
		}
	}
	return nil
}
