package share

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrTimeout     = errors.New("share: timed out waiting for in-flight capture")
	ErrCapture     = errors.New("share: capture failed")
	ErrInterrupted = errors.New("share: capture interrupted")
	ErrDestroyed   = errors.New("share: factory destroyed")
	ErrOpen        = errors.New("share: failed to open source")
)

// CaptureError は物理キャプチャの失敗を表す
// 同じ撮影を待っていた全員が同一の *CaptureError を受け取る
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("%s: %v", ErrCapture, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Is は errors.Is(err, ErrCapture) を成立させる
func (e *CaptureError) Is(target error) bool {
	return target == ErrCapture
}

func interrupted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
}
