package share

import (
	"testing"
	"time"

	"camshare/internal/camera"
)

var testSize = camera.Size{Width: 8, Height: 8}

// waitFor は cond が成立するまで待つ
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// joinedWaiters は実行中の撮影に相乗りしている呼び出し数を返す
func (c *coalescer[P]) joinedWaiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return 0
	}
	return len(c.cur.waiters)
}

func newTestFactory(t *testing.T, src camera.Source, cfg Config) *Factory {
	t.Helper()
	f, err := NewFactory(src, cfg)
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}
	return f
}

func openHandle(t *testing.T, f *Factory) *Handle {
	t.Helper()
	h := f.CreateHandle()
	if err := h.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return h
}
