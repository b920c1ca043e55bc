package share

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sourcegraph/conc"

	"camshare/internal/camera"
)

func TestLifecycle_OpenCloseTransitions(t *testing.T) {
	src := camera.NewMockSource(testSize, 0)
	f := newTestFactory(t, src, Config{})

	a := f.CreateHandle()
	b := f.CreateHandle()

	if src.Opens() != 0 {
		t.Fatal("Expected CreateHandle not to open the source")
	}

	if err := a.Open(); err != nil {
		t.Fatal(err)
	}
	if err := b.Open(); err != nil {
		t.Fatal(err)
	}
	if src.Opens() != 1 || !src.IsOpen() {
		t.Errorf("Expected source opened exactly once, got %d", src.Opens())
	}

	_ = a.Close()
	if !src.IsOpen() || src.Closes() != 0 {
		t.Error("Expected source to stay open while B is open")
	}

	_ = b.Close()
	if src.IsOpen() || src.Closes() != 1 {
		t.Errorf("Expected source closed exactly once, got %d", src.Closes())
	}

	// 2回目の 0→1 で再び開く
	if err := a.Open(); err != nil {
		t.Fatal(err)
	}
	_ = a.Close()
	if src.Opens() != 2 || src.Closes() != 2 {
		t.Errorf("Expected one open and close per transition, got opens=%d closes=%d", src.Opens(), src.Closes())
	}
}

func TestLifecycle_RepeatedOpenAndClose(t *testing.T) {
	src := camera.NewMockSource(testSize, 0)
	f := newTestFactory(t, src, Config{})

	h := f.CreateHandle()

	testCases := []struct {
		name      string
		op        func() error
		wantOpen  bool
		wantOpens int64
		wantClose int64
	}{
		{name: "開く", op: h.Open, wantOpen: true, wantOpens: 1},
		{name: "二重に開く", op: h.Open, wantOpen: true, wantOpens: 1},
		{name: "閉じる", op: h.Close, wantOpen: false, wantOpens: 1, wantClose: 1},
		{name: "二重に閉じる", op: h.Close, wantOpen: false, wantOpens: 1, wantClose: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.op(); err != nil {
				t.Fatal(err)
			}
			if h.IsOpen() != tc.wantOpen {
				t.Errorf("Expected IsOpen=%v", tc.wantOpen)
			}
			if src.Opens() != tc.wantOpens || src.Closes() != tc.wantClose {
				t.Errorf("Expected opens=%d closes=%d, got %d %d", tc.wantOpens, tc.wantClose, src.Opens(), src.Closes())
			}
		})
	}
}

func TestLifecycle_OpenFailure(t *testing.T) {
	src := camera.NewMockSource(testSize, 0)
	src.SetShouldFailOpen(true)
	f := newTestFactory(t, src, Config{})

	h := f.CreateHandle()
	err := h.Open()
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Expected ErrOpen, got %v", err)
	}
	if h.IsOpen() || f.Stats().OpenHandles != 0 {
		t.Error("Expected failed handle to be removed from the open set")
	}

	src.SetShouldFailOpen(false)
	if err := h.Open(); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if src.Opens() != 2 {
		t.Errorf("Expected 2 open attempts, got %d", src.Opens())
	}
}

func TestLifecycle_CloseErrorSwallowed(t *testing.T) {
	src := camera.NewMockSource(testSize, 0)
	src.SetShouldFailClose(true)
	f := newTestFactory(t, src, Config{})

	h := openHandle(t, f)
	if err := h.Close(); err != nil {
		t.Errorf("Expected close error to be swallowed, got %v", err)
	}
	if f.Stats().OpenHandles != 0 {
		t.Error("Expected handle to be closed")
	}
	if err := f.Destroy(context.Background()); err != nil {
		t.Errorf("Expected Destroy to succeed, got %v", err)
	}
}

func TestDestroy_ClosesAllHandles(t *testing.T) {
	src := camera.NewMockSource(testSize, 0)
	f := newTestFactory(t, src, Config{Owner: true})

	handles := []*Handle{openHandle(t, f), openHandle(t, f), openHandle(t, f)}

	if err := f.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	for i, h := range handles {
		if h.IsOpen() {
			t.Errorf("handle %d still open after Destroy", i)
		}
	}
	if src.IsOpen() || src.Opens() != 1 || src.Closes() != 1 {
		t.Errorf("Expected source opened and closed once, got opens=%d closes=%d", src.Opens(), src.Closes())
	}
	if src.Destroys() != 1 {
		t.Errorf("Expected owned source to be destroyed, got %d", src.Destroys())
	}

	stats := f.Stats()
	if !stats.Destroyed || stats.OpenHandles != 0 {
		t.Errorf("Unexpected stats after Destroy: %+v", stats)
	}

	// 破棄後の操作
	if err := f.CreateHandle().Open(); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Expected ErrDestroyed on Open, got %v", err)
	}
	var frame camera.Frame
	if err := handles[0].Capture(context.Background(), &frame); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Expected ErrDestroyed on Capture, got %v", err)
	}
	if err := handles[0].Close(); err != nil {
		t.Errorf("Expected Close after Destroy to be a no-op, got %v", err)
	}

	// 2回目は何もしない
	if err := f.Destroy(context.Background()); err != nil {
		t.Errorf("Expected second Destroy to succeed, got %v", err)
	}
	if src.Destroys() != 1 {
		t.Error("Expected source to be destroyed only once")
	}
}

func TestDestroy_NotOwner(t *testing.T) {
	src := camera.NewMockSource(testSize, 0)
	f := newTestFactory(t, src, Config{Owner: false})

	openHandle(t, f)
	if err := f.Destroy(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.Destroys() != 0 {
		t.Error("Expected borrowed source not to be destroyed")
	}
	if src.Closes() != 1 {
		t.Errorf("Expected source closed by the last handle, got %d", src.Closes())
	}
}

func TestDestroy_WaitsForInFlightCapture(t *testing.T) {
	src := camera.NewMockSource(testSize, 0)
	f := newTestFactory(t, src, Config{Owner: true})

	h := openHandle(t, f)
	src.Block()

	var (
		wg         conc.WaitGroup
		captureErr error
		frame      camera.Frame
	)
	wg.Go(func() {
		captureErr = h.Capture(context.Background(), &frame)
	})
	waitFor(t, "physical capture to start", func() bool { return src.Captures() == 1 })

	destroyed := make(chan error, 1)
	go func() {
		destroyed <- f.Destroy(context.Background())
	}()

	select {
	case err := <-destroyed:
		t.Fatalf("Destroy returned while a capture was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	src.Unblock()

	select {
	case err := <-destroyed:
		if err != nil {
			t.Fatalf("Destroy failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Destroy did not return after the capture finished")
	}
	wg.Wait()

	if captureErr != nil || camera.FrameSeq(&frame) != 1 {
		t.Errorf("Expected in-flight capture to complete, got err=%v seq=%d", captureErr, camera.FrameSeq(&frame))
	}
}

func TestDestroy_EndsPiggybackWait(t *testing.T) {
	src := camera.NewMockSource(testSize, 0)
	f := newTestFactory(t, src, Config{CaptureInterval: 5 * time.Second})

	h := openHandle(t, f)

	var (
		wg         conc.WaitGroup
		captureErr error
	)
	wg.Go(func() {
		var frame camera.Frame
		captureErr = h.Capture(context.Background(), &frame)
	})
	waitFor(t, "physical capture to finish", func() bool { return src.Captures() == 1 })

	start := time.Now()
	if err := f.Destroy(context.Background()); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	if time.Since(start) > time.Second {
		t.Error("Expected Destroy to cut the piggyback wait short")
	}
	if captureErr != nil {
		t.Errorf("Expected capture to succeed, got %v", captureErr)
	}
}

func TestDestroy_ContextCancelled(t *testing.T) {
	src := camera.NewMockSource(testSize, 0)
	f := newTestFactory(t, src, Config{})

	h := openHandle(t, f)
	src.Block()

	var wg conc.WaitGroup
	wg.Go(func() {
		var frame camera.Frame
		_ = h.Capture(context.Background(), &frame)
	})
	waitFor(t, "physical capture to start", func() bool { return src.Captures() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := f.Destroy(ctx)
	if !errors.Is(err, ErrInterrupted) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected ErrInterrupted, got %v", err)
	}
	if f.Stats().Destroyed {
		t.Error("Expected factory not to be marked destroyed yet")
	}

	src.Unblock()
	wg.Wait()

	if err := f.Destroy(context.Background()); err != nil {
		t.Fatalf("Expected retry of Destroy to succeed, got %v", err)
	}
	if !f.Stats().Destroyed {
		t.Error("Expected factory to be destroyed")
	}
}

func TestDestroy_RacesWithClose(t *testing.T) {
	for round := 0; round < 20; round++ {
		src := camera.NewMockSource(testSize, 0)
		f := newTestFactory(t, src, Config{Owner: true})

		handles := make([]*Handle, 10)
		for i := range handles {
			handles[i] = openHandle(t, f)
		}

		var wg conc.WaitGroup
		for _, h := range handles {
			wg.Go(func() { _ = h.Close() })
		}
		var destroyErr error
		wg.Go(func() { destroyErr = f.Destroy(context.Background()) })
		wg.Wait()

		if destroyErr != nil {
			t.Fatalf("round %d: Destroy failed: %v", round, destroyErr)
		}
		if n := f.Stats().OpenHandles; n != 0 {
			t.Fatalf("round %d: %d handles still open", round, n)
		}
		if src.Opens() != 1 || src.Closes() != 1 {
			t.Fatalf("round %d: expected one open and one close, got %d %d", round, src.Opens(), src.Closes())
		}
	}
}

func TestDestroy_RejectsOpenDuringDrain(t *testing.T) {
	src := camera.NewMockSource(testSize, 0)
	f := newTestFactory(t, src, Config{})

	h := openHandle(t, f)
	src.Block()

	var wg conc.WaitGroup
	wg.Go(func() {
		var frame camera.Frame
		_ = h.Capture(context.Background(), &frame)
	})
	waitFor(t, "physical capture to start", func() bool { return src.Captures() == 1 })

	wg.Go(func() { _ = f.Destroy(context.Background()) })
	waitFor(t, "handles to drain", func() bool { return f.Stats().OpenHandles == 0 })

	if err := f.CreateHandle().Open(); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Expected ErrDestroyed while draining, got %v", err)
	}

	src.Unblock()
	wg.Wait()
}
