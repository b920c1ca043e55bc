package share

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sourcegraph/conc"

	"camshare/internal/camera"
)

var (
	colorSize = camera.Size{Width: 8, Height: 6}
	depthSize = camera.Size{Width: 4, Height: 3}
)

func newTestPairedFactory(t *testing.T, src camera.PairSource, cfg Config) *PairedFactory {
	t.Helper()
	f, err := NewPairedFactory(src, cfg)
	if err != nil {
		t.Fatalf("NewPairedFactory failed: %v", err)
	}
	return f
}

func TestPairedFactory_SharedLifecycle(t *testing.T) {
	src := camera.NewMockPairSource(colorSize, depthSize, 0)
	f := newTestPairedFactory(t, src, Config{Owner: true})

	first := f.CreateFirstHandle()
	second := f.CreateSecondHandle()
	pair := f.CreatePairHandle()

	for _, open := range []func() error{first.Open, second.Open, pair.Open} {
		if err := open(); err != nil {
			t.Fatal(err)
		}
	}
	if src.Opens() != 1 {
		t.Errorf("Expected composite opened once, got %d", src.Opens())
	}

	_ = first.Close()
	_ = second.Close()
	if !src.IsOpen() {
		t.Error("Expected composite to stay open while the pair handle is open")
	}

	_ = pair.Close()
	if src.IsOpen() || src.Closes() != 1 {
		t.Errorf("Expected composite closed once, got %d", src.Closes())
	}

	if err := f.Destroy(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.Destroys() != 1 {
		t.Error("Expected owned composite to be destroyed")
	}
}

func TestPairedFactory_Sizes(t *testing.T) {
	src := camera.NewMockPairSource(colorSize, depthSize, 0)
	f := newTestPairedFactory(t, src, Config{})

	a, b := f.CreatePairHandle().Sizes()
	if a != colorSize || b != depthSize {
		t.Errorf("Unexpected sizes: %+v %+v", a, b)
	}
	if got := f.CreateFirstHandle().Size(); got != colorSize {
		t.Errorf("Expected first stream size %+v, got %+v", colorSize, got)
	}
	if got := f.CreateSecondHandle().Size(); got != depthSize {
		t.Errorf("Expected second stream size %+v, got %+v", depthSize, got)
	}
}

func TestPairedFactory_CoalescesAcrossFacades(t *testing.T) {
	src := camera.NewMockPairSource(colorSize, depthSize, 0)
	f := newTestPairedFactory(t, src, Config{CaptureInterval: 10 * time.Millisecond})
	defer f.Destroy(context.Background())

	pair := f.CreatePairHandle()
	first := f.CreateFirstHandle()
	second := f.CreateSecondHandle()
	for _, open := range []func() error{pair.Open, first.Open, second.Open} {
		if err := open(); err != nil {
			t.Fatal(err)
		}
	}

	src.Block()

	var (
		wg                  conc.WaitGroup
		pa, pb              camera.Frame
		fa, sb              camera.Frame
		pairErr, fErr, sErr error
	)
	wg.Go(func() { pairErr = pair.CaptureSynced(context.Background(), &pa, &pb) })
	waitFor(t, "physical capture to start", func() bool { return src.Captures() == 1 })

	wg.Go(func() { fErr = first.Capture(context.Background(), &fa) })
	wg.Go(func() { sErr = second.Capture(context.Background(), &sb) })
	waitFor(t, "waiters to join", func() bool { return f.co.joinedWaiters() == 2 })

	src.Unblock()
	wg.Wait()

	if pairErr != nil || fErr != nil || sErr != nil {
		t.Fatalf("Unexpected errors: %v %v %v", pairErr, fErr, sErr)
	}
	if src.Captures() != 1 {
		t.Errorf("Expected one physical capture, got %d", src.Captures())
	}

	// ペアの両方が同じ撮影のもの
	if camera.FrameSeq(&pa) != 1 || camera.FrameSeq(&pb) != 1 {
		t.Errorf("Expected pair from capture 1, got %d %d", camera.FrameSeq(&pa), camera.FrameSeq(&pb))
	}
	if !pa.Timestamp.Equal(pb.Timestamp) {
		t.Error("Expected halves to share a timestamp")
	}
	if fa.Format != camera.FormatGray || fa.Width != colorSize.Width {
		t.Errorf("Expected first stream frame, got %s %dx%d", fa.Format, fa.Width, fa.Height)
	}
	if sb.Format != camera.FormatGray16 || sb.Width != depthSize.Width {
		t.Errorf("Expected second stream frame, got %s %dx%d", sb.Format, sb.Width, sb.Height)
	}
	if camera.FrameSeq(&fa) != 1 || camera.FrameSeq(&sb) != 1 {
		t.Error("Expected stream handles to receive the same capture")
	}
}

func TestPairedFactory_ErrorDeliveredToAllFacades(t *testing.T) {
	src := camera.NewMockPairSource(colorSize, depthSize, 0)
	f := newTestPairedFactory(t, src, Config{})
	defer f.Destroy(context.Background())

	pair := f.CreatePairHandle()
	first := f.CreateFirstHandle()
	_ = pair.Open()
	_ = first.Open()

	boom := errors.New("depth sensor failed")
	src.SetShouldFailCapture(true, boom)
	src.Block()

	var (
		wg            conc.WaitGroup
		pa, pb, fa    camera.Frame
		pairErr, fErr error
	)
	wg.Go(func() { pairErr = pair.CaptureSynced(context.Background(), &pa, &pb) })
	waitFor(t, "physical capture to start", func() bool { return src.Captures() == 1 })
	wg.Go(func() { fErr = first.Capture(context.Background(), &fa) })
	waitFor(t, "waiter to join", func() bool { return f.co.joinedWaiters() == 1 })

	src.Unblock()
	wg.Wait()

	if pairErr == nil || pairErr != fErr {
		t.Errorf("Expected the identical error, got %v / %v", pairErr, fErr)
	}
	if !errors.Is(pairErr, boom) || !errors.Is(pairErr, ErrCapture) {
		t.Errorf("Expected capture error wrapping the device error, got %v", pairErr)
	}
	if !pa.IsEmpty() || !pb.IsEmpty() || !fa.IsEmpty() {
		t.Error("Expected no half of the pair to be written on failure")
	}

	src.SetShouldFailCapture(false, nil)
	if err := pair.CaptureSynced(context.Background(), &pa, &pb); err != nil {
		t.Fatalf("Expected recovery, got %v", err)
	}
	if camera.FrameSeq(&pa) != camera.FrameSeq(&pb) {
		t.Error("Expected both halves from the same capture")
	}
}

func TestPairedFactory_WithCompositePair(t *testing.T) {
	color := camera.NewMockSource(colorSize, 0)
	depth := camera.NewMockSource(depthSize, 0)
	f := newTestPairedFactory(t, camera.NewCompositePair(color, depth), Config{Owner: true})

	h := f.CreateSecondHandle()
	if err := h.Open(); err != nil {
		t.Fatal(err)
	}
	if !color.IsOpen() || !depth.IsOpen() {
		t.Fatal("Expected opening one stream to open the whole composite")
	}

	var frame camera.Frame
	if err := DropFrames(context.Background(), h, 2); err != nil {
		t.Fatal(err)
	}
	if err := h.Capture(context.Background(), &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Width != depthSize.Width {
		t.Errorf("Expected depth frame, got width %d", frame.Width)
	}

	if err := f.Destroy(context.Background()); err != nil {
		t.Fatal(err)
	}
	if color.IsOpen() || depth.IsOpen() {
		t.Error("Expected composite to be closed after Destroy")
	}
	if color.Destroys() != 1 || depth.Destroys() != 1 {
		t.Error("Expected owned composite to destroy both sources")
	}
}

func TestPairedFactory_CompositeSecondHalfFailure(t *testing.T) {
	color := camera.NewMockSource(colorSize, 0)
	depth := camera.NewMockSource(depthSize, 0)
	f := newTestPairedFactory(t, camera.NewCompositePair(color, depth), Config{})
	defer f.Destroy(context.Background())

	pair := f.CreatePairHandle()
	first := f.CreateFirstHandle()
	_ = pair.Open()
	_ = first.Open()

	var pa, pb camera.Frame
	if err := pair.CaptureSynced(context.Background(), &pa, &pb); err != nil {
		t.Fatal(err)
	}
	if camera.FrameSeq(&pa) != 1 || camera.FrameSeq(&pb) != 1 {
		t.Fatalf("Expected first pair from capture 1, got %d %d", camera.FrameSeq(&pa), camera.FrameSeq(&pb))
	}
	var fa camera.Frame
	pa.CopyTo(&fa)

	// 1番目のストリームは撮れて、2番目が失敗する
	boom := errors.New("depth stream lost")
	depth.SetShouldFailCapture(true, boom)
	color.Block()

	var (
		wg            conc.WaitGroup
		pairErr, fErr error
	)
	wg.Go(func() { pairErr = pair.CaptureSynced(context.Background(), &pa, &pb) })
	waitFor(t, "first stream capture to start", func() bool { return color.Captures() == 2 })
	wg.Go(func() { fErr = first.Capture(context.Background(), &fa) })
	waitFor(t, "waiter to join", func() bool { return f.co.joinedWaiters() == 1 })

	color.Unblock()
	wg.Wait()

	if !errors.Is(pairErr, boom) || pairErr != fErr {
		t.Fatalf("Expected the identical depth error, got %v / %v", pairErr, fErr)
	}
	// 呼び出し元のバッファは前回の撮影のまま
	if camera.FrameSeq(&pa) != 1 || camera.FrameSeq(&pb) != 1 || camera.FrameSeq(&fa) != 1 {
		t.Errorf("Expected caller buffers untouched, got %d %d %d",
			camera.FrameSeq(&pa), camera.FrameSeq(&pb), camera.FrameSeq(&fa))
	}

	// 保持しているペアも片方だけ新しくなってはいない
	f.mu.Lock()
	cacheFirst, cacheSecond := camera.FrameSeq(f.co.cache.first), camera.FrameSeq(f.co.cache.second)
	f.mu.Unlock()
	if cacheFirst != cacheSecond {
		t.Errorf("Expected cached pair from one capture, got %d %d", cacheFirst, cacheSecond)
	}

	depth.SetShouldFailCapture(false, nil)
	if err := pair.CaptureSynced(context.Background(), &pa, &pb); err != nil {
		t.Fatalf("Expected recovery, got %v", err)
	}
	if camera.FrameSeq(&pa) != camera.FrameSeq(&pb) || camera.FrameSeq(&pa) != 3 {
		t.Errorf("Expected both halves from capture 3, got %d %d", camera.FrameSeq(&pa), camera.FrameSeq(&pb))
	}
	if !pa.Timestamp.Equal(pb.Timestamp) {
		t.Error("Expected halves to share a timestamp")
	}
}
