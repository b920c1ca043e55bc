//go:build linux

package camera

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeStream はmmapされたバッファの代わりにスライスを返す
// StopStreaming でバッファを潰すので、その後に読むと中身が変わる
type fakeStream struct {
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	buf     []byte
	stopped bool
}

func newFakeStream(payload []byte) *fakeStream {
	return &fakeStream{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		buf:     append([]byte(nil), payload...),
	}
}

func (f *fakeStream) WaitForFrame(uint32) error {
	f.entered <- struct{}{}
	<-f.release
	return nil
}

func (f *fakeStream) ReadFrame() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return nil, errors.New("stream stopped")
	}
	return f.buf, nil
}

func (f *fakeStream) StopStreaming() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	for i := range f.buf {
		f.buf[i] = 0
	}
	return nil
}

func (f *fakeStream) Close() error { return nil }

func (f *fakeStream) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func TestWebcamSource_CloseWaitsForCapture(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 1, 2, 3, 4, 0xFF, 0xD9}
	stream := newFakeStream(payload)

	s := NewWebcamSource("/dev/video9", Size{Width: 4, Height: 2})
	s.cam = stream
	s.format = FormatJPEG

	var (
		frame      Frame
		captureErr error
		captured   = make(chan struct{})
		closed     = make(chan error, 1)
	)
	go func() {
		defer close(captured)
		captureErr = s.Capture(&frame)
	}()
	<-stream.entered

	go func() { closed <- s.Close() }()

	select {
	case <-closed:
		t.Fatal("Expected Close to wait for the frame being read")
	case <-time.After(50 * time.Millisecond):
	}
	if stream.isStopped() {
		t.Fatal("Expected streaming to continue until the copy finishes")
	}

	close(stream.release)
	<-captured

	if captureErr != nil {
		t.Fatalf("Capture failed: %v", captureErr)
	}
	if !bytes.Equal(frame.Data, payload) {
		t.Errorf("Expected copied frame %v, got %v", payload, frame.Data)
	}
	if frame.Format != FormatJPEG || frame.Width != 4 || frame.Height != 2 {
		t.Errorf("Unexpected frame header %s %dx%d", frame.Format, frame.Width, frame.Height)
	}

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the capture finished")
	}
	if !stream.isStopped() {
		t.Error("Expected streaming to be stopped by Close")
	}

	if err := s.Capture(&frame); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Expected ErrNotOpen after Close, got %v", err)
	}
}
