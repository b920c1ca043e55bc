package camera

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource はテスト用のモックSource実装
// 各フレームの先頭8バイトに撮影番号を書き込む
type MockSource struct {
	mu      sync.Mutex
	size    Size
	latency time.Duration
	opened  bool

	// テスト制御用
	shouldFailOpen    bool
	shouldFailCapture bool
	shouldFailClose   bool
	captureErr        error
	blockCh           chan struct{}

	// 呼び出し回数
	opens     atomic.Int64
	closes    atomic.Int64
	captures  atomic.Int64
	destroys  atomic.Int64
	inFlight  atomic.Int64
	maxFlight atomic.Int64
}

// NewMockSource は新しいMockSourceを作成する
func NewMockSource(size Size, latency time.Duration) *MockSource {
	return &MockSource{size: size, latency: latency}
}

// Open はモックソースを開く
func (m *MockSource) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.opens.Add(1)
	if m.shouldFailOpen {
		return fmt.Errorf("モック: ソースのオープンに失敗")
	}
	if m.opened {
		return ErrAlreadyOpen
	}
	m.opened = true
	return nil
}

// Close はモックソースを閉じる
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closes.Add(1)
	m.opened = false
	if m.shouldFailClose {
		return fmt.Errorf("モック: ソースのクローズに失敗")
	}
	return nil
}

// Destroy はDestroyerの実装
func (m *MockSource) Destroy() error {
	m.destroys.Add(1)
	return nil
}

// Size は画像サイズを返す
func (m *MockSource) Size() Size {
	return m.size
}

// Capture は撮影番号入りのフレームを生成する
func (m *MockSource) Capture(dst *Frame) error {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		prev := m.maxFlight.Load()
		if n <= prev || m.maxFlight.CompareAndSwap(prev, n) {
			break
		}
	}

	m.mu.Lock()
	latency := m.latency
	blockCh := m.blockCh
	fail := m.shouldFailCapture
	captureErr := m.captureErr
	opened := m.opened
	m.mu.Unlock()

	// 状態を読み取ってから数えるので、Captures() が増えた時点で開閉の影響は受けない
	seq := m.captures.Add(1)

	if blockCh != nil {
		<-blockCh
	}
	if latency > 0 {
		time.Sleep(latency)
	}

	if fail {
		if captureErr != nil {
			return captureErr
		}
		return fmt.Errorf("モック: キャプチャに失敗 (seq=%d)", seq)
	}
	if !opened {
		return ErrNotOpen
	}

	writeSeqFrame(dst, m.size, FormatGray, uint64(seq))
	return nil
}

// SetLatency はキャプチャにかかる時間を設定する
func (m *MockSource) SetLatency(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = latency
}

// SetShouldFailOpen はテスト用にOpen失敗を設定する
func (m *MockSource) SetShouldFailOpen(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailOpen = shouldFail
}

// SetShouldFailClose はテスト用にClose失敗を設定する
func (m *MockSource) SetShouldFailClose(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailClose = shouldFail
}

// SetShouldFailCapture はテスト用にCapture失敗を設定する
// err が nil の場合は既定のエラーを返す
func (m *MockSource) SetShouldFailCapture(shouldFail bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailCapture = shouldFail
	m.captureErr = err
}

// Block は Unblock されるまで以降のCaptureを止める
func (m *MockSource) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blockCh == nil {
		m.blockCh = make(chan struct{})
	}
}

// Unblock は止めていたCaptureを再開させる
func (m *MockSource) Unblock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blockCh != nil {
		close(m.blockCh)
		m.blockCh = nil
	}
}

// IsOpen は現在開いているかを返す
func (m *MockSource) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// Opens はOpenの呼び出し回数を返す
func (m *MockSource) Opens() int64 { return m.opens.Load() }

// Closes はCloseの呼び出し回数を返す
func (m *MockSource) Closes() int64 { return m.closes.Load() }

// Captures はCaptureの呼び出し回数を返す
func (m *MockSource) Captures() int64 { return m.captures.Load() }

// Destroys はDestroyの呼び出し回数を返す
func (m *MockSource) Destroys() int64 { return m.destroys.Load() }

// MaxConcurrentCaptures は同時に実行されたCaptureの最大数を返す
func (m *MockSource) MaxConcurrentCaptures() int64 { return m.maxFlight.Load() }

// MockPairSource はテスト用のモックPairSource実装
// 2つのフレームには同じ撮影番号が書き込まれる
type MockPairSource struct {
	*MockSource
	second Size
}

// NewMockPairSource は新しいMockPairSourceを作成する
func NewMockPairSource(first, second Size, latency time.Duration) *MockPairSource {
	return &MockPairSource{
		MockSource: NewMockSource(first, latency),
		second:     second,
	}
}

// Sizes は各ストリームのサイズを返す
func (m *MockPairSource) Sizes() (Size, Size) {
	return m.size, m.second
}

// CaptureSynced は同じ撮影番号を持つ2フレームを生成する
func (m *MockPairSource) CaptureSynced(first, second *Frame) error {
	if err := m.MockSource.Capture(first); err != nil {
		return err
	}
	writeSeqFrame(second, m.second, FormatGray16, FrameSeq(first))
	second.Timestamp = first.Timestamp
	return nil
}

// FrameSeq はモックが書き込んだ撮影番号を読み出す
func FrameSeq(f *Frame) uint64 {
	if len(f.Data) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(f.Data[:8])
}

func writeSeqFrame(dst *Frame, size Size, format PixelFormat, seq uint64) {
	n := size.Width * size.Height
	if format == FormatGray16 {
		n *= 2
	}
	if n < 8 {
		n = 8
	}
	if cap(dst.Data) < n {
		dst.Data = make([]byte, n)
	}
	dst.Data = dst.Data[:n]
	binary.BigEndian.PutUint64(dst.Data[:8], seq)

	dst.Format = format
	dst.Width = size.Width
	dst.Height = size.Height
	dst.Timestamp = time.Now()
}
