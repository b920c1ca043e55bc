package camera

import (
	"fmt"
	"sync"
	"time"
)

// SyntheticSource はテストパターンを生成するソース
// 実機がない環境でのデモや負荷確認に使う
type SyntheticSource struct {
	size    Size
	latency time.Duration

	mu     sync.Mutex
	opened bool
	seq    uint64
}

// NewSyntheticSource は新しいSyntheticSourceを作成する
// latency は1回のキャプチャにかかる擬似的な時間
func NewSyntheticSource(size Size, latency time.Duration) *SyntheticSource {
	if size.Width <= 0 {
		size.Width = 640
	}
	if size.Height <= 0 {
		size.Height = 480
	}
	return &SyntheticSource{size: size, latency: latency}
}

// Open はソースを開く
func (s *SyntheticSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return ErrAlreadyOpen
	}
	s.opened = true
	return nil
}

// Close はソースを閉じる（冪等）
func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

// Size は出力画像のサイズを返す
func (s *SyntheticSource) Size() Size {
	return s.size
}

// Capture は連番に応じて流れる縞模様のRGBAフレームを生成する
func (s *SyntheticSource) Capture(dst *Frame) error {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return fmt.Errorf("テストパターンの生成に失敗: %w", ErrNotOpen)
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if s.latency > 0 {
		time.Sleep(s.latency)
	}

	w, h := s.size.Width, s.size.Height
	need := w * h * 4
	if cap(dst.Data) < need {
		dst.Data = make([]byte, need)
	}
	dst.Data = dst.Data[:need]

	offset := int(seq % 256)
	for y := 0; y < h; y++ {
		row := dst.Data[y*w*4 : (y+1)*w*4]
		for x := 0; x < w; x++ {
			v := byte((x + offset) % 256)
			row[x*4+0] = v
			row[x*4+1] = byte(y % 256)
			row[x*4+2] = byte(offset)
			row[x*4+3] = 0xFF
		}
	}

	dst.Format = FormatRGBA
	dst.Width = w
	dst.Height = h
	dst.Timestamp = time.Now()
	return nil
}
