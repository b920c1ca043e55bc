package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CompositePair は2つのSourceを束ねて1つのPairSourceとして扱う
// 例えばカラーカメラと深度カメラを同じタイミングで撮影したい場合に使う
type CompositePair struct {
	first  Source
	second Source

	mu     sync.Mutex
	opened bool
}

// NewCompositePair は新しいCompositePairを作成する
func NewCompositePair(first, second Source) *CompositePair {
	return &CompositePair{first: first, second: second}
}

// Open は両方のソースを開く
// 片方が失敗した場合はもう片方を閉じて元の状態に戻す
func (p *CompositePair) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.opened {
		return ErrAlreadyOpen
	}

	if err := p.first.Open(); err != nil {
		return fmt.Errorf("1番目のストリームのオープンに失敗: %w", err)
	}
	if err := p.second.Open(); err != nil {
		_ = p.first.Close()
		return fmt.Errorf("2番目のストリームのオープンに失敗: %w", err)
	}

	p.opened = true
	return nil
}

// Close は両方のソースを閉じる
func (p *CompositePair) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.opened {
		return nil
	}
	p.opened = false

	return errors.Join(p.first.Close(), p.second.Close())
}

// Destroy は下位ソースがDestroyerであれば解放する
func (p *CompositePair) Destroy() error {
	var errs []error
	for _, src := range []Source{p.first, p.second} {
		if d, ok := src.(Destroyer); ok {
			errs = append(errs, d.Destroy())
		}
	}
	return errors.Join(errs...)
}

// Sizes は各ストリームのサイズを返す
func (p *CompositePair) Sizes() (Size, Size) {
	return p.first.Size(), p.second.Size()
}

// CaptureSynced は2つのソースを続けて撮影し、同じタイムスタンプを付ける
func (p *CompositePair) CaptureSynced(first, second *Frame) error {
	p.mu.Lock()
	opened := p.opened
	p.mu.Unlock()

	if !opened {
		return ErrNotOpen
	}

	if err := p.first.Capture(first); err != nil {
		return fmt.Errorf("1番目のストリームのキャプチャに失敗: %w", err)
	}
	if err := p.second.Capture(second); err != nil {
		return fmt.Errorf("2番目のストリームのキャプチャに失敗: %w", err)
	}

	now := time.Now()
	first.Timestamp = now
	second.Timestamp = now
	return nil
}
