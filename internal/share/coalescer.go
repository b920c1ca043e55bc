package share

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// payload は coalescer が扱うバッファの型
// *camera.Frame や framePair のように、自分と同じ型へコピーできるもの
type payload[P any] interface {
	CopyTo(dst P)
	Release()
}

// waiter は実行中の撮影に相乗りした呼び出し元のバッファ
// gone は待ちを諦めた後に書き込まれないようにするための印
type waiter[P any] struct {
	dst  P
	gone bool
}

// flight は1回の物理キャプチャ
// done は撮影結果が全ての waiter に配られた後に閉じられる
type flight[P any] struct {
	done    chan struct{}
	err     error
	start   time.Time
	waiters []*waiter[P]
}

// coalescer は同時に来たキャプチャ要求を1回の物理キャプチャにまとめる
// 撮影結果は撮影を開始した時点から interval の間キャッシュとして返す
// mu は Factory と共有し、状態・バッファの入れ替え・コピーを保護する
type coalescer[P payload[P]] struct {
	mu       *sync.Mutex
	interval time.Duration
	maxWait  time.Duration
	capture  func(dst P) error
	logger   *slog.Logger
	stats    *counters

	// cache は最新の撮影結果、scratch は次の撮影の書き込み先
	cache       P
	scratch     P
	cached      bool
	cachedUntil time.Time

	cur      *flight[P]
	closing  chan struct{}
	closed   bool
	released bool
}

func newCoalescer[P payload[P]](mu *sync.Mutex, cfg Config, alloc func() P, capture func(P) error, logger *slog.Logger, stats *counters) *coalescer[P] {
	return &coalescer[P]{
		mu:       mu,
		interval: cfg.CaptureInterval,
		maxWait:  cfg.MaxCaptureWait,
		capture:  capture,
		logger:   logger,
		stats:    stats,
		cache:    alloc(),
		scratch:  alloc(),
		closing:  make(chan struct{}),
	}
}

// do は撮影結果を dst にコピーする
// 実行中の撮影があればそれを待ち、直前の撮影が有効期間内ならそれを返し、
// どちらでもなければ自分で物理キャプチャを行う
func (c *coalescer[P]) do(ctx context.Context, dst P) error {
	if ctx.Err() != nil {
		c.stats.interrupts.Add(1)
		return interrupted(ctx)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrDestroyed
	}

	if fl := c.cur; fl != nil {
		return c.join(ctx, fl, dst)
	}

	if c.cached && time.Now().Before(c.cachedUntil) {
		c.cache.CopyTo(dst)
		c.mu.Unlock()
		c.stats.cacheHits.Add(1)
		return nil
	}

	return c.produce(ctx, dst)
}

// join は実行中の撮影に相乗りする
// c.mu を保持した状態で呼び、戻る前に解放する
func (c *coalescer[P]) join(ctx context.Context, fl *flight[P], dst P) error {
	w := &waiter[P]{dst: dst}
	fl.waiters = append(fl.waiters, w)

	var (
		deadline <-chan time.Time
		wait     = max(c.interval, c.maxWait)
	)
	if c.maxWait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}
	c.mu.Unlock()

	var giveUp error
	select {
	case <-fl.done:
		return c.delivered(fl)
	case <-deadline:
		giveUp = ErrTimeout
	case <-ctx.Done():
		giveUp = interrupted(ctx)
	}

	c.mu.Lock()
	select {
	case <-fl.done:
		// 諦める直前に配られていた
		c.mu.Unlock()
		return c.delivered(fl)
	default:
	}
	w.gone = true
	c.mu.Unlock()

	if giveUp == ErrTimeout {
		c.stats.timeouts.Add(1)
		c.logger.Error("実行中のキャプチャを待ちきれませんでした", "wait", wait)
	} else {
		c.stats.interrupts.Add(1)
	}
	return giveUp
}

func (c *coalescer[P]) delivered(fl *flight[P]) error {
	if fl.err != nil {
		return fl.err
	}
	c.stats.coalesced.Add(1)
	c.logger.Debug("他の利用者の撮影結果を使用")
	return nil
}

// produce は物理キャプチャを行い、結果を相乗りした全員に配る
// c.mu を保持した状態で呼び、戻る前に解放する
func (c *coalescer[P]) produce(ctx context.Context, dst P) error {
	fl := &flight[P]{done: make(chan struct{}), start: time.Now()}
	c.cur = fl
	scratch := c.scratch
	closing := c.closing
	c.mu.Unlock()

	c.stats.captures.Add(1)
	err := c.safeCapture(scratch)
	finished := time.Now()

	// 撮影が interval より早く終わった場合は残り時間だけ待ち、
	// その間に来た要求もこの撮影結果で済ませる
	cancelled := false
	if err == nil && c.interval > 0 {
		if remain := time.Until(fl.start.Add(c.interval)); remain > 0 {
			timer := time.NewTimer(remain)
			select {
			case <-timer.C:
			case <-closing:
			case <-ctx.Done():
				cancelled = true
			}
			timer.Stop()
		}
	}

	c.mu.Lock()
	if err != nil {
		fl.err = &CaptureError{Err: err}
		c.cached = false
	} else {
		c.cache, c.scratch = c.scratch, c.cache
		c.cached = true
		// 次の撮影が interval より早く始まらないよう、有効期限は開始時刻から数える
		c.cachedUntil = fl.start.Add(c.interval)
		for _, w := range fl.waiters {
			if !w.gone {
				c.cache.CopyTo(w.dst)
			}
		}
		if !cancelled {
			c.cache.CopyTo(dst)
		}
	}
	joined := len(fl.waiters)
	fl.waiters = nil
	c.cur = nil
	close(fl.done)
	c.mu.Unlock()

	switch {
	case err != nil:
		c.stats.failures.Add(1)
		c.logger.Warn("キャプチャに失敗", "error", err, "waiters", joined)
		return fl.err
	case cancelled:
		c.stats.markCaptured(finished)
		c.stats.interrupts.Add(1)
		return interrupted(ctx)
	default:
		c.stats.markCaptured(finished)
		return nil
	}
}

// safeCapture はソースの panic をキャプチャエラーとして扱う
// panic したまま抜けると c.cur が残り、相乗りした呼び出しが戻らなくなる
func (c *coalescer[P]) safeCapture(dst P) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("キャプチャ中に panic が発生", "panic", r)
			err = fmt.Errorf("キャプチャ中に panic が発生: %v", r)
		}
	}()
	return c.capture(dst)
}

// shutdownLocked は新しい撮影を受け付けないようにし、相乗り待ちを打ち切る
func (c *coalescer[P]) shutdownLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.closing)
}

// pendingLocked は実行中の撮影があればその完了通知を返す
func (c *coalescer[P]) pendingLocked() <-chan struct{} {
	if c.cur == nil {
		return nil
	}
	return c.cur.done
}

// releaseLocked はバッファを解放する
func (c *coalescer[P]) releaseLocked() {
	if c.released {
		return
	}
	c.released = true
	c.cached = false
	c.cache.Release()
	c.scratch.Release()
}
