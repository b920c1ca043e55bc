package share

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
)

// drainer は Destroy が待ち合わせる撮影側の操作
type drainer interface {
	shutdownLocked()
	pendingLocked() <-chan struct{}
	releaseLocked()
}

// lifecycle は開いているハンドルの集合を管理する
// 集合が空から1つになったときにソースを開き、空に戻ったときに閉じる
type lifecycle struct {
	mu          *sync.Mutex
	openSource  func() error
	closeSource func() error
	logger      *slog.Logger

	handles map[uuid.UUID]struct{}
	// empty は集合が空の間は閉じている
	empty chan struct{}

	destroying bool
	destroyed  bool
}

func newLifecycle(mu *sync.Mutex, openSource, closeSource func() error, logger *slog.Logger) *lifecycle {
	empty := make(chan struct{})
	close(empty)

	return &lifecycle{
		mu:          mu,
		openSource:  openSource,
		closeSource: closeSource,
		logger:      logger,
		handles:     make(map[uuid.UUID]struct{}),
		empty:       empty,
	}
}

// add はハンドルを開いた状態にする
// 最初の1つであればソースを開き、失敗した場合はハンドルを戻して ErrOpen を返す
func (l *lifecycle) add(id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.destroying {
		return ErrDestroyed
	}
	if _, exists := l.handles[id]; exists {
		return nil
	}

	l.handles[id] = struct{}{}
	if len(l.handles) == 1 {
		if err := l.openSource(); err != nil {
			delete(l.handles, id)
			return fmt.Errorf("%w: %w", ErrOpen, err)
		}
		l.empty = make(chan struct{})
		l.logger.Info("ソースを開きました")
	}
	return nil
}

// remove はハンドルを閉じた状態にする
// 最後の1つであればソースを閉じる。クローズの失敗はログに残して無視する
func (l *lifecycle) remove(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.handles[id]; !exists {
		return
	}

	delete(l.handles, id)
	if len(l.handles) == 0 {
		if err := l.closeSource(); err != nil {
			l.logger.Warn("ソースのクローズに失敗", "error", err)
		} else {
			l.logger.Info("ソースを閉じました")
		}
		close(l.empty)
	}
}

func (l *lifecycle) isOpen(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, exists := l.handles[id]
	return exists
}

func (l *lifecycle) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handles)
}

func (l *lifecycle) isDestroyed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.destroyed
}

// destroy は開いている全てのハンドルを別のゴルーチンで閉じ、
// 集合が空になり実行中の撮影が終わるまで待ってからバッファを解放する
// ctx が先に終わった場合は ErrInterrupted を返し、再度呼び出せる
func (l *lifecycle) destroy(ctx context.Context, co drainer, teardown func()) error {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return nil
	}
	l.destroying = true
	co.shutdownLocked()

	snapshot := make([]uuid.UUID, 0, len(l.handles))
	for id := range l.handles {
		snapshot = append(snapshot, id)
	}
	l.mu.Unlock()

	var wg conc.WaitGroup
	defer wg.Wait()
	wg.Go(func() {
		for _, id := range snapshot {
			l.remove(id)
		}
	})

	for {
		l.mu.Lock()
		var wait <-chan struct{}
		if len(l.handles) > 0 {
			wait = l.empty
		} else {
			wait = co.pendingLocked()
		}
		if wait == nil {
			break
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return interrupted(ctx)
		}
	}

	// ここでは l.mu を保持している
	l.destroyed = true
	co.releaseLocked()
	l.mu.Unlock()

	teardown()
	l.logger.Info("破棄しました", "handles_closed", len(snapshot))
	return nil
}
