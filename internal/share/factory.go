package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"camshare/internal/camera"
	"camshare/internal/logging"
)

// Config は Factory の動作設定
type Config struct {
	// CaptureInterval は物理キャプチャの最小間隔
	// 0 の場合は相乗り待ちも撮影結果の再利用も行わない
	CaptureInterval time.Duration

	// MaxCaptureWait は実行中のキャプチャを待つ最大時間
	// 実際の待ち時間は max(CaptureInterval, MaxCaptureWait)。0 の場合は無期限
	MaxCaptureWait time.Duration

	// Owner が true の場合、Destroy でソースも解放する
	Owner bool

	Logger *slog.Logger
}

func (c Config) validate() error {
	if c.CaptureInterval < 0 {
		return fmt.Errorf("capture interval は0以上である必要があります: %v", c.CaptureInterval)
	}
	if c.MaxCaptureWait < 0 {
		return fmt.Errorf("max capture wait は0以上である必要があります: %v", c.MaxCaptureWait)
	}
	return nil
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return logging.Nop()
	}
	return c.Logger
}

// Factory は1つの camera.Source を複数のハンドルで共有させる
type Factory struct {
	src    camera.Source
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	co    *coalescer[*camera.Frame]
	lc    *lifecycle
	stats counters
}

// NewFactory は新しいFactoryを作成する
func NewFactory(src camera.Source, cfg Config) (*Factory, error) {
	if src == nil {
		return nil, errors.New("ソースが指定されていません")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	f := &Factory{src: src, cfg: cfg, logger: cfg.logger()}
	f.co = newCoalescer(&f.mu, cfg,
		func() *camera.Frame { return &camera.Frame{} },
		src.Capture,
		f.logger, &f.stats)
	f.lc = newLifecycle(&f.mu, src.Open, src.Close, f.logger)
	return f, nil
}

// CreateHandle は新しい利用者用のハンドルを作成する
// 作成しただけではソースは開かれない
func (f *Factory) CreateHandle() *Handle {
	return &Handle{id: uuid.New(), f: f}
}

// Size はソースの画像サイズを返す
func (f *Factory) Size() camera.Size {
	return f.src.Size()
}

// Config は作成時の設定を返す
func (f *Factory) Config() Config {
	return f.cfg
}

// Stats は現在の統計情報を返す
func (f *Factory) Stats() Stats {
	s := f.stats.snapshot()
	s.OpenHandles = f.lc.count()
	s.Destroyed = f.lc.isDestroyed()
	return s
}

// Destroy は全てのハンドルを閉じてから資源を解放する
// 開いているハンドルが残っている間や撮影中は戻らない
func (f *Factory) Destroy(ctx context.Context) error {
	return f.lc.destroy(ctx, f.co, func() {
		releaseSource(f.src, f.cfg.Owner, f.logger)
	})
}

// releaseSource は所有しているソースを解放する
// ハンドルが全て閉じた時点でソースは閉じているので、Destroyer があればそれを呼ぶ
func releaseSource(src any, owner bool, logger *slog.Logger) {
	if !owner {
		return
	}

	var err error
	switch s := src.(type) {
	case camera.Destroyer:
		err = s.Destroy()
	case interface{ Close() error }:
		err = s.Close()
	}
	if err != nil {
		logger.Warn("ソースの解放に失敗", "error", err)
	}
}
