package share

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"camshare/internal/camera"
)

// framePair は1回の撮影で得られる2フレーム
// コピー先の片方が nil の場合はその半分だけをコピーする
type framePair struct {
	first  *camera.Frame
	second *camera.Frame
}

func newFramePair() *framePair {
	return &framePair{first: &camera.Frame{}, second: &camera.Frame{}}
}

func (p *framePair) CopyTo(dst *framePair) {
	if dst == nil || dst == p {
		return
	}
	p.first.CopyTo(dst.first)
	p.second.CopyTo(dst.second)
}

func (p *framePair) Release() {
	p.first.Release()
	p.second.Release()
}

// PairedFactory は1つの camera.PairSource を複数の利用者で共有させる
// ペア用、1番目のストリーム用、2番目のストリーム用のハンドルは
// 全て1つの開閉管理を共有する
type PairedFactory struct {
	src    camera.PairSource
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	co    *coalescer[*framePair]
	lc    *lifecycle
	stats counters
}

// NewPairedFactory は新しいPairedFactoryを作成する
func NewPairedFactory(src camera.PairSource, cfg Config) (*PairedFactory, error) {
	if src == nil {
		return nil, errors.New("ソースが指定されていません")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	f := &PairedFactory{src: src, cfg: cfg, logger: cfg.logger()}
	f.co = newCoalescer(&f.mu, cfg, newFramePair,
		func(p *framePair) error {
			return src.CaptureSynced(p.first, p.second)
		},
		f.logger, &f.stats)
	f.lc = newLifecycle(&f.mu, src.Open, src.Close, f.logger)
	return f, nil
}

// CreatePairHandle は2フレームをまとめて取得するハンドルを作成する
func (f *PairedFactory) CreatePairHandle() *PairHandle {
	return &PairHandle{id: uuid.New(), f: f}
}

// CreateFirstHandle は1番目のストリームだけを取得するハンドルを作成する
func (f *PairedFactory) CreateFirstHandle() *StreamHandle {
	return &StreamHandle{id: uuid.New(), f: f, second: false}
}

// CreateSecondHandle は2番目のストリームだけを取得するハンドルを作成する
func (f *PairedFactory) CreateSecondHandle() *StreamHandle {
	return &StreamHandle{id: uuid.New(), f: f, second: true}
}

// Sizes は各ストリームの画像サイズを返す
func (f *PairedFactory) Sizes() (camera.Size, camera.Size) {
	return f.src.Sizes()
}

// Config は作成時の設定を返す
func (f *PairedFactory) Config() Config {
	return f.cfg
}

// Stats は現在の統計情報を返す
func (f *PairedFactory) Stats() Stats {
	s := f.stats.snapshot()
	s.OpenHandles = f.lc.count()
	s.Destroyed = f.lc.isDestroyed()
	return s
}

// Destroy は全てのハンドルを閉じてから資源を解放する
func (f *PairedFactory) Destroy(ctx context.Context) error {
	return f.lc.destroy(ctx, f.co, func() {
		releaseSource(f.src, f.cfg.Owner, f.logger)
	})
}

// PairHandle は同期した2フレームをまとめて取得する窓口
type PairHandle struct {
	id uuid.UUID
	f  *PairedFactory
}

// ID はハンドルの識別子を返す
func (h *PairHandle) ID() uuid.UUID { return h.id }

// Open はハンドルを開く
func (h *PairHandle) Open() error {
	return h.f.lc.add(h.id)
}

// Close はハンドルを閉じる
func (h *PairHandle) Close() error {
	h.f.lc.remove(h.id)
	return nil
}

// IsOpen はハンドルが開いているかを返す
func (h *PairHandle) IsOpen() bool {
	return h.f.lc.isOpen(h.id)
}

// CaptureSynced は同じ撮影で得られた2フレームを first と second に書き込む
// 片方だけが更新されることはない
func (h *PairHandle) CaptureSynced(ctx context.Context, first, second *camera.Frame) error {
	return h.f.co.do(ctx, &framePair{first: first, second: second})
}

// Sizes は各ストリームの画像サイズを返す
func (h *PairHandle) Sizes() (camera.Size, camera.Size) {
	return h.f.Sizes()
}

// StreamHandle はペアのうち片方のストリームだけを扱う窓口
// Camera を実装するので単体のカメラと同じように使える
type StreamHandle struct {
	id     uuid.UUID
	f      *PairedFactory
	second bool
}

// ID はハンドルの識別子を返す
func (h *StreamHandle) ID() uuid.UUID { return h.id }

// Open はハンドルを開く。開いたハンドルが1つ目であればペア全体を開く
func (h *StreamHandle) Open() error {
	return h.f.lc.add(h.id)
}

// Close はハンドルを閉じる
func (h *StreamHandle) Close() error {
	h.f.lc.remove(h.id)
	return nil
}

// IsOpen はハンドルが開いているかを返す
func (h *StreamHandle) IsOpen() bool {
	return h.f.lc.isOpen(h.id)
}

// Capture は担当するストリームのフレームだけを dst に書き込む
func (h *StreamHandle) Capture(ctx context.Context, dst *camera.Frame) error {
	p := &framePair{first: dst}
	if h.second {
		p = &framePair{second: dst}
	}
	return h.f.co.do(ctx, p)
}

// Size は担当するストリームの画像サイズを返す
func (h *StreamHandle) Size() camera.Size {
	first, second := h.f.Sizes()
	if h.second {
		return second
	}
	return first
}
