// Package recorder は共有カメラから定期的に静止画を撮影して保存する
//
// 保存先には "<カメラID>_<撮影時刻>.jpg" の形式で書き出し、
// カメラごとに max_files 枚を超えた古い画像から削除する。
// 撮影はHTTP配信などと同じ共有ハンドル経由で行うため、物理キャプチャは増えない。
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"camshare/internal/camera"
	"camshare/internal/config"
	"camshare/internal/logging"
	"camshare/internal/share"
)

// timestampLayout はファイル名に埋め込む撮影時刻の書式
const timestampLayout = "20060102-150405.000"

// HandleSource は撮影用のハンドルを払い出す
type HandleSource interface {
	NewHandle(id string) (share.Camera, error)
}

type target struct {
	id     string
	handle share.Camera

	mu    sync.Mutex // frame を保護する
	frame camera.Frame
}

// Recorder は定期撮影を管理する
type Recorder struct {
	cfg    config.RecorderConfig
	ids    []string
	src    HandleSource
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	targets []*target
	running bool
	stopCh  chan struct{}
	wg      conc.WaitGroup
}

// New は新しいRecorderを作成する
// ids が空の場合は cfg.Cameras を対象にする
func New(cfg config.RecorderConfig, ids []string, src HandleSource, logger *slog.Logger) *Recorder {
	if len(cfg.Cameras) > 0 {
		ids = cfg.Cameras
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Recorder{
		cfg:    cfg,
		ids:    ids,
		src:    src,
		logger: logger.With("component", "recorder"),
		now:    time.Now,
	}
}

// Start は対象カメラのハンドルを開いて撮影を開始する
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("定期撮影は既に開始されています")
	}
	if r.cfg.Interval <= 0 {
		return fmt.Errorf("撮影間隔が不正です: %v", r.cfg.Interval)
	}

	if err := os.MkdirAll(r.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
	}

	targets := make([]*target, 0, len(r.ids))
	for _, id := range r.ids {
		h, err := r.src.NewHandle(id)
		if err == nil {
			err = h.Open()
		}
		if err != nil {
			closeTargets(targets)
			return fmt.Errorf("カメラ %s を開けません: %w", id, err)
		}
		targets = append(targets, &target{id: id, handle: h})
	}

	r.targets = targets
	r.running = true
	r.stopCh = make(chan struct{})

	stopCh := r.stopCh
	r.wg.Go(func() {
		r.loop(ctx, stopCh)
	})

	r.logger.Info("定期撮影を開始", "cameras", len(targets), "interval", r.cfg.Interval, "output_dir", r.cfg.OutputDir)
	return nil
}

// Stop は撮影を止めてハンドルを閉じる
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("定期撮影の停止を中断: %w", ctx.Err())
	}

	r.mu.Lock()
	closeTargets(r.targets)
	r.targets = nil
	r.mu.Unlock()

	r.logger.Info("定期撮影を停止")
	return nil
}

func closeTargets(targets []*target) {
	for _, t := range targets {
		_ = t.handle.Close()
	}
}

func (r *Recorder) loop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			r.captureOnce(ctx)
		}
	}
}

// captureOnce は全ての対象カメラを並行して1回ずつ撮影して保存する
// 失敗したカメラはログに残して次回に回す
func (r *Recorder) captureOnce(ctx context.Context) {
	r.mu.Lock()
	targets := r.targets
	r.mu.Unlock()

	p := pool.New()
	for _, t := range targets {
		p.Go(func() {
			path, err := r.record(ctx, t)
			if err != nil {
				r.logger.Warn("定期撮影に失敗", "camera", t.id, "error", err)
				return
			}
			r.logger.Debug("画像を保存", "camera", t.id, "path", path)
		})
	}
	p.Wait()
}

func (r *Recorder) record(ctx context.Context, t *target) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.handle.Capture(ctx, &t.frame); err != nil {
		return "", err
	}

	path := filepath.Join(r.cfg.OutputDir, fileName(t.id, r.now()))
	if err := writeJPEG(path, &t.frame, r.cfg.Quality); err != nil {
		return "", err
	}

	if r.cfg.MaxFiles > 0 {
		if err := prune(r.cfg.OutputDir, t.id, r.cfg.MaxFiles); err != nil {
			r.logger.Warn("古い画像の削除に失敗", "camera", t.id, "error", err)
		}
	}
	return path, nil
}

func fileName(id string, at time.Time) string {
	return id + "_" + at.Format(timestampLayout) + ".jpg"
}

// writeJPEG は一時ファイルに書いてから置き換える
func writeJPEG(path string, frame *camera.Frame, quality int) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("ファイルの作成に失敗: %w", err)
	}

	if err := frame.EncodeJPEG(f, quality); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ファイルの書き込みに失敗: %w", err)
	}
	return os.Rename(tmp, path)
}

// Files は保存されているカメラの画像を古い順で返す
func Files(dir, id string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	prefix := id + "_"
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".jpg") {
			continue
		}
		// "front" と "front_2" のようなIDを区別する
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".jpg")
		if _, err := time.Parse(timestampLayout, stamp); err != nil {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}

	// 時刻の書式は辞書順と時系列が一致する
	sort.Strings(files)
	return files, nil
}

func prune(dir, id string, maxFiles int) error {
	files, err := Files(dir, id)
	if err != nil {
		return err
	}
	if len(files) <= maxFiles {
		return nil
	}

	var errs []error
	for _, path := range files[:len(files)-maxFiles] {
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
