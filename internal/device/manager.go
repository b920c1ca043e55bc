package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"camshare/internal/camera"
	"camshare/internal/config"
	"camshare/internal/logging"
	"camshare/internal/share"
)

var (
	ErrNotFound = errors.New("device: camera not found")
	ErrExists   = errors.New("device: camera already exists")
	ErrStopped  = errors.New("device: manager stopped")
)

// Kind はカメラの種類
type Kind string

const (
	KindSingle Kind = "single"
	KindPair   Kind = "pair"
)

// ペアのストリーム名
const (
	StreamFirst  = "first"
	StreamSecond = "second"
)

// Info は管理しているカメラの情報
type Info struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Kind    Kind          `json:"kind"`
	Sources []string      `json:"sources"`
	Sizes   []camera.Size `json:"sizes"`
	Streams []string      `json:"streams,omitempty"`
	Stats   share.Stats   `json:"stats"`
}

type single struct {
	cfg     config.CameraConfig
	factory *share.Factory
}

type paired struct {
	cfg     config.PairConfig
	factory *share.PairedFactory
}

// Manager は設定されたカメラの共有ファクトリを管理する
type Manager struct {
	registry  *camera.Registry
	discovery camera.Discovery
	logger    *slog.Logger

	mu      sync.RWMutex
	singles map[string]*single
	pairs   map[string]*paired
	stopped bool
}

// NewManager は新しいManagerを作成する
func NewManager(registry *camera.Registry, discovery camera.Discovery, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		registry:  registry,
		discovery: discovery,
		logger:    logger,
		singles:   make(map[string]*single),
		pairs:     make(map[string]*paired),
	}
}

// Load は設定に書かれた全てのカメラを追加する
// 途中で失敗した場合はそれまでに追加したカメラを破棄する
func (m *Manager) Load(ctx context.Context, cfg *config.Config) error {
	for _, c := range cfg.Cameras {
		if err := m.AddCamera(c); err != nil {
			_ = m.Stop(ctx)
			return err
		}
	}
	for _, p := range cfg.Pairs {
		if err := m.AddPair(p); err != nil {
			_ = m.Stop(ctx)
			return err
		}
	}
	return nil
}

func (m *Manager) shareConfig(s config.ShareConfig, id string) share.Config {
	return share.Config{
		CaptureInterval: s.Interval(),
		MaxCaptureWait:  s.MaxWait(),
		Owner:           s.IsOwner(),
		Logger:          m.logger.With("camera", id),
	}
}

// AddCamera は単体カメラを追加する
func (m *Manager) AddCamera(c config.CameraConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkAddLocked(c.ID); err != nil {
		return err
	}

	src, err := m.registry.Create(c.Source)
	if err != nil {
		return fmt.Errorf("カメラ %s のソース作成に失敗: %w", c.ID, err)
	}

	factory, err := share.NewFactory(src, m.shareConfig(c.ShareConfig, c.ID))
	if err != nil {
		return fmt.Errorf("カメラ %s の作成に失敗: %w", c.ID, err)
	}

	m.singles[c.ID] = &single{cfg: c, factory: factory}
	m.logger.Info("カメラを追加しました", "camera", c.ID, "source", c.Source.Type)
	return nil
}

// AddPair は2ストリームのカメラを追加する
func (m *Manager) AddPair(c config.PairConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkAddLocked(c.ID); err != nil {
		return err
	}

	src, err := m.registry.CreatePair(c.First, c.Second)
	if err != nil {
		return fmt.Errorf("ペア %s のソース作成に失敗: %w", c.ID, err)
	}

	factory, err := share.NewPairedFactory(src, m.shareConfig(c.ShareConfig, c.ID))
	if err != nil {
		return fmt.Errorf("ペア %s の作成に失敗: %w", c.ID, err)
	}

	m.pairs[c.ID] = &paired{cfg: c, factory: factory}
	m.logger.Info("ペアカメラを追加しました", "camera", c.ID, "first", c.First.Type, "second", c.Second.Type)
	return nil
}

func (m *Manager) checkAddLocked(id string) error {
	if m.stopped {
		return ErrStopped
	}
	if id == "" {
		return errors.New("カメラIDが設定されていません")
	}
	if _, exists := m.singles[id]; exists {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}
	if _, exists := m.pairs[id]; exists {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}
	return nil
}

// RemoveCamera はカメラを破棄して管理対象から外す
// 開いているハンドルは全て閉じられる
func (m *Manager) RemoveCamera(ctx context.Context, id string) error {
	m.mu.Lock()
	var destroy func(context.Context) error
	if s, exists := m.singles[id]; exists {
		destroy = s.factory.Destroy
		delete(m.singles, id)
	} else if p, exists := m.pairs[id]; exists {
		destroy = p.factory.Destroy
		delete(m.pairs, id)
	}
	m.mu.Unlock()

	if destroy == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := destroy(ctx); err != nil {
		return fmt.Errorf("カメラ %s の破棄に失敗: %w", id, err)
	}
	m.logger.Info("カメラを削除しました", "camera", id)
	return nil
}

// Cameras は管理しているカメラの一覧をID順で返す
func (m *Manager) Cameras() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.singles)+len(m.pairs))
	for id, s := range m.singles {
		infos = append(infos, singleInfo(id, s))
	}
	for id, p := range m.pairs {
		infos = append(infos, pairInfo(id, p))
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Camera は指定されたIDのカメラ情報を返す
func (m *Manager) Camera(id string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, exists := m.singles[id]; exists {
		return singleInfo(id, s), true
	}
	if p, exists := m.pairs[id]; exists {
		return pairInfo(id, p), true
	}
	return Info{}, false
}

func singleInfo(id string, s *single) Info {
	return Info{
		ID:      id,
		Name:    displayName(s.cfg.Name, id),
		Kind:    KindSingle,
		Sources: []string{string(s.cfg.Source.Type)},
		Sizes:   []camera.Size{s.factory.Size()},
		Stats:   s.factory.Stats(),
	}
}

func pairInfo(id string, p *paired) Info {
	first, second := p.factory.Sizes()
	return Info{
		ID:      id,
		Name:    displayName(p.cfg.Name, id),
		Kind:    KindPair,
		Sources: []string{string(p.cfg.First.Type), string(p.cfg.Second.Type)},
		Sizes:   []camera.Size{first, second},
		Streams: []string{id + "." + StreamFirst, id + "." + StreamSecond},
		Stats:   p.factory.Stats(),
	}
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

// NewHandle は利用者用のハンドルを作成する
// ペアの片方は "<ペアID>.first" / "<ペアID>.second" で指定する
// 返したハンドルはまだ開いていない
func (m *Manager) NewHandle(id string) (share.Camera, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.stopped {
		return nil, ErrStopped
	}

	if s, exists := m.singles[id]; exists {
		return s.factory.CreateHandle(), nil
	}

	base, stream, ok := strings.Cut(id, ".")
	if ok {
		if p, exists := m.pairs[base]; exists {
			switch stream {
			case StreamFirst:
				return p.factory.CreateFirstHandle(), nil
			case StreamSecond:
				return p.factory.CreateSecondHandle(), nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// NewPairHandle はペアの2フレームをまとめて取得するハンドルを作成する
func (m *Manager) NewPairHandle(id string) (*share.PairHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.stopped {
		return nil, ErrStopped
	}

	p, exists := m.pairs[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p.factory.CreatePairHandle(), nil
}

// StreamIDs は NewHandle で指定できる全てのIDを返す
func (m *Manager) StreamIDs() []string {
	var ids []string
	for _, info := range m.Cameras() {
		if info.Kind == KindPair {
			ids = append(ids, info.Streams...)
			continue
		}
		ids = append(ids, info.ID)
	}
	return ids
}

// Discover はシステム内のV4L2デバイスを検出して詳細情報を返す
func (m *Manager) Discover(ctx context.Context) ([]camera.DeviceInfo, error) {
	if m.discovery == nil {
		return nil, errors.New("デバイス検出が設定されていません")
	}

	devices, err := m.discovery.ScanDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	infos := make([]camera.DeviceInfo, 0, len(devices))
	for _, device := range devices {
		info, err := m.discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			m.logger.Warn("デバイス情報の取得に失敗", "device", device, "error", err)
			continue
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// Stop は全てのカメラを並行して破棄する
// 以降のハンドル作成は ErrStopped になる
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	destroyers := make(map[string]func(context.Context) error, len(m.singles)+len(m.pairs))
	for id, s := range m.singles {
		destroyers[id] = s.factory.Destroy
	}
	for id, p := range m.pairs {
		destroyers[id] = p.factory.Destroy
	}
	m.mu.Unlock()

	p := pool.New().WithErrors().WithContext(ctx)
	for id, destroy := range destroyers {
		p.Go(func(ctx context.Context) error {
			if err := destroy(ctx); err != nil {
				return fmt.Errorf("カメラ %s の破棄に失敗: %w", id, err)
			}
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return err
	}
	m.logger.Info("全てのカメラを停止しました", "cameras", len(destroyers))
	return nil
}
