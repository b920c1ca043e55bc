package camera

import (
	"fmt"
	"image"
	"sort"
	"sync"
	"time"
)

// SourceType はソースの種類
type SourceType string

const (
	SourceTypeSynthetic SourceType = "synthetic" // テストパターン
	SourceTypeV4L2      SourceType = "v4l2"      // V4L2デバイスを直接読む
	SourceTypeFFmpeg    SourceType = "ffmpeg"    // ffmpeg経由でV4L2デバイスを読む
	SourceTypeScreen    SourceType = "screen"    // 画面キャプチャ
	SourceTypeX11Grab   SourceType = "x11grab"   // ffmpeg経由でX11ディスプレイを撮影する
)

// SourceSpec はソース作成設定
type SourceSpec struct {
	Type    SourceType    `yaml:"type"`
	Device  string        `yaml:"device"`  // デバイスパス（x11grabではディスプレイ名）
	Width   int           `yaml:"width"`   // 希望する幅
	Height  int           `yaml:"height"`  // 希望する高さ
	Latency time.Duration `yaml:"latency"` // syntheticの擬似撮影時間
	Region  []int         `yaml:"region"`  // screenの撮影範囲 [x, y, w, h]

	Controls map[string]string `yaml:"controls"` // ffmpegでOpen時に設定するv4l2コントロール
}

// SourceCreator はソース作成関数の型
type SourceCreator func(spec SourceSpec) (Source, error)

// Registry はソース種類ごとの作成関数を保持する
// グローバルな状態は持たず、必要な箇所に明示的に渡す
type Registry struct {
	mu       sync.RWMutex
	creators map[SourceType]SourceCreator
}

// NewRegistry は空のレジストリを作成する
func NewRegistry() *Registry {
	return &Registry{creators: make(map[SourceType]SourceCreator)}
}

// NewDefaultRegistry は標準のソースを登録済みのレジストリを作成する
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(SourceTypeSynthetic, newSyntheticFromSpec)
	r.Register(SourceTypeV4L2, newWebcamFromSpec)
	r.Register(SourceTypeFFmpeg, newFFmpegFromSpec)
	r.Register(SourceTypeScreen, newScreenFromSpec)
	r.Register(SourceTypeX11Grab, newX11GrabFromSpec)
	return r
}

// Register はソース作成関数を登録する（同じ種類は上書き）
func (r *Registry) Register(sourceType SourceType, creator SourceCreator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creators[sourceType] = creator
}

// Create は設定に対応するソースを作成する
func (r *Registry) Create(spec SourceSpec) (Source, error) {
	r.mu.RLock()
	creator, exists := r.creators[spec.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("サポートされていないソースタイプ: %q", spec.Type)
	}

	return creator(spec)
}

// CreatePair は2つの設定から複合ソースを作成する
func (r *Registry) CreatePair(first, second SourceSpec) (PairSource, error) {
	a, err := r.Create(first)
	if err != nil {
		return nil, fmt.Errorf("1番目のストリームの作成に失敗: %w", err)
	}
	b, err := r.Create(second)
	if err != nil {
		return nil, fmt.Errorf("2番目のストリームの作成に失敗: %w", err)
	}
	return NewCompositePair(a, b), nil
}

// SupportedTypes はサポートされているソースタイプを名前順で返す
func (r *Registry) SupportedTypes() []SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]SourceType, 0, len(r.creators))
	for sourceType := range r.creators {
		types = append(types, sourceType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func newSyntheticFromSpec(spec SourceSpec) (Source, error) {
	return NewSyntheticSource(Size{Width: spec.Width, Height: spec.Height}, spec.Latency), nil
}

func newWebcamFromSpec(spec SourceSpec) (Source, error) {
	if spec.Device == "" {
		return nil, fmt.Errorf("v4l2ソースの作成にはデバイスパスが必要です")
	}
	return NewWebcamSource(spec.Device, Size{Width: spec.Width, Height: spec.Height}), nil
}

func newFFmpegFromSpec(spec SourceSpec) (Source, error) {
	if spec.Device == "" {
		return nil, fmt.Errorf("ffmpegソースの作成にはデバイスパスが必要です")
	}
	width, height := ffmpegSize(spec)
	return NewFFmpegSource(spec.Device, width, height).WithControls(spec.Controls), nil
}

func newX11GrabFromSpec(spec SourceSpec) (Source, error) {
	width, height := ffmpegSize(spec)
	return NewX11GrabSource(spec.Device, width, height), nil
}

// ffmpegSize は省略時に1280x720とする
func ffmpegSize(spec SourceSpec) (int, int) {
	width, height := 1280, 720
	if spec.Width > 0 {
		width = spec.Width
	}
	if spec.Height > 0 {
		height = spec.Height
	}
	return width, height
}

func newScreenFromSpec(spec SourceSpec) (Source, error) {
	var region image.Rectangle
	switch len(spec.Region) {
	case 0:
	case 4:
		x, y, w, h := spec.Region[0], spec.Region[1], spec.Region[2], spec.Region[3]
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("撮影範囲の幅と高さは正の値である必要があります: %v", spec.Region)
		}
		region = image.Rect(x, y, x+w, y+h)
	default:
		return nil, fmt.Errorf("撮影範囲は [x, y, w, h] で指定してください: %v", spec.Region)
	}
	return NewScreenSource(region), nil
}
