package camera

import (
	"context"
	"errors"
	"time"
)

// PixelFormat はフレームデータの画素形式を表す
type PixelFormat string

const (
	FormatJPEG   PixelFormat = "jpeg"   // JPEG圧縮済みデータ
	FormatRGBA   PixelFormat = "rgba"   // 1画素4バイトのRGBA
	FormatGray   PixelFormat = "gray"   // 1画素1バイトのグレースケール
	FormatGray16 PixelFormat = "gray16" // 1画素2バイト（深度画像など）
	FormatYUYV   PixelFormat = "yuyv"   // V4L2のYUYV 4:2:2
)

// Size は画像サイズを表す
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Frame はソースから取得した1フレーム
// Data は呼び出し側が所有するバッファで、キャプチャ時に上書きされる
type Frame struct {
	Format    PixelFormat
	Width     int
	Height    int
	Data      []byte
	Timestamp time.Time
}

// Source は物理的なフレーム供給元が満たすべき最小限の機能
type Source interface {
	// Open はデバイスを開く
	Open() error

	// Close はデバイスを閉じる
	Close() error

	// Capture は1フレームを取得して dst に書き込む
	Capture(dst *Frame) error

	// Size は出力画像のサイズを返す
	Size() Size
}

// PairSource は2つの同期したストリームを1回の撮影で出力する複合ソース
// 例: カラー画像と深度画像
type PairSource interface {
	Open() error
	Close() error

	// CaptureSynced は同一時刻の2フレームを取得する
	CaptureSynced(first, second *Frame) error

	// Sizes は各ストリームの画像サイズを返す
	Sizes() (first Size, second Size)
}

// Destroyer はソースが保持する資源を完全に解放できることを示す
type Destroyer interface {
	Destroy() error
}

// ソース共通のエラー
var (
	ErrAlreadyOpen = errors.New("camera: already opened")
	ErrNotOpen     = errors.New("camera: not open")
	ErrUnsupported = errors.New("camera: unsupported on this platform")
)

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device      string       `json:"device"`      // デバイスパス
	Name        string       `json:"name"`        // デバイス名
	Driver      string       `json:"driver"`      // ドライバー名
	Resolutions []Resolution `json:"resolutions"` // サポートされる解像度
	Formats     []string     `json:"formats"`     // サポートされるフォーマット
}

// Resolution はカメラの解像度を表す
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
