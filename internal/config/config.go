package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"camshare/internal/camera"
	"camshare/internal/logging"
)

// DefaultMaxCaptureWait は max_capture_wait を省略した場合の値
const DefaultMaxCaptureWait = 3 * time.Second

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Cameras  []CameraConfig `yaml:"cameras"`
	Pairs    []PairConfig   `yaml:"pairs"`
	Recorder RecorderConfig `yaml:"recorder"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト

	StreamFPS   int `yaml:"stream_fps"`   // MJPEG配信のフレームレート
	JPEGQuality int `yaml:"jpeg_quality"` // JPEGエンコード品質 (1-100)
}

// LoggingConfig はログ出力の設定
type LoggingConfig struct {
	Level  string `yaml:"level"`  // DEBUG / INFO / WARN / ERROR
	Format string `yaml:"format"` // json / text
	File   string `yaml:"file"`   // 空の場合は標準エラー出力
}

// ShareConfig はカメラ共有の設定
// 省略と0を区別するためにポインタで持つ
type ShareConfig struct {
	CaptureInterval *time.Duration `yaml:"capture_interval"` // 必須。0も可
	MaxCaptureWait  *time.Duration `yaml:"max_capture_wait"` // 省略時3秒。0は無期限
	Owner           *bool          `yaml:"owner"`            // 省略時true
}

// Interval は物理キャプチャの最小間隔を返す
func (s ShareConfig) Interval() time.Duration {
	if s.CaptureInterval == nil {
		return 0
	}
	return *s.CaptureInterval
}

// MaxWait は実行中のキャプチャを待つ最大時間を返す
func (s ShareConfig) MaxWait() time.Duration {
	if s.MaxCaptureWait == nil {
		return DefaultMaxCaptureWait
	}
	return *s.MaxCaptureWait
}

// IsOwner は終了時にソースを解放するかを返す
func (s ShareConfig) IsOwner() bool {
	if s.Owner == nil {
		return true
	}
	return *s.Owner
}

func (s ShareConfig) validate() error {
	if s.CaptureInterval == nil {
		return errors.New("capture_interval が設定されていません")
	}
	if *s.CaptureInterval < 0 {
		return fmt.Errorf("capture_interval が負の値です: %v", *s.CaptureInterval)
	}
	if s.MaxCaptureWait != nil && *s.MaxCaptureWait < 0 {
		return fmt.Errorf("max_capture_wait が負の値です: %v", *s.MaxCaptureWait)
	}
	return nil
}

// CameraConfig は単体カメラの設定
type CameraConfig struct {
	ID     string            `yaml:"id"`   // カメラID
	Name   string            `yaml:"name"` // 表示名
	Source camera.SourceSpec `yaml:"source"`

	ShareConfig `yaml:",inline"`
}

// PairConfig は2つのストリームを同期撮影するカメラの設定
// 各ストリームは "<id>.first" と "<id>.second" で参照できる
type PairConfig struct {
	ID     string            `yaml:"id"`
	Name   string            `yaml:"name"`
	First  camera.SourceSpec `yaml:"first"`
	Second camera.SourceSpec `yaml:"second"`

	ShareConfig `yaml:",inline"`
}

// RecorderConfig は定期撮影の設定
type RecorderConfig struct {
	Enabled   bool          `yaml:"enabled"`
	OutputDir string        `yaml:"output_dir"` // 画像の保存先
	Interval  time.Duration `yaml:"interval"`   // 撮影間隔
	MaxFiles  int           `yaml:"max_files"`  // カメラごとの最大保存枚数（0は無制限）
	Quality   int           `yaml:"quality"`    // JPEG品質
	Cameras   []string      `yaml:"cameras"`    // 対象カメラID（空の場合は全て）
}

// DefaultConfig はデフォルト設定を返す
// カメラは実機がなくても動くテストパターンを1台だけ持つ
func DefaultConfig() *Config {
	interval := 33 * time.Millisecond

	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
			StreamFPS:    10,
			JPEGQuality:  80,
		},
		Logging: LoggingConfig{
			Level:  logging.LevelInfo,
			Format: logging.FormatJSON,
		},
		Cameras: []CameraConfig{
			{
				ID:     "demo",
				Name:   "テストパターン",
				Source: camera.SourceSpec{Type: camera.SourceTypeSynthetic, Width: 640, Height: 480},
				ShareConfig: ShareConfig{
					CaptureInterval: &interval,
				},
			},
		},
		Recorder: RecorderConfig{
			OutputDir: "data/recorder",
			Interval:  time.Minute,
			MaxFiles:  1440,
			Quality:   90,
		},
	}
}

// Load は設定を読み込む
// path が空の場合はデフォルト設定に環境変数だけを反映する
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// decode はYAMLをデフォルト値の上に重ねる
// cameras を書いた場合はデフォルトのカメラを置き換える
func (c *Config) decode(data []byte) error {
	var probe struct {
		Cameras yaml.Node `yaml:"cameras"`
		Pairs   yaml.Node `yaml:"pairs"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Cameras.Kind != 0 || probe.Pairs.Kind != 0 {
		c.Cameras = nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv は環境変数による上書きを反映する
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Server.StreamFPS < 0 {
		return fmt.Errorf("無効なフレームレート: %d", c.Server.StreamFPS)
	}
	if c.Server.JPEGQuality < 0 || c.Server.JPEGQuality > 100 {
		return fmt.Errorf("無効なJPEG品質: %d", c.Server.JPEGQuality)
	}

	if c.Logging.Level != "" && !logging.IsValidLevel(c.Logging.Level) {
		return fmt.Errorf("無効なログレベル: %s", c.Logging.Level)
	}

	if len(c.Cameras) == 0 && len(c.Pairs) == 0 {
		return errors.New("カメラが設定されていません")
	}

	ids := make(map[string]bool)
	checkID := func(id string) error {
		if id == "" {
			return errors.New("カメラIDが設定されていません")
		}
		if strings.ContainsAny(id, "./ ") {
			return fmt.Errorf("カメラIDに使えない文字が含まれています: %q", id)
		}
		if ids[id] {
			return fmt.Errorf("カメラIDが重複しています: %s", id)
		}
		ids[id] = true
		return nil
	}

	for _, cam := range c.Cameras {
		if err := checkID(cam.ID); err != nil {
			return err
		}
		if cam.Source.Type == "" {
			return fmt.Errorf("カメラ %s: ソースの種類が設定されていません", cam.ID)
		}
		if err := cam.ShareConfig.validate(); err != nil {
			return fmt.Errorf("カメラ %s: %w", cam.ID, err)
		}
	}

	pairIDs := make(map[string]bool)
	for _, pair := range c.Pairs {
		if err := checkID(pair.ID); err != nil {
			return err
		}
		pairIDs[pair.ID] = true
		if pair.First.Type == "" || pair.Second.Type == "" {
			return fmt.Errorf("ペア %s: 両方のストリームのソースが必要です", pair.ID)
		}
		if err := pair.ShareConfig.validate(); err != nil {
			return fmt.Errorf("ペア %s: %w", pair.ID, err)
		}
	}

	if c.Recorder.Enabled {
		if c.Recorder.OutputDir == "" {
			return errors.New("recorder: output_dir が設定されていません")
		}
		if c.Recorder.Interval <= 0 {
			return fmt.Errorf("recorder: 無効な撮影間隔: %v", c.Recorder.Interval)
		}
		if c.Recorder.MaxFiles < 0 {
			return fmt.Errorf("recorder: 無効な最大保存枚数: %d", c.Recorder.MaxFiles)
		}
		for _, id := range c.Recorder.Cameras {
			if pairIDs[id] {
				return fmt.Errorf("recorder: ペアは %s.first / %s.second で指定してください", id, id)
			}
			if !ids[id] && !isPairStream(id, pairIDs) {
				return fmt.Errorf("recorder: 存在しないカメラです: %s", id)
			}
		}
	}

	return nil
}

// isPairStream は "<pair>.first" / "<pair>.second" 形式のIDかを判定する
func isPairStream(id string, pairIDs map[string]bool) bool {
	base, stream, ok := strings.Cut(id, ".")
	return ok && pairIDs[base] && (stream == "first" || stream == "second")
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
