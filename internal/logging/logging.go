// Package logging は構造化ログの生成を担う
//
// log/slog のハンドラを設定から組み立てて *slog.Logger を返すだけの薄い層。
// 各コンポーネントは logger.With("camera", id) のように子ロガーを作って使う。
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ログレベル
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// 出力形式
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Options はロガーの設定
type Options struct {
	Level  string // DEBUG / INFO / WARN / ERROR
	Format string // json / text
	File   string // 空の場合は標準エラー出力
}

// New は w に書き出すJSON形式のロガーを作成する
func New(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Open は設定に従ってロガーを作成する
// ファイルに出力する場合は呼び出し側が返された io.Closer を閉じる
func Open(opts Options) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = io.NopCloser(nil)
	)

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("ログディレクトリの作成に失敗: %w", err)
		}
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("ログファイルのオープンに失敗: %w", err)
		}
		w, closer = file, file
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", FormatJSON:
		handler = slog.NewJSONHandler(w, handlerOpts)
	case FormatText:
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("サポートされていないログ形式: %s", opts.Format)
	}

	return slog.New(handler), closer, nil
}

// ParseLevel は文字列のログレベルを slog.Level に変換する
// 不明な値は INFO として扱う
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsValidLevel はログレベルとして解釈できる文字列かを返す
func IsValidLevel(level string) bool {
	switch strings.ToUpper(level) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// Nop は何も出力しないロガーを返す
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
