// Package logging は構造化ログの構築を担う
//
// # 責務
// - zerologロガーの一元的な構築
// - コンポーネント別サブロガーの提供
// - ログレベル・出力形式の設定反映
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New は設定に従ってルートロガーを構築する
func New(level, format string) zerolog.Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter は出力先を指定してルートロガーを構築する
func NewWithWriter(w io.Writer, level, format string) zerolog.Logger {
	lvl := parseLevel(level)

	var out io.Writer = w
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Component はコンポーネント名を付与したサブロガーを返す
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// parseLevel はレベル文字列をzerologのレベルに変換する
// 不明な値はinfoとして扱う
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
