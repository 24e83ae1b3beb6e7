// internal/logging/logging.go
// Structured logger construction: console plus an optional rolling file
package logging

import (
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"reddit-image-download/internal/config"
)

// New builds a logger from the logging section. Console output always goes
// to stderr; a rolling file is added when cfg.Path is set.
func New(cfg config.Logging) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level),
	}

	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    nz(cfg.MaxSizeMB, 100), // megabytes
			MaxBackups: nz(cfg.MaxBackups, 3),
			MaxAge:     nz(cfg.MaxAgeDays, 7), // days
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(lj), level))
	}

	opts := []zap.Option{zap.AddCaller()}
	if level == zapcore.DebugLevel {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

func nz(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// ASCII folds s to plain ASCII for log lines: accents are stripped and any
// other non-ASCII rune is dropped.
func ASCII(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, folded)
}

// cronLogger adapts zap to the scheduler's logging interface.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

// CronLogger returns a cron.Logger backed by z.
func CronLogger(z *zap.Logger) cron.Logger {
	return cronLogger{sugar: z.Named("cron").Sugar()}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
