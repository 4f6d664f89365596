package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var slogLevels = map[Level]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

// Config controls where and how log lines are written
type Config struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "json" (default) or "text"
	File       string `yaml:"file"`   // rotating log file; stderr when empty
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Logger merges a fixed set of fields into every line it writes
type Logger struct {
	sl *slog.Logger
}

var (
	mu            sync.RWMutex
	levelVar      = new(slog.LevelVar)
	defaultLogger *slog.Logger
	closer        io.Closer
)

// ParseLevel maps debug/info/warn/error to a Level. Empty means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}

// Init installs a JSON logger writing to w (stderr when nil).
func Init(w io.Writer, lvl Level, baseFields map[string]interface{}) {
	if w == nil {
		w = os.Stderr
	}
	install(newHandler(w, "json"), lvl, baseFields, nil)
}

// Setup installs a logger from cfg. A file target is rotated by lumberjack.
func Setup(cfg Config, baseFields map[string]interface{}) error {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format != "" && format != "json" && format != "text" {
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	var w io.Writer = os.Stderr
	var c io.Closer
	if strings.TrimSpace(cfg.File) != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w, c = lj, lj
	}
	install(newHandler(w, format), lvl, baseFields, c)
	return nil
}

// Close releases the rotating file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}

func newHandler(w io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: levelVar,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				a.Key = "ts"
			case slog.LevelKey:
				a.Key = "lvl"
				a.Value = slog.StringValue(strings.ToLower(a.Value.String()))
			}
			return a
		},
	}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func install(h slog.Handler, lvl Level, baseFields map[string]interface{}, c io.Closer) {
	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		closer.Close()
	}
	closer = c
	levelVar.Set(slogLevels[lvl])
	defaultLogger = slog.New(h).With(fieldArgs(baseFields)...)
}

func current() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil {
		Init(nil, LevelInfo, nil)
		mu.RLock()
		l = defaultLogger
		mu.RUnlock()
	}
	return l
}

// fieldArgs flattens a field map into sorted key/value pairs for slog.
func fieldArgs(fields map[string]interface{}) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}

// WithFields returns a logger that adds fields to every call.
func WithFields(fields map[string]interface{}) *Logger {
	return &Logger{sl: current().With(fieldArgs(fields)...)}
}

// WithFields returns a child logger carrying fields in addition to l's.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	sl := l.sl
	if sl == nil {
		sl = current()
	}
	return &Logger{sl: sl.With(fieldArgs(fields)...)}
}

func (l *Logger) log(lvl Level, msg string, extra map[string]interface{}) {
	sl := l.sl
	if sl == nil {
		sl = current()
	}
	sl.Log(context.Background(), slogLevels[lvl], msg, fieldArgs(extra)...)
}

func (l *Logger) Debug(msg string, extra map[string]interface{}) { l.log(LevelDebug, msg, extra) }
func (l *Logger) Info(msg string, extra map[string]interface{})  { l.log(LevelInfo, msg, extra) }
func (l *Logger) Warn(msg string, extra map[string]interface{})  { l.log(LevelWarn, msg, extra) }
func (l *Logger) Error(msg string, extra map[string]interface{}) { l.log(LevelError, msg, extra) }

// Top-level convenience wrappers
func Debug(msg string, extra map[string]interface{}) { WithFields(nil).Debug(msg, extra) }
func Info(msg string, extra map[string]interface{})  { WithFields(nil).Info(msg, extra) }
func Warn(msg string, extra map[string]interface{})  { WithFields(nil).Warn(msg, extra) }
func Error(msg string, extra map[string]interface{}) { WithFields(nil).Error(msg, extra) }

func SetLevel(lvl Level) {
	levelVar.Set(slogLevels[lvl])
}
