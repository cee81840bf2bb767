package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the debug log sink
type Options struct {
	Path       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
}

var (
	mu     sync.RWMutex
	sugar  *zap.SugaredLogger
	roller *lumberjack.Logger
)

// InitLogger initializes the file logger. The terminal belongs to the UI, so
// nothing is ever written to stdout or stderr.
func InitLogger(opts Options) error {
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	lj := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(lj), level)

	SetLogger(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))

	mu.Lock()
	roller = lj
	mu.Unlock()

	Info("=== RAG Client Log Started ===")
	return nil
}

// SetLogger replaces the underlying logger. Tests use it with zaptest/observer.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		sugar = nil
		return
	}
	sugar = l.Sugar()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Debug logs a debug message
func Debug(format string, v ...interface{}) {
	if l := get(); l != nil {
		l.Debugf(format, v...)
	}
}

// Info logs an info message
func Info(format string, v ...interface{}) {
	if l := get(); l != nil {
		l.Infof(format, v...)
	}
}

// Warn logs a warning message
func Warn(format string, v ...interface{}) {
	if l := get(); l != nil {
		l.Warnf(format, v...)
	}
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	if l := get(); l != nil {
		l.Errorf(format, v...)
	}
}

// Close flushes and closes the log file
func Close() {
	if l := get(); l != nil {
		l.Info("=== RAG Client Log Ended ===")
		_ = l.Sync()
	}

	mu.Lock()
	defer mu.Unlock()
	if roller != nil {
		roller.Close()
		roller = nil
	}
	sugar = nil
}
