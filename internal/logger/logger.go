package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"detectserver/internal/config"
)

// Logger provides leveled logging (info/warning/error) to a rotating file and stdout/stderr.
type Logger struct {
	sugar *zap.SugaredLogger
	file  *lumberjack.Logger
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(cfg *config.Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, err
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDirectory, "server.log"),
		MaxSize:    50, // MB
		MaxBackups: 3,
		Compress:   true,
	}

	minLevel := zapcore.InfoLevel
	encoderConfig := zap.NewProductionEncoderConfig()
	if cfg.Debug {
		minLevel = zapcore.DebugLevel
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lowLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= minLevel && level < zapcore.WarnLevel
	})
	highLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= zapcore.WarnLevel
	})
	anyLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= minLevel
	})

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stdout), lowLevel),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), highLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), anyLevel),
	)

	return &Logger{
		sugar: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar(),
		file:  file,
	}, nil
}

// NewNop returns a Logger that discards everything. Useful in tests.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// With returns a child logger carrying the given key/value pairs on every entry.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(args...), file: l.file}
}

// Close flushes buffered entries and closes the log file.
func (l *Logger) Close() error {
	_ = l.sugar.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// FilePath returns the path of the active log file, or "" for a Logger without one.
func (l *Logger) FilePath() string {
	if l.file == nil {
		return ""
	}
	return l.file.Filename
}

// Rotate closes the active log file, moves it aside and starts a fresh one.
func (l *Logger) Rotate() error {
	if l.file == nil {
		return nil
	}
	_ = l.sugar.Sync()
	return l.file.Rotate()
}
