// Package logger provides the process-global structured logger.
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.Mutex
	globalLogger *zap.Logger
	globalSugar  *zap.SugaredLogger
)

// Init configures the global zap logger. With a logFile it writes JSON to the
// file; otherwise it writes a console encoding to stdout. Safe to call more
// than once; the last call wins.
func Init(logLevel string, logFile string) error {
	var level zapcore.Level
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		level = zapcore.DebugLevel
	case "INFO":
		level = zapcore.InfoLevel
	case "WARN":
		level = zapcore.WarnLevel
	case "ERROR":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var built *zap.Logger
	if logFile != "" {
		fileConfig := zap.Config{
			Level:            zap.NewAtomicLevelAt(level),
			Encoding:         "json",
			EncoderConfig:    encoderConfig,
			OutputPaths:      []string{logFile},
			ErrorOutputPaths: []string{logFile},
		}
		logger, err := fileConfig.Build()
		if err != nil {
			return err
		}
		built = logger
	} else {
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			level,
		)
		built = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	mu.Lock()
	globalLogger = built
	globalSugar = built.Sugar()
	mu.Unlock()
	return nil
}

// Get returns the global logger, initializing a default one if needed.
func Get() *zap.Logger {
	mu.Lock()
	l := globalLogger
	mu.Unlock()
	if l == nil {
		_ = Init("INFO", "")
		mu.Lock()
		l = globalLogger
		mu.Unlock()
	}
	return l
}

// Named returns a child logger tagged with a component name, e.g.
// logger.Named("executor").
func Named(component string) *zap.Logger {
	return Get().Named(component)
}

// Sync flushes buffered entries. Called on shutdown.
func Sync() error {
	mu.Lock()
	l := globalLogger
	mu.Unlock()
	if l != nil {
		return l.Sync()
	}
	return nil
}

// Convenience wrappers around the global logger.

func Debug(msg string, fields ...zap.Field) { Get().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Get().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Get().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Get().Error(msg, fields...) }

func sugar() *zap.SugaredLogger {
	Get()
	mu.Lock()
	defer mu.Unlock()
	return globalSugar
}

func Debugf(template string, args ...interface{}) { sugar().Debugf(template, args...) }
func Infof(template string, args ...interface{})  { sugar().Infof(template, args...) }
func Warnf(template string, args ...interface{})  { sugar().Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { sugar().Errorf(template, args...) }
