// pkg/logger/logger.go

package logger

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogFile is the persistent JSON log for every forge invocation.
const DefaultLogFile = "/var/log/forge/forge.log"

var log = zap.NewNop()

// Config controls where and how verbosely forge logs.
type Config struct {
	Level string // debug, info, warn, error
	File  string // JSON log file; empty disables file logging
}

// DefaultConfig returns the settings used when no flag overrides them.
func DefaultConfig() Config {
	level := os.Getenv("FORGE_LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	return Config{Level: level, File: DefaultLogFile}
}

// Init builds the process logger: human readable console output on stderr
// plus JSON lines in cfg.File. A log file that cannot be opened is reported
// and skipped rather than failing the run.
func Init(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	consoleEnc := zap.NewDevelopmentEncoderConfig()
	consoleEnc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEnc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEnc), zapcore.Lock(os.Stderr), level),
	}

	var fileErr error
	if cfg.File != "" {
		if f, err := openLogFile(cfg.File); err != nil {
			fileErr = err
		} else {
			jsonEnc := zap.NewProductionEncoderConfig()
			jsonEnc.EncodeTime = zapcore.ISO8601TimeEncoder
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(jsonEnc), zapcore.AddSync(f), level))
		}
	}

	log = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	zap.ReplaceGlobals(log)
	otelzap.ReplaceGlobals(otelzap.New(log, otelzap.WithMinLevel(level.Level())))

	if fileErr != nil {
		log.Warn("⚠️ Log file unavailable, logging to stderr only",
			zap.String("path", cfg.File), zap.Error(fileErr))
	}
	return log, nil
}

// L returns the process logger.
func L() *zap.Logger {
	return log
}

// Sync flushes buffered log entries.
func Sync() error {
	err := log.Sync()
	// stderr cannot be fsync'd on most terminals
	if err != nil && strings.Contains(err.Error(), "/dev/stderr") {
		return nil
	}
	return err
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
