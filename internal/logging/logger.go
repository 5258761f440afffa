package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Options configures the process logger. Logs go to stderr so command output
// on stdout stays machine readable.
type Options struct {
	Level string
	// Format is "console" (default) or "json".
	Format string
	Output io.Writer
}

// New returns a controller-runtime logger configured with the given level string.
func New(level string) (logr.Logger, error) {
	return NewWithOptions(Options{Level: level})
}

func NewWithOptions(o Options) (logr.Logger, error) {
	zapLevel, err := ParseLevel(o.Level)
	if err != nil {
		return logr.Logger{}, err
	}
	opts := crzap.Options{}
	switch strings.ToLower(strings.TrimSpace(o.Format)) {
	case "", "console", "text":
		opts.Development = zapLevel == zapcore.DebugLevel
		opts.Encoder = zapcore.NewConsoleEncoder(consoleEncoderConfig())
	case "json":
		opts.Encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		return logr.Logger{}, fmt.Errorf("unknown log format %q (expected console or json)", o.Format)
	}
	out := o.Output
	if out == nil {
		out = os.Stderr
	}
	opts.DestWriter = out
	atomic := zap.NewAtomicLevelAt(zapLevel)
	opts.Level = &atomic
	return crzap.New(crzap.UseFlagOptions(&opts)), nil
}

// ParseLevel maps debug, info, warn and error to zap levels. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", level)
	}
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.StacktraceKey = ""
	return cfg
}
