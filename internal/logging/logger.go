package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/fyrsmithlabs/loremaster/internal/config"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ServiceName is attached to every entry and names the OTEL instrumentation scope.
const ServiceName = "loremaster"

// Logger is a zap logger that owns its outputs.
type Logger struct {
	*zap.Logger
	file *lumberjack.Logger
}

// New builds a logger from cfg. otelProvider may be nil, in which case
// entries only go to stdout and the optional file.
func New(cfg config.LoggingConfig, otelProvider log.LoggerProvider) (*Logger, error) {
	return NewWithWriter(cfg, otelProvider, zapcore.Lock(os.Stdout))
}

// NewWithWriter is New with console output going to w instead of stdout.
// The terminal console passes a discarding writer so log lines do not
// corrupt the screen.
func NewWithWriter(cfg config.LoggingConfig, otelProvider log.LoggerProvider, w zapcore.WriteSyncer) (*Logger, error) {
	level, err := LevelFromString(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoder := newRedactingEncoder(newEncoder(cfg.Format))
	cores := []zapcore.Core{zapcore.NewCore(encoder, w, level)}

	var file *lumberjack.Logger
	if cfg.File != "" {
		file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		// Files are always JSON so they can be shipped as-is.
		fileEncoder := newRedactingEncoder(newEncoder("json"))
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(file), level))
	}

	if otelProvider != nil {
		cores = append(cores, otelzap.NewCore(ServiceName, otelzap.WithLoggerProvider(otelProvider)))
	}

	z := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	).With(zap.String("service", ServiceName))

	return &Logger{Logger: z, file: file}, nil
}

// newEncoder creates JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// Close flushes buffered entries and closes the log file.
func (l *Logger) Close() error {
	err := l.Sync()
	if err != nil && isStdoutSyncError(err) {
		err = nil
	}
	if l.file != nil {
		err = errors.Join(err, l.file.Close())
	}
	return err
}

// isStdoutSyncError reports the EINVAL/ENOTTY that syncing a terminal or
// pipe returns on Linux.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
