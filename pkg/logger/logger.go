package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide structured logger. It discards everything until
// Init or InitWithLevel runs.
var Log = zap.NewNop()

// Audit records administrative writes (app config, seeding). Falls back to
// Log when no audit sink is attached.
var Audit *zap.Logger

func parseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init initializes the global logger from ASSETDESK_LOG_LEVEL and
// ASSETDESK_LOG_SINK.
func Init() {
	InitWithLevel("")
}

// InitWithLevel initializes the global logger at the given level. An empty
// level falls back to ASSETDESK_LOG_LEVEL.
func InitWithLevel(level string) {
	if strings.TrimSpace(level) == "" {
		level = os.Getenv("ASSETDESK_LOG_LEVEL")
	}
	lv := parseLevel(level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var ws zapcore.WriteSyncer = zapcore.Lock(os.Stdout)
	sink := os.Getenv("ASSETDESK_LOG_SINK") // e.g. "file:/path/to/log"
	if strings.HasPrefix(sink, "file:") {
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
		} else {
			ws = zapcore.AddSync(f)
		}
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, lv)
	Log = zap.New(core)
}

// InitNop installs a logger that discards everything. Tests use it.
func InitNop() {
	Log = zap.NewNop()
	Audit = nil
}

// AttachAuditFileSink writes audit records as JSON lines to
// <auditDir>/audit.log.
func AttachAuditFileSink(auditDir string) error {
	if auditDir == "" {
		return fmt.Errorf("empty audit dir")
	}
	if fi, err := os.Lstat(auditDir); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("audit path is a symlink: %s", auditDir)
		}
		if !fi.IsDir() {
			return fmt.Errorf("audit path exists and is not a directory: %s", auditDir)
		}
	}
	if err := os.MkdirAll(auditDir, 0o700); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	fname := filepath.Join(auditDir, "audit.log")
	f, err := os.OpenFile(fname, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(f), zapcore.InfoLevel)
	Audit = zap.New(core)
	Audit.Info("audit_sink_attached", zap.String("path", fname))
	return nil
}

// AuditEvent logs to the audit sink, or the main logger when none is attached.
func AuditEvent(event string, fields ...zap.Field) {
	l := Audit
	if l == nil {
		l = Log
	}
	if l == nil {
		return
	}
	l.Info(event, fields...)
}

// Sync flushes buffered entries.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
	if Audit != nil {
		_ = Audit.Sync()
	}
}

// Debug logs with key/value pairs.
func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Sugar().Debugw(msg, args...)
}

// Info logs with key/value pairs.
func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Sugar().Infow(msg, args...)
}

// Warn logs with key/value pairs.
func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Sugar().Warnw(msg, args...)
}

// Error logs with key/value pairs.
func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Sugar().Errorw(msg, args...)
}
