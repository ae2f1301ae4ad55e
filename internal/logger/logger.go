package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/percona/go-mysql/query"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var zeroLevels = map[LogLevel]zerolog.Level{
	DEBUG: zerolog.DebugLevel,
	INFO:  zerolog.InfoLevel,
	WARN:  zerolog.WarnLevel,
	ERROR: zerolog.ErrorLevel,
}

type Logger struct {
	zl       zerolog.Logger
	logLevel LogLevel
	file     *lumberjack.Logger
}

func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func LogLevelString(level LogLevel) string {
	if name, exists := levelNames[level]; exists {
		return name
	}
	return "INFO"
}

type Config struct {
	Level      LogLevel
	Format     string // "console" or "json"
	OutputFile string
	MaxSize    int64 // MB before the file is rotated
	// Output overrides the destination when set. Defaults to stderr:
	// stdout carries the MCP stream in stdio mode.
	Output io.Writer
}

const defaultMaxSizeMB = 100

var globalLogger *Logger

func Initialize(cfg Config) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	globalLogger = logger
	return nil
}

func NewLogger(cfg Config) (*Logger, error) {
	logger := &Logger{
		logLevel: cfg.Level,
	}

	var writer io.Writer = os.Stderr
	if cfg.Output != nil {
		writer = cfg.Output
	}

	if cfg.OutputFile != "" {
		dir := filepath.Dir(cfg.OutputFile)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}

		maxSize := int(cfg.MaxSize)
		if maxSize <= 0 {
			maxSize = defaultMaxSizeMB
		}
		logger.file = &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    maxSize,
			MaxBackups: 5,
		}
		writer = logger.file
	}

	if cfg.Format != "json" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339, NoColor: cfg.OutputFile != ""}
	}

	logger.zl = zerolog.New(writer).
		With().Timestamp().Str("component", "mysql-mcp").Logger().
		Level(zeroLevels[cfg.Level])

	return logger, nil
}

func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) log(level LogLevel, msg string, err error, fields map[string]interface{}) {
	if level < l.logLevel {
		return
	}

	event := l.zl.WithLevel(zeroLevels[level])
	if err != nil {
		event = event.Err(err)
	}
	if len(fields) > 0 {
		event = event.Fields(fields)
	}
	event.Msg(msg)
}

func firstFields(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(DEBUG, msg, nil, firstFields(fields))
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(INFO, msg, nil, firstFields(fields))
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(WARN, msg, nil, firstFields(fields))
}

func (l *Logger) Error(msg string, err error, fields ...map[string]interface{}) {
	l.log(ERROR, msg, err, firstFields(fields))
}

func Debug(msg string, fields ...map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.Debug(msg, fields...)
	}
}

func Info(msg string, fields ...map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.Info(msg, fields...)
	}
}

func Warn(msg string, fields ...map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.Warn(msg, fields...)
	}
}

func Error(msg string, err error, fields ...map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.Error(msg, err, fields...)
	}
}

func LogToolCall(toolName, callID string, isError bool, duration time.Duration) {
	fields := map[string]interface{}{
		"tool":        toolName,
		"call_id":     callID,
		"is_error":    isError,
		"duration_ms": duration.Milliseconds(),
	}
	if isError {
		Warn("Tool call returned error envelope", fields)
	} else {
		Info("Tool call completed", fields)
	}
}

// Fingerprint returns the percona fingerprint id of a statement. Literals are
// abstracted away so logs never carry query values.
func Fingerprint(sql string) string {
	return query.Id(query.Fingerprint(sql))
}

func LogDatabaseOperation(operation, sql string, rows int64, err error) {
	fields := map[string]interface{}{
		"operation":   operation,
		"fingerprint": Fingerprint(sql),
	}
	if err != nil {
		Error(fmt.Sprintf("%s operation failed", operation), err, fields)
		return
	}
	fields["rows"] = rows
	Debug(fmt.Sprintf("%s operation completed", operation), fields)
}

func LogConnectionEvent(event, target string, err error) {
	fields := map[string]interface{}{"event": event, "target": target}
	if err != nil {
		Error("Connection event failed", err, fields)
	} else {
		Info("Connection event completed", fields)
	}
}

func Shutdown() error {
	if globalLogger != nil {
		return globalLogger.Close()
	}
	return nil
}
