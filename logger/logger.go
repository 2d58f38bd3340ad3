/*
The logger package wraps zerolog with the small surface the rest of the sdk
consumes. Loggers are hierarchical: a process-level logger is created once from
a Config and component loggers are derived from it, so that every log line
carries the chain of components it travelled through.
*/
package logger

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel = zerolog.Level

const (
	Debug    LogLevel = zerolog.DebugLevel
	Info     LogLevel = zerolog.InfoLevel
	Error    LogLevel = zerolog.ErrorLevel
	Trace    LogLevel = zerolog.TraceLevel
	Disabled LogLevel = zerolog.Disabled
)

const (
	maxLogFileSizeMb = 100
	maxLogFileAge    = 30
	maxLogBackups    = 3
)

type Config struct {
	// Writers that receive human-readable console output, e.g. os.Stdout
	ConsoleWriters []io.Writer

	// If set, structured json output is written to this file with rotation
	FilePath string

	LogLevel LogLevel
}

type Logger struct {
	logger zerolog.Logger
}

func ToLogLevel(level string) LogLevel {
	switch level {
	case "disabled":
		return Disabled
	case "trace":
		return Trace
	case "debug":
		return Debug
	case "info":
		return Info
	case "error":
		return Error
	default:
		return Debug
	}
}

func New(config *Config) (*Logger, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	writers := []io.Writer{}

	if config.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    maxLogFileSizeMb,
			MaxAge:     maxLogFileAge,
			MaxBackups: maxLogBackups,
		})
	}

	for _, writer := range config.ConsoleWriters {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
		})
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(config.LogLevel).
		With().
		Timestamp().
		Logger()

	return &Logger{logger: logger}, nil
}

// GetComponentLogger returns a child logger tagged with the given component
// name, e.g. "Driver" or "Transport"
func (l *Logger) GetComponentLogger(component string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("component", component).Logger(),
	}
}

// GetRequestLogger returns a child logger tagged with a request id so that
// interleaved request logs can be told apart
func (l *Logger) GetRequestLogger(requestId string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("requestId", requestId).Logger(),
	}
}

func (l *Logger) AddProcessVersion(version string) {
	l.logger = l.logger.With().Str("processVersion", version).Logger()
}

func (l *Logger) Trace(msg string) {
	l.logger.Trace().Msg(msg)
}

func (l *Logger) Tracef(format string, a ...interface{}) {
	l.logger.Trace().Msg(fmt.Sprintf(format, a...))
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *Logger) Debugf(format string, a ...interface{}) {
	l.logger.Debug().Msg(fmt.Sprintf(format, a...))
}

func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *Logger) Infof(format string, a ...interface{}) {
	l.logger.Info().Msg(fmt.Sprintf(format, a...))
}

func (l *Logger) Error(err error) {
	l.logger.Error().Msg(err.Error())
}

func (l *Logger) Errorf(format string, a ...interface{}) {
	l.logger.Error().Msg(fmt.Sprintf(format, a...))
}
