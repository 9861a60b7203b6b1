package logger

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	corelogger "github.com/kilianp07/fleetlive/core/logger"
)

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger implements Logger with no-op methods.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Warnw(string, map[string]any)  {}
func (NopLogger) Errorf(string, ...any)         {}

// New returns a Logger for the given component. The environment is detected via
// the APP_ENV variable and the level via LOG_LEVEL.
func New(component string) Logger {
	return NewZerologLogger(component)
}

var (
	outputOnce sync.Once
	output     io.Writer
)

// Output is the process-wide log destination shared by every component.
func Output() io.Writer {
	outputOnce.Do(func() { output = newOutput(os.Getenv) })
	return output
}

// newOutput writes to stdout, as console text when APP_ENV=dev. LOG_FILE
// adds a rotated JSON copy capped at LOG_FILE_MAX_MB megabytes.
func newOutput(getenv func(string) string) io.Writer {
	var stdout io.Writer = os.Stdout
	if strings.ToLower(getenv("APP_ENV")) == "dev" {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	path := getenv("LOG_FILE")
	if path == "" {
		return stdout
	}
	maxMB, err := strconv.Atoi(getenv("LOG_FILE_MAX_MB"))
	if err != nil || maxMB <= 0 {
		maxMB = 100
	}
	file := &lumberjack.Logger{Filename: path, MaxSize: maxMB, MaxBackups: 3, Compress: true}
	return zerolog.MultiLevelWriter(stdout, file)
}
