package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a ZerologLogger writing to Output. All logs
// include the provided component field.
func NewZerologLogger(component string) Logger {
	return NewWithWriter(component, Output())
}

// NewWithWriter creates a ZerologLogger emitting JSON lines to w.
func NewWithWriter(component string, w io.Writer) *ZerologLogger {
	z := zerolog.New(w).Level(levelFromEnv()).With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: z}
}

func levelFromEnv() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.DebugLevel
	}
	return lvl
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	l.log.Debug().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Warnw(msg string, fields map[string]any) {
	l.log.Warn().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
