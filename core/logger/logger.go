package logger

// Fields are structured key/value pairs attached to a log line.
type Fields = map[string]any

// Logger exposes logging methods for common severity levels.
type Logger interface {
	Debugf(format string, args ...any)
	// Debugw logs a message with structured fields.
	Debugw(msg string, fields Fields)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	// Warnw logs a warning with structured fields.
	Warnw(msg string, fields Fields)
	Errorf(format string, args ...any)
}
