package logger

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// ANSI color codes for console output
const (
	ColorReset        = "\033[0m"
	ColorCyan         = "\033[36m"
	ColorGreen        = "\033[32m"
	ColorBrightRed    = "\033[91m"
	ColorBrightYellow = "\033[93m"
	ColorBrightGray   = "\033[90m"
)

// Column widths for aligned console output
const (
	ServiceNameWidth = 16
	LogLevelWidth    = 5
)

// LogEntry represents a single log entry
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
	Fields  map[string]string
}

// Logger provides leveled, structured logging with streaming support
type Logger struct {
	serviceName string
	version     string

	mu             sync.RWMutex
	subscribers    []chan LogEntry
	colorEnabled   bool
	disableConsole bool
}

// New creates a new logger instance
func New(serviceName, version string) *Logger {
	return &Logger{
		serviceName:  serviceName,
		version:      version,
		subscribers:  make([]chan LogEntry, 0),
		colorEnabled: isTerminal(),
	}
}

func isTerminal() bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	fileInfo, _ := os.Stdout.Stat()
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

func (l *Logger) colorForLevel(level string) string {
	if !l.colorEnabled {
		return ""
	}
	switch level {
	case "DEBUG":
		return ColorBrightGray
	case "INFO":
		return ColorGreen
	case "WARN":
		return ColorBrightYellow
	case "ERROR", "FATAL":
		return ColorBrightRed
	default:
		return ColorReset
	}
}

// Subscribe returns a channel that receives every log entry
func (l *Logger) Subscribe() <-chan LogEntry {
	ch := make(chan LogEntry, 100)

	l.mu.Lock()
	l.subscribers = append(l.subscribers, ch)
	l.mu.Unlock()

	return ch
}

// DisableConsoleOutput disables console output when entries are streamed elsewhere
func (l *Logger) DisableConsoleOutput() {
	l.mu.Lock()
	l.disableConsole = true
	l.mu.Unlock()
}

// EnableConsoleOutput enables console output (default behavior)
func (l *Logger) EnableConsoleOutput() {
	l.mu.Lock()
	l.disableConsole = false
	l.mu.Unlock()
}

func (l *Logger) log(level, message string, fields map[string]string) {
	now := time.Now()
	entry := LogEntry{
		Time:    now,
		Level:   level,
		Message: message,
		Fields:  fields,
	}

	l.mu.RLock()
	toConsole := !l.disableConsole
	l.mu.RUnlock()

	if toConsole {
		timestamp := now.Format("2006-01-02 15:04:05.000")

		color := l.colorForLevel(level)
		resetColor := ""
		if l.colorEnabled {
			resetColor = ColorReset
		}

		service := fmt.Sprintf("%-*s", ServiceNameWidth, l.serviceName)
		paddedLevel := fmt.Sprintf("%-*s", LogLevelWidth, level)

		fmt.Printf("%s[%s] [%s] [%s%s%s] %s%s\n",
			ColorCyan, timestamp, service, color, paddedLevel, resetColor, message, resetColor)
	}

	l.mu.RLock()
	for _, ch := range l.subscribers {
		select {
		case ch <- entry:
		default:
			// Skip if channel is full
		}
	}
	l.mu.RUnlock()
}

// Debug logs a debug message
func (l *Logger) Debug(message string, args ...interface{}) {
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	l.log("DEBUG", message, nil)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log("DEBUG", fmt.Sprintf(format, args...), nil)
}

// Info logs an info message
func (l *Logger) Info(message string, args ...interface{}) {
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	l.log("INFO", message, nil)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log("INFO", fmt.Sprintf(format, args...), nil)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, args ...interface{}) {
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	l.log("WARN", message, nil)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log("WARN", fmt.Sprintf(format, args...), nil)
}

// Error logs an error message
func (l *Logger) Error(message string, args ...interface{}) {
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	l.log("ERROR", message, nil)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log("ERROR", fmt.Sprintf(format, args...), nil)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string) {
	l.log("FATAL", message, nil)
	os.Exit(1)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log("FATAL", fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// WithFields returns a logging context carrying additional fields
func (l *Logger) WithFields(fields map[string]string) *LogContext {
	return &LogContext{
		logger: l,
		fields: fields,
	}
}

// LogContext provides field-based logging
type LogContext struct {
	logger *Logger
	fields map[string]string
}

// Infof logs a formatted info message with the context fields
func (c *LogContext) Infof(format string, args ...interface{}) {
	c.logger.log("INFO", fmt.Sprintf(format, args...), c.fields)
}

// Warnf logs a formatted warning message with the context fields
func (c *LogContext) Warnf(format string, args ...interface{}) {
	c.logger.log("WARN", fmt.Sprintf(format, args...), c.fields)
}

// Errorf logs a formatted error message with the context fields
func (c *LogContext) Errorf(format string, args ...interface{}) {
	c.logger.log("ERROR", fmt.Sprintf(format, args...), c.fields)
}
