package log

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Level represents a logging severity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelPrefixes = map[Level]string{
	LevelDebug: "\033[37m[DBG]\033[0m", // White
	LevelInfo:  "\033[36m[INF]\033[0m", // Cyan
	LevelWarn:  "\033[33m[WRN]\033[0m", // Yellow
	LevelError: "\033[31m[ERR]\033[0m", // Red
}

var (
	mu       sync.Mutex
	verbose  = false
	disabled = false
	stdout   io.Writer = os.Stdout
	stderr   io.Writer = os.Stderr
)

// SetVerbose sets the logging verbosity. If true, debug messages are displayed.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns true if verbose logging is enabled.
func IsVerbose() bool {
	mu.Lock()
	defer mu.Unlock()
	return verbose
}

// Disable suppresses all logging output.
func Disable() {
	mu.Lock()
	defer mu.Unlock()
	disabled = true
}

// SetOutput redirects both output streams. Intended for tests.
func SetOutput(out, err io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	stdout = out
	stderr = err
}

// Debugf logs a debug message if verbose is true.
func Debugf(format string, args ...interface{}) {
	logMessage(LevelDebug, format, args...)
}

// Infof logs an info message.
func Infof(format string, args ...interface{}) {
	logMessage(LevelInfo, format, args...)
}

// Warnf logs a warning message.
func Warnf(format string, args ...interface{}) {
	logMessage(LevelWarn, format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	logMessage(LevelError, format, args...)
}

// Fatalf logs an error message and exits the program.
func Fatalf(format string, args ...interface{}) {
	logMessage(LevelError, format, args...)
	os.Exit(1)
}

// logMessage formats and writes a log message with the specified log level.
func logMessage(level Level, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if disabled || (level == LevelDebug && !verbose) {
		return
	}

	output := levelPrefixes[level] + " " + fmt.Sprintf(format, args...) + "\n"
	if level >= LevelError {
		_, _ = io.WriteString(stderr, output)
	} else {
		_, _ = io.WriteString(stdout, output)
	}
}
