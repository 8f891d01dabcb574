// Package logger provides the tagged console logger used across the
// pipeline. Every line carries a short component tag so interleaved
// output from the capture, consumer, and scheduler goroutines stays
// readable.
package logger

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// debugEnabled gates Debug output; toggled once at startup.
var debugEnabled atomic.Bool

// SetDebug enables or disables Debug output.
func SetDebug(on bool) {
	debugEnabled.Store(on)
}

func stamp() string {
	return time.Now().Format("15:04:05")
}

func emit(color, level, tag, msg string) {
	fmt.Fprintf(os.Stdout, "%s%s%s %s[%-4s]%s %s[%s]%s %s\n",
		colorGray, stamp(), colorReset,
		color, level, colorReset,
		colorCyan, tag, colorReset,
		msg)
}

// Info logs a neutral informational message.
func Info(tag, msg string) {
	emit(colorGray, "INFO", tag, msg)
}

// Success logs a completed operation.
func Success(tag, msg string) {
	emit(colorGreen, "OK", tag, msg)
}

// Warn logs a recoverable anomaly.
func Warn(tag, msg string) {
	emit(colorYellow, "WARN", tag, msg)
}

// Error logs a failure.
func Error(tag, msg string) {
	emit(colorRed, "ERR", tag, msg)
}

// Debug logs verbose diagnostics; suppressed unless SetDebug(true).
func Debug(tag, msg string) {
	if !debugEnabled.Load() {
		return
	}
	emit(colorGray, "DBG", tag, msg)
}

// Banner prints the startup banner with the build version.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Fprintf(os.Stdout, "%s%s", colorBold, colorCyan)
	fmt.Fprintln(os.Stdout, `
  ┌─────────────────────────────────┐
  │  dofus-hdv  ·  HDV price watch  │
  └─────────────────────────────────┘`)
	fmt.Fprintf(os.Stdout, "%s  version %s\n\n", colorReset, version)
}

// Section prints a visual separator for a named phase.
func Section(name string) {
	fmt.Fprintf(os.Stdout, "\n%s── %s %s\n", colorBold, name, colorReset)
}

// Stats prints a key/value pair aligned for scanning.
func Stats(key string, value interface{}) {
	fmt.Fprintf(os.Stdout, "  %s%-28s%s %v\n", colorGray, key, colorReset, value)
}
