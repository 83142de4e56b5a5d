package logger

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	logFile     *os.File
	logDir      string
	currentDay  string
	logMu       sync.Mutex
	fileLogging bool
	debug       bool
	out         io.Writer = os.Stderr
	color       = true
)

// Init enables the daily log file under dir. An empty dir keeps
// console-only logging.
func Init(dir string) error {
	if dir == "" {
		return nil
	}
	// If caller passes /var/log/fega, write logs to /var/log/fega/logs.
	// If caller already passes .../logs, keep it as-is.
	resolved := dir
	if path.Base(filepath.ToSlash(dir)) != "logs" {
		resolved = filepath.Join(dir, "logs")
	}

	if err := os.MkdirAll(resolved, 0750); err != nil {
		return err
	}

	logMu.Lock()
	defer logMu.Unlock()
	logDir = resolved
	fileLogging = true
	if err := rotateLocked(time.Now()); err != nil {
		fileLogging = false
		return err
	}
	return nil
}

// SetOutput redirects console output. Lookups print records on stdout, so
// the console default is stderr.
func SetOutput(w io.Writer, colored bool) {
	logMu.Lock()
	defer logMu.Unlock()
	out = w
	color = colored
}

// SetDebug turns Debug lines on or off.
func SetDebug(on bool) {
	logMu.Lock()
	defer logMu.Unlock()
	debug = on
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	fileLogging = false
}

func Debug(format string, args ...interface{}) {
	log(LevelDebug, format, args...)
}

func Info(format string, args ...interface{}) {
	log(LevelInfo, format, args...)
}

func Warn(format string, args ...interface{}) {
	log(LevelWarn, format, args...)
}

func Error(format string, args ...interface{}) {
	log(LevelError, format, args...)
}

func log(lvl Level, format string, args ...interface{}) {
	logMu.Lock()
	defer logMu.Unlock()
	if lvl == LevelDebug && !debug {
		return
	}

	nowTime := time.Now()
	now := nowTime.Format("2006/01/02 15:04:05")
	msg := fmt.Sprintf(format, args...)
	var label, colorStart, colorEnd string
	switch lvl {
	case LevelDebug:
		colorStart = "\033[36m" // Cyan
		label = "[DEBG] "
	case LevelInfo:
		colorStart = "\033[32m" // Green
		label = "[INFO] "
	case LevelWarn:
		colorStart = "\033[33m" // Yellow
		label = "[WARN] "
	case LevelError:
		colorStart = "\033[31m" // Red
		label = "[EROR] "       // 4 chars align
	}
	colorEnd = "\033[0m"

	// File output (no color), with daily rollover
	if fileLogging {
		line := fmt.Sprintf("%s %s%s\n", now, label, msg)
		if err := rotateLocked(nowTime); err == nil && logFile != nil {
			_, _ = logFile.WriteString(line)
		}
	}

	if out == nil {
		return
	}
	if !color {
		fmt.Fprintf(out, "%s %s%s\n", now, label, msg)
		return
	}
	fmt.Fprintf(out, "%s %s%s%s%s\n", now, colorStart, label, colorEnd, msg)
}

func rotateLocked(t time.Time) error {
	if logDir == "" {
		return nil
	}
	day := t.Format("2006-01-02")
	if logFile != nil && currentDay == day {
		return nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	filePath := filepath.Join(logDir, day+".log")
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return err
	}
	logFile = f
	currentDay = day
	return nil
}
