package logging

import (
	"io"
	"log"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger struct {
	level string
	base  *log.Logger
	file  io.Closer
}

func New(level string) *Logger {
	return newLogger(level, os.Stderr, nil)
}

// NewWithFile writes to stderr and to a size-rotated file at path.
func NewWithFile(level, path string) *Logger {
	path = strings.TrimSpace(path)
	if path == "" {
		return New(level)
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	return newLogger(level, io.MultiWriter(os.Stderr, rotator), rotator)
}

func NewWriter(level string, w io.Writer) *Logger {
	return newLogger(level, w, nil)
}

func Discard() *Logger {
	return newLogger("error", io.Discard, nil)
}

func newLogger(level string, w io.Writer, file io.Closer) *Logger {
	lv := strings.ToLower(strings.TrimSpace(level))
	if lv == "" {
		lv = "info"
	}
	return &Logger{level: lv, base: log.New(w, "", log.LstdFlags), file: file}
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) enabled(level string) bool {
	order := map[string]int{"debug": 10, "info": 20, "warn": 30, "error": 40}
	cur, ok := order[l.level]
	if !ok {
		cur = 20
	}
	v, ok := order[level]
	if !ok {
		v = 20
	}
	return v >= cur
}

func (l *Logger) Debugf(format string, args ...any) {
	if l.enabled("debug") {
		l.base.Printf("[DEBUG] "+format, args...)
	}
}

func (l *Logger) Infof(format string, args ...any) {
	if l.enabled("info") {
		l.base.Printf("[INFO] "+format, args...)
	}
}

func (l *Logger) Warnf(format string, args ...any) {
	if l.enabled("warn") {
		l.base.Printf("[WARN] "+format, args...)
	}
}

func (l *Logger) Errorf(format string, args ...any) {
	if l.enabled("error") {
		l.base.Printf("[ERROR] "+format, args...)
	}
}
