// Package logger
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Init(path string)
	InitMultiWriter(path string, console io.Writer)
	SetLevel(level zerolog.Level)

	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Debug(msg string)

	WithStr(key, value string) Logger
	WithBool(key string, value bool) Logger
	WithInt(key string, value int) Logger
	WithAny(key string, value any) Logger
}

type logger struct {
	base zerolog.Logger
	path string
}

func New() Logger {
	return &logger{
		base: zerolog.Nop(),
		path: "./logs/gbasend.log",
	}
}

// Nop discards everything.
func Nop() Logger {
	return &logger{base: zerolog.Nop()}
}

// FromWriter logs JSON lines to w.
func FromWriter(w io.Writer) Logger {
	return &logger{
		base: zerolog.New(w).With().Timestamp().Logger(),
	}
}

func (l *logger) rotating() *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   l.path,
		MaxSize:    5,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}

func (l *logger) Init(path string) {
	if path != "" {
		l.path = path
	}

	l.base = zerolog.New(l.rotating()).
		With().
		Timestamp().
		Logger()
}

func (l *logger) InitMultiWriter(path string, console io.Writer) {
	if path != "" {
		l.path = path
	}

	if console == nil {
		console = os.Stderr
	}

	multi := zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"},
		l.rotating(),
	)

	l.base = zerolog.New(multi).
		With().
		Timestamp().
		Logger()
}

func (l *logger) SetLevel(level zerolog.Level) {
	l.base = l.base.Level(level)
}

func (l *logger) Info(msg string) {
	l.base.Info().Msg(msg)
}

func (l *logger) Warn(msg string) {
	l.base.Warn().Msg(msg)
}

func (l *logger) Error(msg string) {
	l.base.Error().Msg(msg)
}

func (l *logger) Debug(msg string) {
	l.base.Debug().Msg(msg)
}

func (l *logger) WithStr(key, value string) Logger {
	return l.with(l.base.With().Str(key, value))
}

func (l *logger) WithBool(key string, value bool) Logger {
	return l.with(l.base.With().Bool(key, value))
}

func (l *logger) WithInt(key string, value int) Logger {
	return l.with(l.base.With().Int(key, value))
}

func (l *logger) WithAny(key string, value any) Logger {
	return l.with(l.base.With().Interface(key, value))
}

func (l *logger) with(ctx zerolog.Context) Logger {
	return &logger{
		base: ctx.Logger(),
		path: l.path,
	}
}

func LogPath(path string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	logDir := filepath.Join(homeDir, "gbasend", path)

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "gbasend.log")
	return logPath, nil
}
