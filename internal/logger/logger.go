package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 日志接口，键值对形式传递上下文字段
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
}

// Options 日志配置
type Options struct {
	Level   string
	Writers []string // console, file
	File    string
}

type zeroLogger struct {
	zl zerolog.Logger
}

// New 根据配置创建 zerolog 实现
func New(opts Options) Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	for _, w := range opts.Writers {
		switch w {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime})
		case "file":
			name := opts.File
			if name == "" {
				name = "logs/kioskguard.log"
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   name,
				MaxSize:    20,
				MaxBackups: 5,
				MaxAge:     14,
				Compress:   true,
			})
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &zeroLogger{zl: zl}
}

// NewWithWriter 将日志写入指定 writer，主要用于测试
func NewWithWriter(w io.Writer, level zerolog.Level) Logger {
	return &zeroLogger{zl: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

func (l *zeroLogger) Debug(msg string, kv ...any) { l.zl.Debug().Fields(kv).Msg(msg) }
func (l *zeroLogger) Info(msg string, kv ...any)  { l.zl.Info().Fields(kv).Msg(msg) }
func (l *zeroLogger) Warn(msg string, kv ...any)  { l.zl.Warn().Fields(kv).Msg(msg) }
func (l *zeroLogger) Error(msg string, kv ...any) { l.zl.Error().Fields(kv).Msg(msg) }

func (l *zeroLogger) Err(err error, msg string, kv ...any) {
	l.zl.Error().Err(err).Fields(kv).Msg(msg)
}

type nopLogger struct{}

// NewNop 返回丢弃所有输出的 Logger
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any)       {}
func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Warn(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (nopLogger) Err(error, string, ...any) {}
