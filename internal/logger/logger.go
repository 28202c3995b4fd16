package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 统一日志接口
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志初始化选项
type Options struct {
	Level   string
	Writers []string // console / file
	File    string   // 文件输出路径
}

type zlog struct {
	l zerolog.Logger
}

// New 按选项创建 zerolog 日志实例
func New(opts Options) Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	for _, w := range opts.Writers {
		switch w {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
		case "file":
			if opts.File != "" {
				_ = os.MkdirAll(filepath.Dir(opts.File), 0o755)
				writers = append(writers, &lumberjack.Logger{
					Filename:   opts.File,
					MaxSize:    20, // MB
					MaxBackups: 3,
					MaxAge:     14,
				})
			}
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return &zlog{l: zl}
}

// NewNop 创建不输出任何内容的日志实例
func NewNop() Logger {
	return &zlog{l: zerolog.Nop()}
}

func (z *zlog) Debug(msg string, kv ...any) { emit(z.l.Debug(), msg, kv) }
func (z *zlog) Info(msg string, kv ...any)  { emit(z.l.Info(), msg, kv) }
func (z *zlog) Warn(msg string, kv ...any)  { emit(z.l.Warn(), msg, kv) }
func (z *zlog) Error(msg string, kv ...any) { emit(z.l.Error(), msg, kv) }

func (z *zlog) Err(err error, msg string, kv ...any) {
	emit(z.l.Error().Err(err), msg, kv)
}

func (z *zlog) With(kv ...any) Logger {
	c := z.l.With()
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		c = c.Interface(k, kv[i+1])
	}
	return &zlog{l: c.Logger()}
}

// emit 将键值对附加到事件并输出
func emit(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(k, kv[i+1])
	}
	e.Msg(msg)
}
