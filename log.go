package main

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	// Max size in MB of the log file before it is rotated.
	MaxSize    int  `yaml:"maxsize" json:"maxsize"`
	MaxBackups int  `yaml:"maxbackups" json:"maxbackups"`
	MaxAge     int  `yaml:"maxage" json:"maxage"` // days
	Debug      bool `yaml:"debug" json:"debug"`
}

// DebugLog provides a logger whose debug-level messages can be switched on
// and off at runtime.
type DebugLog struct {
	Logger *zap.Logger
	level  zap.AtomicLevel
	out    io.Writer
}

// NewDebugLog logs JSON lines to a rotating file.
func NewDebugLog(filename string, cfg LogConfig) *DebugLog {
	out := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	}
	l := newDebugLog(out)
	l.SetDebug(cfg.Debug)
	return l
}

func newDebugLog(out io.Writer) *DebugLog {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(out), level)
	return &DebugLog{
		Logger: zap.New(core, zap.AddCaller()),
		level:  level,
		out:    out,
	}
}

func (l *DebugLog) SetDebug(d bool) {
	if d {
		l.level.SetLevel(zap.DebugLevel)
	} else {
		l.level.SetLevel(zap.InfoLevel)
	}
}

func (l *DebugLog) Debug() bool {
	return l.level.Enabled(zap.DebugLevel)
}

func (l *DebugLog) Close() {
	l.Logger.Sync()
	if c, ok := l.out.(io.Closer); ok && l.out != os.Stderr {
		c.Close()
	}
}
