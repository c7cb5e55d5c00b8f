// Package logger 封装全局 zap 日志。
// 控制台输出固定写 stderr，stdout 留给 MCP stdio 通道；配置了文件时另写一份 JSON 行日志并按大小滚动。
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	L *zap.SugaredLogger
	// Z 供 HTTP 访问日志等结构化字段场景使用。
	Z *zap.Logger

	rotator *lumberjack.Logger
)

func init() {
	// Init 之前的日志也不能落到 stdout
	z, _ := zap.NewProduction(
		zap.ErrorOutput(zapcore.AddSync(os.Stderr)),
	)
	Z = z
	L = z.Sugar()
}

// Config 日志配置，文件相关字段为 0 时使用 64MB / 3 份 / 7 天。
type Config struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
}

// ParseLevel 将字符串级别转换为 zapcore.Level，空串视为 info。
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("不支持的日志级别: %s", level)
	}
}

// Init 替换全局 logger。重复调用时会关闭上一次打开的日志文件。
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	consoleEnc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level),
	}

	var next *lumberjack.Logger
	if cfg.File != "" {
		next, err = openRotator(cfg)
		if err != nil {
			return err
		}
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(next), level))
	}

	Z = zap.New(zapcore.NewTee(cores...), zap.AddCallerSkip(1))
	L = Z.Sugar()

	if rotator != nil {
		_ = rotator.Close()
	}
	rotator = next
	return nil
}

func openRotator(cfg Config) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    orDefault(cfg.MaxSize, 64),
		MaxBackups: orDefault(cfg.MaxBackups, 3),
		MaxAge:     orDefault(cfg.MaxAge, 7),
		Compress:   true,
	}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Sync 刷新缓冲区并关闭日志文件，程序退出前调用。
func Sync() {
	if Z != nil {
		_ = Z.Sync()
	}
	if rotator != nil {
		_ = rotator.Close()
	}
}

// With 返回带固定字段的子 logger，例如一轮抓取的 cycle id。
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return Z.WithOptions(zap.AddCallerSkip(-1)).Sugar().With(keysAndValues...)
}

func Debugf(template string, args ...interface{}) { L.Debugf(template, args...) }
func Info(msg string)                             { L.Info(msg) }
func Infof(template string, args ...interface{})  { L.Infof(template, args...) }
func Warnf(template string, args ...interface{})  { L.Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { L.Errorf(template, args...) }
