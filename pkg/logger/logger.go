package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	// currentLogFile 当前日志文件路径
	currentLogFile string
	// currentDay 当前交易日（LogByDay 模式）
	currentDay string
	// savedConfig 保存的日志配置（交易日切换时复用）
	savedConfig Config
	// logMu 日志文件切换锁
	logMu sync.Mutex
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level"`      // 日志级别: debug, info, warn, error
	OutputFile string `yaml:"outputFile"` // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    `yaml:"maxSize"`    // 日志文件最大大小（MB）
	MaxBackups int    `yaml:"maxBackups"` // 保留的旧日志文件数量
	MaxAge     int    `yaml:"maxAge"`     // 保留旧日志文件的天数
	Compress   bool   `yaml:"compress"`   // 是否压缩旧日志文件
	LogByDay   bool   `yaml:"logByDay"`   // 是否按交易日命名日志文件
}

// dayLogFileName 按交易日生成日志文件名：logs/riskcore.log -> logs/riskcore_2026-01-05.log
func dayLogFileName(basePath, day string) string {
	dir := filepath.Dir(basePath)
	baseName := filepath.Base(basePath)
	ext := filepath.Ext(baseName)
	nameWithoutExt := baseName[:len(baseName)-len(ext)]

	name := fmt.Sprintf("%s_%s%s", nameWithoutExt, day, ext)
	if dir == "." || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()
	savedConfig = config

	logFilePath := config.OutputFile
	if config.LogByDay && logFilePath != "" {
		currentDay = time.Now().Format("2006-01-02")
		logFilePath = dayLogFileName(config.OutputFile, currentDay)
	}
	return initLocked(config, logFilePath)
}

func initLocked(config Config, logFilePath string) error {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
		ForceColors:     true,
	}
	logger.SetFormatter(formatter)

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
		currentLogFile = logFilePath
	}

	multiWriter := io.MultiWriter(writers...)
	logger.SetOutput(multiWriter)

	// 同时设置全局 logrus 的输出，确保各组件 logrus.WithField() 创建的
	// logger 也写入同一文件
	logrus.SetOutput(multiWriter)
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter)

	Logger = logger
	return nil
}

// RotateForDay 交易日切换时换日志文件（日始重置流程调用）。
// day 格式 2006-01-02；同日重复调用是 no-op。
func RotateForDay(day string) error {
	logMu.Lock()
	defer logMu.Unlock()

	if !savedConfig.LogByDay || savedConfig.OutputFile == "" || day == currentDay {
		return nil
	}
	old := currentLogFile
	currentDay = day
	logFilePath := dayLogFileName(savedConfig.OutputFile, day)
	if err := initLocked(savedConfig, logFilePath); err != nil {
		return err
	}
	if old != "" {
		Logger.Infof("🖋️ 日志文件已切换到新交易日: %s -> %s", old, logFilePath)
	}
	return nil
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:      "info",
		OutputFile: "logs/riskcore.log",
		MaxSize:    100, // 100MB
		MaxBackups: 3,
		MaxAge:     7, // 7天
		Compress:   true,
		LogByDay:   true,
	})
}

// Debug 记录 DEBUG 级别日志
func Debug(args ...interface{}) {
	if Logger != nil {
		Logger.Debug(args...)
	}
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Info 记录 INFO 级别日志
func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Warn 记录 WARN 级别日志
func Warn(args ...interface{}) {
	if Logger != nil {
		Logger.Warn(args...)
	}
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Error 记录 ERROR 级别日志
func Error(args ...interface{}) {
	if Logger != nil {
		Logger.Error(args...)
	}
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.WithField(key, value)
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger != nil {
		return Logger.WithFields(fields)
	}
	return logrus.WithFields(fields)
}
