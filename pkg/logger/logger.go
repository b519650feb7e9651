package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logMu      sync.Mutex
	ljWriters  map[string]*lumberjack.Logger
	TimeFormat = "2006-01-02 15:04:05"
)

// initLogger 初始化日志系统
func initLogger(config Config) error {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	setLogLevel(config.Level)

	// LevelFiles 为空时使用默认 info 文件
	if config.LevelFiles.IsEmpty() {
		config.LevelFiles = LevelFiles{
			{Level: INFO, Path: "logs/info.log"},
		}
	}

	for _, path := range config.LevelFiles.GetPaths() {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
	}

	setWriter(config)

	return nil
}

func setWriter(config Config) {
	// 已配置等级的位掩码，用于未配置等级的降级写入
	var configured uint8
	for _, entry := range config.LevelFiles {
		configured |= 1 << parseLevel(entry.Level)
	}

	writers := make([]io.Writer, 0, len(config.LevelFiles)+1)
	newLjWriters := make(map[string]*lumberjack.Logger, len(config.LevelFiles))

	for _, entry := range config.LevelFiles {
		lj := &lumberjack.Logger{
			Filename:   entry.Path,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		newLjWriters[entry.Level] = lj

		writers = append(writers, &levelFilterWriter{
			level:      parseLevel(entry.Level),
			configured: configured,
			Writer: &zerolog.ConsoleWriter{
				Out:        lj,
				TimeFormat: TimeFormat,
				NoColor:    true,
			},
		})
	}

	if config.Console {
		writers = append(writers, &zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: TimeFormat,
		})
	}

	logMu.Lock()
	defer logMu.Unlock()

	closeAllWriters()
	ljWriters = newLjWriters
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Caller().Logger()
}

// levelFilterWriter 只写入指定等级的日志，未配置的等级降级到 INFO 文件
type levelFilterWriter struct {
	level      zerolog.Level
	configured uint8
	io.Writer
}

func (w *levelFilterWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level == w.level {
		return w.Writer.Write(p)
	}

	switch w.level {
	case zerolog.InfoLevel:
		// 未单独配置文件的等级写入 INFO
		if w.configured&(1<<level) == 0 {
			return w.Writer.Write(p)
		}
	case zerolog.ErrorLevel:
		// FATAL 未配置时同时写入 ERROR
		if level == zerolog.FatalLevel && w.configured&(1<<level) == 0 {
			return w.Writer.Write(p)
		}
	}
	return len(p), nil
}

// parseLevel 解析等级名称
func parseLevel(name string) zerolog.Level {
	switch name {
	case "debug", "DEBUG":
		return zerolog.DebugLevel
	case "info", "INFO":
		return zerolog.InfoLevel
	case "warn", "WARN":
		return zerolog.WarnLevel
	case "error", "ERROR":
		return zerolog.ErrorLevel
	case "fatal", "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func closeAllWriters() {
	for name, lj := range ljWriters {
		if err := lj.Close(); err != nil {
			log.Logger.Err(err).Str("level", name).Msg("failed to close lumberjack writer")
		}
	}
	ljWriters = nil
}

// L 返回全局 logger
func L() zerolog.Logger {
	return log.Logger
}

func Debug() *zerolog.Event {
	return log.Logger.Debug()
}

func Info() *zerolog.Event {
	return log.Logger.Info()
}

func Warn() *zerolog.Event {
	return log.Logger.Warn()
}

func Error() *zerolog.Event {
	return log.Logger.Error()
}

func Fatal() *zerolog.Event {
	return log.Logger.Fatal()
}

// Err 直接记录错误
func Err(err error) *zerolog.Event {
	return log.Logger.Err(err)
}

// Infof 格式化输出 info 日志
func Infof(format string, args ...any) {
	log.Logger.Info().CallerSkipFrame(1).Msg(fmt.Sprintf(format, args...))
}

// Warnf 格式化输出 warn 日志
func Warnf(format string, args ...any) {
	log.Logger.Warn().CallerSkipFrame(1).Msg(fmt.Sprintf(format, args...))
}

// Errorf 格式化输出 error 日志
func Errorf(format string, args ...any) {
	log.Logger.Error().CallerSkipFrame(1).Msg(fmt.Sprintf(format, args...))
}

// Close 关闭日志
func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	closeAllWriters()
}
