package logger

import (
	"context"
	"errors"
	"os"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is filled from SVPCAP_LOG_* by envconfig, then overridden by CLI flags.
type Config struct {
	JSON      bool `default:"false"`                    // trueならJSONフォーマット
	NoColor   bool `default:"false" split_words:"true"` // trueなら色付けしない
	Verbose   int  `default:"0"`                        // 0はInfo相当 1以上でDebug
	Quiet     bool `default:"false"`                    // trueでWarn以上に引き上げる
	AddCaller bool `default:"false" split_words:"true"` // trueならログに呼び出し元情報を追加する

	// File があれば stderr に加えてローテーション付きでファイルにも書く
	File       string
	MaxSizeMB  int `default:"100" split_words:"true"`
	MaxBackups int `default:"3" split_words:"true"`
}

func NewLogger(cfg Config) (*zap.Logger, func(context.Context) error, error) {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		CallerKey:      "caller",
		EncodeTime:     func(t time.Time, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString(t.Format(time.RFC3339)) },
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	level := zapcore.InfoLevel
	if cfg.Quiet {
		level = zapcore.WarnLevel
	}
	if cfg.Verbose > 0 && !cfg.Quiet {
		level = zapcore.DebugLevel
	}

	// CLIなので標準エラー出力にログを出す
	ws := zapcore.AddSync(os.Stderr)
	cores := []zapcore.Core{zapcore.NewCore(consoleEncoder(cfg, encCfg), ws, level)}

	var rotator *lumberjack.Logger
	if cfg.File != "" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		fileEnc := encCfg
		fileEnc.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(rotator), level))
	}

	opts := []zap.Option{
		zap.ErrorOutput(ws),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	if cfg.AddCaller || level == zapcore.DebugLevel {
		opts = append(opts, zap.AddCaller())
	}

	lg := zap.New(zapcore.NewTee(cores...), opts...)

	cleanup := func(_ context.Context) error {
		var syncErr error
		if err := lg.Sync(); err != nil {
			// 標準出力・標準エラーに対する Sync は多くの環境で EINVAL 等になるため無視する
			if !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTSUP) && !errors.Is(err, syscall.EBADF) {
				syncErr = err
			}
		}
		if rotator != nil {
			if err := rotator.Close(); err != nil && syncErr == nil {
				syncErr = err
			}
		}
		return syncErr
	}
	return lg, cleanup, nil
}

func consoleEncoder(cfg Config, encCfg zapcore.EncoderConfig) zapcore.Encoder {
	if cfg.JSON {
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(encCfg)
	}
	if cfg.NoColor || runtime.GOOS == "windows" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encCfg)
}
