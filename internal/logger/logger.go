package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide sugared logger. It is a no-op until Init is called,
// so packages and tests can log unconditionally.
var Log *zap.SugaredLogger = zap.NewNop().Sugar()

// Init builds the logger for the given profile: JSON output for "prod",
// a colored console encoder for everything else.
func Init(profile string) {
	var cfg zap.Config

	if profile == "prod" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}

	Log = l.Sugar()
}

// With returns a child logger carrying the given key/value pairs.
func With(kv ...any) *zap.SugaredLogger {
	return Log.With(kv...)
}

func Sync() {
	if Log == nil {
		return
	}

	_ = Log.Sync()
}
