// Package logging builds the process-wide structured logger.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds a zap logger at the given level. When file is non-empty the
// output goes to a size-rotated log file; otherwise to stderr with a
// console encoding, since stdout belongs to command output.
func New(level, file string) (*zap.Logger, error) {
	var lvl zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = zap.DebugLevel
	case "warn":
		lvl = zap.WarnLevel
	case "error":
		lvl = zap.ErrorLevel
	default:
		lvl = zap.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var core zapcore.Core
	if file != "" {
		w := zapcore.AddSync(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    50, // MiB
			MaxAge:     14, // days
			MaxBackups: 3,
		})
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, lvl)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stderr), lvl)
	}

	return zap.New(core), nil
}
