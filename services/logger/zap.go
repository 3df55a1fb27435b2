package logsvc

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/circuscoach/backend/core"
	"github.com/circuscoach/backend/core/user"
)

// ZapLogger writes structured logs.
// Args are mapped to fields: error, map[string]interface{}, user.User; anything else is logged under "args".
type ZapLogger struct {
	zl *zap.Logger
}

var _ core.Logger = (*ZapLogger)(nil)

func levelFromString(l string) zapcore.Level {
	switch strings.ToLower(l) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewZapLogger logs human-readable lines in debug mode and JSON otherwise.
func NewZapLogger(conf *core.Config) (*ZapLogger, error) {
	level := conf.LogLevel
	if level == "" {
		if conf.Debug {
			level = "debug"
		} else {
			level = "info"
		}
	}
	lvl := levelFromString(level)

	if conf.Debug {
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(lvl)
		zl, err := c.Build(zap.AddCallerSkip(1))
		if err != nil {
			return nil, err
		}
		return &ZapLogger{zl: zl}, nil
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	zc := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(os.Stdout), lvl)
	zl := zap.New(zc, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel)).
		With(zap.String("app", conf.AppName), zap.String("env", conf.Env), zap.String("build", conf.Build))
	return &ZapLogger{zl: zl}, nil
}

// NewZapLoggerFrom wraps an existing *zap.Logger.
func NewZapLoggerFrom(zl *zap.Logger) *ZapLogger {
	return &ZapLogger{zl: zl}
}

func fields(args []interface{}) []zap.Field {
	flds := make([]zap.Field, 0, len(args))
	var rest []interface{}
	for _, arg := range args {
		switch v := arg.(type) {
		case nil:
		case error:
			flds = append(flds, zap.Error(v))
		case map[string]interface{}:
			for k, val := range v {
				flds = append(flds, zap.Any(k, val))
			}
		case user.User:
			flds = append(flds, zap.String("user_id", v.ID), zap.String("user_email", v.Email))
		default:
			rest = append(rest, v)
		}
	}
	if len(rest) > 0 {
		flds = append(flds, zap.Any("args", rest))
	}
	return flds
}

func (l *ZapLogger) Debug(msg string, args ...interface{}) { l.zl.Debug(msg, fields(args)...) }
func (l *ZapLogger) Info(msg string, args ...interface{})  { l.zl.Info(msg, fields(args)...) }
func (l *ZapLogger) Warn(msg string, args ...interface{})  { l.zl.Warn(msg, fields(args)...) }
func (l *ZapLogger) Error(msg string, args ...interface{}) { l.zl.Error(msg, fields(args)...) }
func (l *ZapLogger) Fatal(msg string, args ...interface{}) { l.zl.Fatal(msg, fields(args)...) }

// Named adds a sub-scope to the logger's name.
func (l *ZapLogger) Named(name string) *ZapLogger {
	return &ZapLogger{zl: l.zl.Named(name)}
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.zl.Sync()
}
