package logsvc

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/circuscoach/backend/core"
	"github.com/circuscoach/backend/core/user"
	"github.com/circuscoach/backend/tests"
)

func TestZapLogger(t *testing.T) {
	zc, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLoggerFrom(zap.New(zc))
	usr := user.User{ID: "u1", Name: "Ana", Email: "ana@circus.test"}

	l.Warn("payment pi_1 skipped", map[string]interface{}{"payment_ref": "pi_1"}, usr, 42)
	l.Error("saving record", errors.New("connection refused"))

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)

	warn := entries[0]
	assert.Equal(t, zapcore.WarnLevel, warn.Level)
	assert.Equal(t, "payment pi_1 skipped", warn.Message)
	ctx := warn.ContextMap()
	assert.Equal(t, "pi_1", ctx["payment_ref"])
	assert.Equal(t, "u1", ctx["user_id"])
	assert.Equal(t, "ana@circus.test", ctx["user_email"])
	assert.Equal(t, []interface{}{42}, ctx["args"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "connection refused", entries[1].ContextMap()["error"])
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"loud", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, levelFromString(tt.in))
		})
	}
}

func TestNewZapLogger(t *testing.T) {
	for _, debug := range []bool{true, false} {
		l, err := NewZapLogger(&core.Config{Debug: debug, AppName: "CircusCoach", Env: "TEST"})
		require.NoError(t, err)
		l.Debug("hello")
	}
}

func TestRollbarLogger(t *testing.T) {
	local := testutil.NewLogger()
	l := NewRollbarLogger(local, &core.Config{TestMode: true, Env: "TEST"})
	usr := user.User{ID: "u1", Name: "Ana", Email: "ana@circus.test"}

	args := l.prepare("boom", []interface{}{errors.New("boom"), usr, usr})
	assert.Len(t, args, 2, "users are not forwarded to rollbar")
	assert.Equal(t, "boom", args[0])

	l.Info("payment reconciled", usr)
	l.Error("saving record", errors.New("connection refused"))
	assert.True(t, local.Contains("INFO", "payment reconciled"))
	assert.True(t, local.Contains("ERROR", "saving record"))
}

type syncingLogger struct {
	*testutil.Logger
	synced int
}

func (l *syncingLogger) Sync() error {
	l.synced++
	return nil
}

func TestRollbarLogger_Sync(t *testing.T) {
	local := &syncingLogger{Logger: testutil.NewLogger()}
	l := NewRollbarLogger(local, &core.Config{TestMode: true, Env: "TEST"})

	require.NoError(t, l.Sync())
	assert.Equal(t, 1, local.synced)

	// loggers that do not buffer are left alone
	assert.NoError(t, NewRollbarLogger(testutil.NewLogger(), &core.Config{TestMode: true}).Sync())
}
