package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name      string
		format    string
		level     string
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{name: "console_default", wantLevel: zapcore.InfoLevel},
		{name: "console_debug", level: "debug", wantLevel: zapcore.DebugLevel},
		{name: "json_warn", format: "json", level: "warn", wantLevel: zapcore.WarnLevel},
		{name: "bad_level", level: "loud", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			l, err := build(tc.format, tc.level)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.True(t, l.Core().Enabled(tc.wantLevel))
			if tc.wantLevel > zapcore.DebugLevel {
				require.False(t, l.Core().Enabled(tc.wantLevel-1))
			}
		})
	}
}

func TestGetLoggerSingleton(t *testing.T) {
	require.Same(t, GetLogger(), GetLogger())
}
