package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"callsync/internal/config"
)

func TestNewLevels(t *testing.T) {
	cases := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{" WARN ", zapcore.WarnLevel},
		{"", zapcore.InfoLevel},
		{"loud", zapcore.InfoLevel},
	}
	for _, tc := range cases {
		l, err := New(config.LogConfig{Level: tc.level, Encoding: "json"}, "test")
		if err != nil {
			t.Fatalf("%q: %v", tc.level, err)
		}
		if !l.Core().Enabled(tc.want) || (tc.want > zapcore.DebugLevel && l.Core().Enabled(tc.want-1)) {
			t.Fatalf("%q: level not %v", tc.level, tc.want)
		}
	}
}

func TestComponentNilSafe(t *testing.T) {
	if Component(nil, "sync") == nil {
		t.Fatalf("nil base returned nil logger")
	}
	base, err := New(config.LogConfig{}, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if Component(base, "sync") == base {
		t.Fatalf("component logger not derived")
	}
}
