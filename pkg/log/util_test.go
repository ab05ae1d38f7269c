package log

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("boom")

	tests := []struct {
		name     string
		input    []any
		wantKeys []string
	}{
		{"empty input", []any{}, nil},
		{"device fields", []any{"deviceID", "d-1", "seq", 3, "engaged", true}, []string{"deviceID", "seq", "engaged"}},
		{"time and duration", []any{"at", now, "window", 15 * time.Second}, []string{"at", "window"}},
		{"error only", []any{err}, []string{"error"}},
		{"zap field passthrough", []any{zap.String("x", "y"), "num", 42}, []string{"x", "num"}},
		{"odd number of args", []any{"key1", "val1", "key2"}, []string{"key1", "arg#2"}},
		{"non-string key", []any{123, "value"}, []string{"invalid_key_1"}},
		{"string slice", []any{"campaigns", []string{"c1", "c2"}}, []string{"campaigns"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)

			if len(fields) != len(tt.wantKeys) {
				t.Fatalf("got %d fields, want %d: %+v", len(fields), len(tt.wantKeys), fields)
			}
			for i, f := range fields {
				if f.Key != tt.wantKeys[i] {
					t.Errorf("field %d key = %q, want %q", i, f.Key, tt.wantKeys[i])
				}
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	defer level.SetLevel(zapcore.InfoLevel)

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel(debug) error = %v", err)
	}
	if got := level.Level(); got != zapcore.DebugLevel {
		t.Errorf("level = %v, want debug", got)
	}

	if err := SetLevel("loud"); err == nil {
		t.Error("SetLevel(loud) expected error")
	}
	if got := level.Level(); got != zapcore.DebugLevel {
		t.Errorf("invalid level changed state to %v", got)
	}
}
