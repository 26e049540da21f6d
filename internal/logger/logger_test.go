package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", LevelDebug, false},
		{" info ", LevelInfo, false},
		{"warning", LevelWarning, false},
		{"WARN", LevelWarning, false},
		{"error", LevelError, false},
		{"fatal", LevelFatal, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetup_JSONOutputAndLevel(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(context.Background(), Options{Level: "WARN", Output: &buf}); err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}
	t.Cleanup(func() { _ = Setup(context.Background(), Options{}) })

	Info("hidden")
	Warn("shown", "rule", "r1")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "shown" || entry["rule"] != "r1" {
		t.Errorf("unexpected log entry: %v", entry)
	}
}

func TestSetup_RejectsUnknownLevel(t *testing.T) {
	if err := Setup(context.Background(), Options{Level: "loud"}); err == nil {
		t.Error("Setup() should reject an unknown level")
	}
	SetLevel(LevelInfo)
}

func TestCountersIgnoreSampling(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(context.Background(), Options{ErrorSampleRate: 1000000, Output: &buf}); err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}
	t.Cleanup(func() { _ = Setup(context.Background(), Options{}) })

	before := TotalErrors.Load()
	for i := 0; i < 10; i++ {
		Error("sampled")
	}
	if got := TotalErrors.Load() - before; got != 10 {
		t.Errorf("TotalErrors increased by %d, want 10", got)
	}

	before404 := Total404Errors.Load()
	WarnHttp4xx(404)
	WarnHttp4xx(400)
	if got := Total404Errors.Load() - before404; got != 1 {
		t.Errorf("Total404Errors increased by %d, want 1", got)
	}
}
