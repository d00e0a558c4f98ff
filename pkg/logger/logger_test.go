package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestFromFallsBackToDefault(t *testing.T) {
	if got := From(context.Background()); got == nil {
		t.Fatal("From returned nil")
	}
}

func TestWithRoundTrip(t *testing.T) {
	l := New("local")
	ctx := With(context.Background(), l)
	if got := From(ctx); got != l {
		t.Fatal("From did not return the stashed logger")
	}
}

func TestNewLevels(t *testing.T) {
	if !New("local").Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("local logger should allow debug")
	}
	if New("production").Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("production logger should suppress debug")
	}
}
