package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"Error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_TextOnly(t *testing.T) {
	var buf bytes.Buffer
	logger, shutdown, err := New(t.Context(), Options{Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer shutdown(t.Context())

	logger.Debug("should be filtered")
	logger.Info("should appear", "actorID", 3)

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Error("debug record should be filtered at info level")
	}
	if !strings.Contains(out, "should appear") || !strings.Contains(out, "actorID=3") {
		t.Errorf("output = %q", out)
	}
}

type recordingExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *recordingExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *recordingExporter) Shutdown(context.Context) error   { return nil }
func (e *recordingExporter) ForceFlush(context.Context) error { return nil }

func (e *recordingExporter) bodies() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.records))
	for _, r := range e.records {
		out = append(out, r.Body().AsString())
	}
	return out
}

func TestNewWithProvider_FansOut(t *testing.T) {
	var buf bytes.Buffer
	exporter := &recordingExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)))
	defer provider.Shutdown(t.Context())

	logger := NewWithProvider(slog.NewTextHandler(&buf, nil), "test", provider, slog.LevelInfo)
	logger.Info("character spawned")

	if !strings.Contains(buf.String(), "character spawned") {
		t.Errorf("text output = %q", buf.String())
	}
	bodies := exporter.bodies()
	if len(bodies) != 1 || bodies[0] != "character spawned" {
		t.Errorf("exported = %v", bodies)
	}
}

func TestNewWithProvider_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	exporter := &recordingExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)))
	defer provider.Shutdown(t.Context())

	logger := NewWithProvider(slog.NewTextHandler(&buf, nil), "test", provider, slog.LevelInfo)
	if logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("debug should be disabled when both handlers are at info")
	}
	logger.Debug("debug label")
	logger.Warn("kept")

	bodies := exporter.bodies()
	if len(bodies) != 1 || bodies[0] != "kept" {
		t.Errorf("exported = %v, want [kept]", bodies)
	}
}

func TestLevelHandler_WithAttrsKeepsLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewLevelHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}), slog.LevelWarn)
	logger := slog.New(h).With("roomID", "r1").WithGroup("tick")

	logger.Info("dropped")
	logger.Warn("kept", "n", 1)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info record passed a warn filter: %q", out)
	}
	if !strings.Contains(out, "kept") || !strings.Contains(out, "roomID=r1") || !strings.Contains(out, "tick.n=1") {
		t.Errorf("output = %q", out)
	}
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("boom") }

func TestMultiHandler(t *testing.T) {
	var info, debug bytes.Buffer
	h := NewMultiHandler(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		nil,
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	logger := slog.New(h).With("roomID", "r1").WithGroup("g")

	logger.Debug("low")
	logger.Info("high", "k", "v")

	if strings.Contains(info.String(), "low") {
		t.Error("info handler received debug record")
	}
	if !strings.Contains(debug.String(), "low") || !strings.Contains(debug.String(), "high") {
		t.Errorf("debug output = %q", debug.String())
	}
	if !strings.Contains(info.String(), "roomID=r1") || !strings.Contains(info.String(), "g.k=v") {
		t.Errorf("attrs not propagated: %q", info.String())
	}
	if !h.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("Enabled should be true when any handler accepts the level")
	}
}

func TestMultiHandler_ContinuesAfterError(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, nil)
	h := NewMultiHandler(failingHandler{base}, base)

	err := h.Handle(t.Context(), slog.NewRecord(time.Time{}, slog.LevelInfo, "still delivered", 0))
	if err == nil {
		t.Error("expected joined error")
	}
	if !strings.Contains(buf.String(), "still delivered") {
		t.Errorf("output = %q", buf.String())
	}
}
