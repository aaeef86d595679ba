package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func resetLogging(t *testing.T) {
	t.Helper()
	mu.Lock()
	modules = make(map[string]*moduleLogger)
	current = Config{}
	initialized = false
	history = NewHistory(HistorySize)
	mu.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetLogging(t)
	Initialize(Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"pipeline": "debug", "sim": "warn"},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"pipeline", true, true, true},
		{"sim", false, false, true},
		{"capture", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			h := GetLogger(tt.module).Handler()
			ctx := context.Background()
			if got := h.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("Debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := h.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("Info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := h.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("Warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetLogging(t)

	before := GetLogger("capture")
	if before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Logger created before Initialize should default to info")
	}

	Initialize(Config{Level: "info", Modules: map[string]string{"capture": "debug"}})

	after := GetLogger("capture")
	if before != after {
		t.Error("Logger should be cached across Initialize")
	}
	if !before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Cached logger should follow the level set by Initialize")
	}
}

func TestSetLevel(t *testing.T) {
	resetLogging(t)
	Initialize(Config{Level: "warn"})

	logger := GetLogger("api")
	if logger.Handler().Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("api should start at warn")
	}
	if !SetLevel("api", "DEBUG") {
		t.Fatal("SetLevel rejected a valid level")
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("api should accept debug after SetLevel")
	}
	if SetLevel("api", "verbose") {
		t.Error("SetLevel accepted an invalid level")
	}
	if got := Levels()["api"]; got != "debug" {
		t.Errorf("Levels()[api] = %q, want debug", got)
	}

	SetLevel("config", "error")
	if got := Modules(); len(got) != 2 || got[0] != "api" || got[1] != "config" {
		t.Errorf("Modules() = %v", got)
	}
}

func TestHistoryRecordsModuleAndAttrs(t *testing.T) {
	resetLogging(t)
	Initialize(Config{Level: "debug"})

	logger := GetLogger("pipeline")
	logger.Info("Graph built", "camera", 1, "err", errors.New("boom"))
	logger.WithGroup("pool").Debug("Seeded", "buffers", 3, "wait", 2*time.Millisecond)

	entries := GetHistory().Query("", slog.LevelDebug, 0)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}

	first := entries[0]
	if first.Module != "pipeline" || first.Level != "info" || first.Message != "Graph built" {
		t.Errorf("Unexpected first entry %+v", first)
	}
	if first.Attrs["camera"] != int64(1) || first.Attrs["err"] != "boom" {
		t.Errorf("Unexpected attrs %v", first.Attrs)
	}

	second := entries[1]
	if second.Attrs["pool.buffers"] != int64(3) || second.Attrs["pool.wait"] != "2ms" {
		t.Errorf("Unexpected grouped attrs %v", second.Attrs)
	}
	if second.Module != "pipeline" {
		t.Errorf("Module lost under group: %q", second.Module)
	}
}

func TestHistoryQuery(t *testing.T) {
	h := NewHistory(3)
	for i, lvl := range []string{"debug", "info", "warn", "error"} {
		h.Add(Entry{Level: lvl, Module: []string{"a", "b"}[i%2], Message: lvl})
	}

	if h.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", h.Len())
	}

	tests := []struct {
		name   string
		module string
		level  slog.Level
		limit  int
		want   []string
	}{
		{"all oldest first", "", slog.LevelDebug, 0, []string{"info", "warn", "error"}},
		{"module", "b", slog.LevelDebug, 0, []string{"info", "error"}},
		{"min level", "", slog.LevelWarn, 0, []string{"warn", "error"}},
		{"limit keeps newest", "", slog.LevelDebug, 1, []string{"error"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.Query(tt.module, tt.level, tt.limit)
			var msgs []string
			for _, e := range got {
				msgs = append(msgs, e.Message)
			}
			if strings.Join(msgs, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", msgs, tt.want)
			}
		})
	}
}

func TestFanoutWritesOncePerEnabledHandler(t *testing.T) {
	var buf bytes.Buffer
	debug := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	info := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewFanout(debug, info)).With("module", "test")
	logger.Debug("debug only")
	logger.Info("both")

	out := buf.String()
	if n := strings.Count(out, "debug only"); n != 1 {
		t.Errorf("Expected 1 debug line, got %d: %s", n, out)
	}
	if n := strings.Count(out, "both"); n != 2 {
		t.Errorf("Expected 2 info lines, got %d: %s", n, out)
	}
	if strings.Count(out, "module=test") != 3 {
		t.Errorf("module attr missing: %s", out)
	}
}

func TestJournalField(t *testing.T) {
	fields := make(map[string]string)
	journalField(fields, nil, slog.Int("camera", 2))
	journalField(fields, nil, slog.Bool("zero_copy", true))
	journalField(fields, []string{"pool"}, slog.String("name", "isp0:out0"))
	journalField(fields, nil, slog.Group("region", slog.Int("layer", 5)))
	journalField(fields, nil, slog.Attr{})

	want := map[string]string{
		"CAMERA":       "2",
		"ZERO_COPY":    "true",
		"POOL_NAME":    "isp0:out0",
		"REGION_LAYER": "5",
	}
	if len(fields) != len(want) {
		t.Errorf("Expected %d fields, got %v", len(want), fields)
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%s] = %q, want %q", k, fields[k], v)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		isNil bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got := parseLevel(tt.input)
		switch {
		case tt.isNil && got != nil:
			t.Errorf("parseLevel(%q) = %v, want nil", tt.input, *got)
		case !tt.isNil && (got == nil || *got != tt.want):
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
