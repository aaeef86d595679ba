package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/camgraph/internal/api/models"
	"github.com/smazurov/camgraph/internal/events"
	"github.com/smazurov/camgraph/internal/hw"
	"github.com/smazurov/camgraph/internal/hw/sim"
	"github.com/smazurov/camgraph/internal/logging"
	"github.com/smazurov/camgraph/internal/metrics/exporters"
	"github.com/smazurov/camgraph/internal/pipeline"
)

const (
	testUser = "admin"
	testPass = "secret"
)

func newTestRegistry(t *testing.T, bus *events.Bus) *pipeline.Registry {
	t.Helper()
	reg, err := pipeline.NewRegistry(sim.New(sim.Config{}), pipeline.Options{Bus: bus})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	region := hw.DisplayRegion{Fullscreen: true, Layer: 5}
	_, err = reg.RequestOutput(0, pipeline.OutputRequest{
		Width: 640, Height: 480, Encoding: hw.EncodingRGB24, ZeroCopyRender: true, Region: &region,
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func newTestServer(t *testing.T, status StatusSource, bus *events.Bus) *httptest.Server {
	t.Helper()
	srv := NewServer(&Options{
		AuthUsername:   testUser,
		AuthPassword:   testPass,
		Status:         status,
		Bus:            bus,
		MetricsHandler: exporters.HTTPHandler(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, body io.Reader, auth bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.SetBasicAuth(testUser, testPass)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	reg := newTestRegistry(t, nil)
	ts := newTestServer(t, reg, nil)

	resp := do(t, http.MethodGet, ts.URL+"/api/health", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if got := decode[models.HealthData](t, resp); got.Status != "degraded" {
		t.Errorf("Expected degraded before build, got %+v", got)
	}

	if err := reg.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	resp = do(t, http.MethodGet, ts.URL+"/api/health", nil, false)
	if got := decode[models.HealthData](t, resp); got.Status != "ok" {
		t.Errorf("Expected ok after build, got %+v", got)
	}
}

func TestVersion(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	resp := do(t, http.MethodGet, ts.URL+"/api/version", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"version", "git_commit", "go_version", "platform"} {
		if _, ok := body[key]; !ok {
			t.Errorf("Missing %q in %v", key, body)
		}
	}
}

func TestCameras_RequiresAuth(t *testing.T) {
	ts := newTestServer(t, newTestRegistry(t, nil), nil)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bearer", "Bearer abc", "", http.StatusUnauthorized},
		{"not base64", "Basic !!!", "", http.StatusUnauthorized},
		{"wrong password", "Basic YWRtaW46d3Jvbmc=", "", http.StatusUnauthorized},
		{"header", "Basic YWRtaW46c2VjcmV0", "", http.StatusOK},
		{"query", "", "?auth=YWRtaW46c2VjcmV0", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/cameras"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, resp.StatusCode)
			}
			if tt.want == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") == "" {
				t.Error("Missing WWW-Authenticate header")
			}
		})
	}
}

func TestListCameras(t *testing.T) {
	reg := newTestRegistry(t, nil)
	if err := reg.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := reg.Handles()[0]
	f, err := reg.CaptureNext(context.Background(), h)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Release(); err != nil {
		t.Fatal(err)
	}

	ts := newTestServer(t, reg, nil)
	resp := do(t, http.MethodGet, ts.URL+"/api/cameras", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	list := decode[models.CameraListData](t, resp)
	if list.Count != 1 || len(list.Cameras) != 1 {
		t.Fatalf("Expected 1 camera, got %+v", list)
	}

	cam := list.Cameras[0]
	if !cam.Built || cam.Port != "shared" || cam.Mode != "processed" || cam.MaxWidth != 2592 {
		t.Errorf("Unexpected camera %+v", cam)
	}
	if len(cam.Slots) != 1 {
		t.Fatalf("Expected 1 slot, got %d", len(cam.Slots))
	}
	slot := cam.Slots[0]
	if slot.Width != 640 || slot.Encoding != "rgb24" || slot.State != "idle" || slot.Captured != 1 {
		t.Errorf("Unexpected slot %+v", slot.SlotStatus)
	}
	if slot.Region == nil || slot.Region.Layer != 5 {
		t.Errorf("Unexpected region %+v", slot.Region)
	}
	if slot.Metrics == nil || slot.Metrics.Captured == 0 {
		t.Errorf("Expected capture counters, got %+v", slot.Metrics)
	}
}

func TestGetCamera(t *testing.T) {
	ts := newTestServer(t, newTestRegistry(t, nil), nil)

	tests := []struct {
		path string
		want int
	}{
		{"/api/cameras/0", http.StatusOK},
		{"/api/cameras/2", http.StatusNotFound},
		{"/api/cameras/9", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		resp := do(t, http.MethodGet, ts.URL+tt.path, nil, true)
		if resp.StatusCode != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.want, resp.StatusCode)
		}
	}
}

func TestCameras_NoStatus(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	resp := do(t, http.MethodGet, ts.URL+"/api/cameras", nil, true)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

func TestLogs(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	logger := logging.GetLogger("apitest")
	logger.Warn("Pool starved", "camera", 0)
	logger.Info("Routine")

	resp := do(t, http.MethodGet, ts.URL+"/api/logs?module=apitest&level=warn", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	list := decode[models.LogListData](t, resp)
	if list.Count != 1 || list.Entries[0].Message != "Pool starved" {
		t.Errorf("Unexpected entries %+v", list.Entries)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/logs?level=loud", nil, true)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for invalid level, got %d", resp.StatusCode)
	}
}

func TestSetLogLevel(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	resp := do(t, http.MethodPut, ts.URL+"/api/logs/levels/apilevel", strings.NewReader(`{"level":"error"}`), true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	levels := decode[models.LogLevelsData](t, resp)
	if levels.Levels["apilevel"] != "error" {
		t.Errorf("Expected error level, got %v", levels.Levels)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/logs/levels", nil, true)
	if got := decode[models.LogLevelsData](t, resp); got.Levels["apilevel"] != "error" {
		t.Errorf("Level not persisted: %v", got.Levels)
	}

	resp = do(t, http.MethodPut, ts.URL+"/api/logs/levels/apilevel", strings.NewReader(`{"level":"chatty"}`), true)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := newTestRegistry(t, nil)
	if err := reg.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	f, err := reg.CaptureNext(context.Background(), reg.Handles()[0])
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Handoff(); err != nil {
		t.Fatal(err)
	}

	ts := newTestServer(t, reg, nil)
	resp := do(t, http.MethodGet, ts.URL+"/metrics", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 without auth, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"camgraph_capture_frames_total", "camgraph_capture_handoffs_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("Missing %s in /metrics", name)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	resp := do(t, http.MethodOptions, ts.URL+"/api/cameras", nil, false)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PUT") {
		t.Errorf("Allow-Methods = %q", got)
	}
}

func TestEventsStream(t *testing.T) {
	bus := events.New()
	ts := newTestServer(t, nil, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	req.SetBasicAuth(testUser, testPass)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}

	// Nothing has been published yet; the stream opens with a greeting.
	scanner := bufio.NewScanner(resp.Body)
	if !scanner.Scan() || scanner.Text() != "event: connected" {
		t.Fatalf("First line = %q, want the connected event (%v)", scanner.Text(), scanner.Err())
	}

	// The subscription is made inside the handler, so publish until the
	// stream shows the event.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bus.Publish(events.ConfigReloadedEvent{Path: "pipeline.toml", Cameras: 2})
			}
		}
	}()

	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: config-reloaded" {
			return
		}
	}
	t.Fatalf("Stream ended without a config-reloaded event: %v", scanner.Err())
}
