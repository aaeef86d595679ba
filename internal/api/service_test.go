package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smazurov/camgraph/internal/api/models"
	"github.com/smazurov/camgraph/internal/systemd"
)

type fakeService struct {
	restarts int
	err      error
}

func (f *fakeService) Unit() string { return "camgraph.service" }

func (f *fakeService) Status(context.Context) (systemd.UnitStatus, error) {
	if f.err != nil {
		return systemd.UnitStatus{}, f.err
	}
	return systemd.UnitStatus{Unit: f.Unit(), ActiveState: "active", SubState: "running"}, nil
}

func (f *fakeService) Restart(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.restarts++
	return nil
}

func newServiceServer(t *testing.T, svc ServiceController) *httptest.Server {
	t.Helper()
	srv := NewServer(&Options{AuthUsername: testUser, AuthPassword: testPass, Service: svc})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestServiceStatus(t *testing.T) {
	ts := newServiceServer(t, &fakeService{})

	if resp := do(t, http.MethodGet, ts.URL+"/api/service/status", nil, false); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", resp.StatusCode)
	}

	resp := do(t, http.MethodGet, ts.URL+"/api/service/status", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	st := decode[systemd.UnitStatus](t, resp)
	if st.ActiveState != "active" || st.SubState != "running" {
		t.Errorf("Unexpected status %+v", st)
	}
}

func TestServiceRestart(t *testing.T) {
	svc := &fakeService{}
	ts := newServiceServer(t, svc)

	resp := do(t, http.MethodPost, ts.URL+"/api/service/restart", nil, true)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	action := decode[models.ServiceAction](t, resp)
	if !action.Success || action.Action != "restart" || svc.restarts != 1 {
		t.Errorf("Unexpected action %+v after %d restarts", action, svc.restarts)
	}
}

func TestServiceErrors(t *testing.T) {
	ts := newServiceServer(t, &fakeService{err: errors.New("no bus")})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/service/status"},
		{http.MethodPost, "/api/service/restart"},
	} {
		if resp := do(t, tc.method, ts.URL+tc.path, nil, true); resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("%s %s: expected 500, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestServiceRoutesAbsentWithoutController(t *testing.T) {
	ts := newServiceServer(t, nil)
	if resp := do(t, http.MethodGet, ts.URL+"/api/service/status", nil, true); resp.StatusCode < http.StatusBadRequest {
		t.Errorf("Expected an error status without a controller, got %d", resp.StatusCode)
	}
}
