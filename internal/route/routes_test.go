package route

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"attendance/internal/logger"
	"attendance/internal/middleware"
	"attendance/internal/model"
	"attendance/internal/scan"
	"attendance/internal/service"
)

type stubFlows struct{}

func (stubFlows) Categories() []string { return []string{"AI"} }
func (stubFlows) StartFlow(context.Context, string) (scan.Snapshot, error) {
	return scan.Snapshot{State: scan.Scanning}, nil
}
func (stubFlows) Rescan(context.Context) (scan.Snapshot, error) { return scan.Snapshot{}, service.ErrNoFlow }
func (stubFlows) Next(context.Context) (scan.Snapshot, error)   { return scan.Snapshot{}, service.ErrNoFlow }
func (stubFlows) StopFlow(context.Context) error                { return service.ErrNoFlow }
func (stubFlows) Status() service.FlowStatus                    { return service.FlowStatus{} }
func (stubFlows) ReloadModel() error                            { return nil }

type stubLister struct{}

func (stubLister) List(context.Context, model.AttendanceFilter) ([]model.AttendanceEntry, error) {
	return nil, nil
}

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

func setupTestRouter(t *testing.T) http.Handler {
	t.Helper()

	staticDir, err := os.MkdirTemp("", "static-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(staticDir) })

	if err := os.WriteFile(filepath.Join(staticDir, "login.html"), []byte("<form>login</form>"), 0644); err != nil {
		t.Fatalf("Failed to write page: %v", err)
	}

	return SetupRoutes(Deps{
		Password:   "secret",
		LogDir:     staticDir,
		StaticDir:  staticDir,
		Categories: []string{"AI"},
		Flows:      stubFlows{},
		Attendance: stubLister{},
		DB:         stubPinger{},
		Logger:     logger.NewDiscard(),
	})
}

func serve(h http.Handler, method, path string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authed {
		req.AddCookie(&http.Cookie{Name: middleware.CookieName, Value: middleware.Token("secret")})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_RequireAuth(t *testing.T) {
	h := setupTestRouter(t)

	if rec := serve(h, http.MethodGet, "/api/flow/status", false); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/api/flow/status", true); rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/healthz", false); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", rec.Code)
	}
}

func TestRoutes_FlowEndpoints(t *testing.T) {
	h := setupTestRouter(t)

	if rec := serve(h, http.MethodPost, "/api/flow/stop", true); rec.Code != http.StatusNotFound {
		t.Errorf("stop without flow = %d, want 404", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/api/flow/stop", true); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET stop = %d, want 405", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/api/attendance?date=bad", true); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date = %d, want 400", rec.Code)
	}
}

func TestRoutes_Pages(t *testing.T) {
	h := setupTestRouter(t)

	rec := serve(h, http.MethodGet, "/login", false)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "login") {
		t.Errorf("/login = %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve(h, http.MethodGet, "/settings", true); rec.Code != http.StatusNotFound {
		t.Errorf("missing page = %d, want 404", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/", false); rec.Code != http.StatusSeeOther {
		t.Errorf("index without cookie = %d, want 303", rec.Code)
	}
}
