package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubService struct {
	calls      []string
	lastAppID  string
	lastVer    string
	errStatus  int
	errMessage string
}

func (s *stubService) record(name string, w http.ResponseWriter) {
	s.calls = append(s.calls, name)
	w.WriteHeader(http.StatusOK)
}

func (s *stubService) ServeResolve(w http.ResponseWriter, _ *http.Request, appID, version string) {
	s.lastAppID, s.lastVer = appID, version
	s.record("resolve", w)
}
func (s *stubService) ServeList(w http.ResponseWriter, _ *http.Request)   { s.record("list", w) }
func (s *stubService) ServeCreate(w http.ResponseWriter, _ *http.Request) { s.record("create", w) }
func (s *stubService) ServeReplace(w http.ResponseWriter, _ *http.Request, appID, version string) {
	s.lastAppID, s.lastVer = appID, version
	s.record("replace", w)
}
func (s *stubService) ServeDelete(w http.ResponseWriter, _ *http.Request, appID, version string) {
	s.lastAppID, s.lastVer = appID, version
	s.record("delete", w)
}
func (s *stubService) ServeCompose(w http.ResponseWriter, _ *http.Request) { s.record("compose", w) }
func (s *stubService) ServeFromTemplate(w http.ResponseWriter, _ *http.Request) {
	s.record("from-template", w)
}
func (s *stubService) ServeTestConditions(w http.ResponseWriter, _ *http.Request) {
	s.record("test-conditions", w)
}
func (s *stubService) ServeHealth(w http.ResponseWriter, _ *http.Request) { s.record("health", w) }
func (s *stubService) WriteError(w http.ResponseWriter, status int, message string) {
	s.errStatus, s.errMessage = status, message
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}

func dispatch(t *testing.T, method, path string) (*stubService, *httptest.ResponseRecorder) {
	t.Helper()
	stub := &stubService{}
	handler := NewServiceHandler(stub)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(method, path, nil))
	return stub, recorder
}

func TestRouterDispatch(t *testing.T) {
	cases := []struct {
		method string
		path   string
		call   string
	}{
		{http.MethodGet, "/config", "list"},
		{http.MethodPost, "/config", "create"},
		{http.MethodGet, "/config/mobile-app/1.0.0", "resolve"},
		{http.MethodPut, "/config/mobile-app/1.0.0", "replace"},
		{http.MethodDelete, "/config/mobile-app/1.0.0", "delete"},
		{http.MethodPost, "/rules/compose", "compose"},
		{http.MethodPost, "/rules/from-template", "from-template"},
		{http.MethodPost, "/rules/test-conditions", "test-conditions"},
		{http.MethodGet, "/health", "health"},
		{http.MethodGet, "/healthz", "health"},
	}

	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			stub, recorder := dispatch(t, tc.method, tc.path)
			if len(stub.calls) != 1 || stub.calls[0] != tc.call {
				t.Fatalf("expected %s call, got %v", tc.call, stub.calls)
			}
			if recorder.Code != http.StatusOK {
				t.Fatalf("unexpected status %d", recorder.Code)
			}
		})
	}
}

func TestRouterPassesPathSegments(t *testing.T) {
	stub, _ := dispatch(t, http.MethodGet, "/config/my-app/2.3.4")
	if stub.lastAppID != "my-app" || stub.lastVer != "2.3.4" {
		t.Fatalf("path segments not forwarded: %q %q", stub.lastAppID, stub.lastVer)
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/config"},
		{http.MethodPost, "/config/app/1.0.0"},
		{http.MethodGet, "/rules/compose"},
		{http.MethodPost, "/health"},
	}
	for _, tc := range cases {
		stub, recorder := dispatch(t, tc.method, tc.path)
		if recorder.Code != http.StatusMethodNotAllowed || stub.errStatus != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected 405, got %d", tc.method, tc.path, recorder.Code)
		}
		if len(stub.calls) != 0 {
			t.Fatalf("%s %s: no handler should run, got %v", tc.method, tc.path, stub.calls)
		}
	}
}

func TestRouterNotFound(t *testing.T) {
	for _, path := range []string{"/", "/config/app", "/config/app/1.0.0/extra", "/rules/unknown", "/nope"} {
		stub, recorder := dispatch(t, http.MethodGet, path)
		if path == "/rules/unknown" {
			// POST-only subtree answers 405 for GET before path checks.
			if recorder.Code != http.StatusMethodNotAllowed {
				t.Fatalf("%s: expected 405, got %d", path, recorder.Code)
			}
			continue
		}
		if recorder.Code != http.StatusNotFound || stub.errStatus != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, recorder.Code)
		}
	}
}

func TestRouterNilService(t *testing.T) {
	handler := NewServiceHandler(nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/config", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil service must answer 503, got %d", recorder.Code)
	}
}
