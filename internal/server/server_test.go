package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banux/nxt-media/internal/media"
	"github.com/banux/nxt-media/internal/mediacache"
	"github.com/banux/nxt-media/internal/routes"
	"github.com/banux/nxt-media/internal/uploads"
)

// testEnv bundles the services behind a test server.
type testEnv struct {
	srv     *Server
	routes  *routes.Table
	uploads *uploads.Store
	cache   *mediacache.Cache
	dir     string
}

func newTestServer(t *testing.T, opts Options) *testEnv {
	t.Helper()
	dir := t.TempDir()
	table := routes.New(filepath.Join(dir, "routes.json"))
	store, err := uploads.New(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatalf("uploads.New: %v", err)
	}
	cache := mediacache.New(nil, store, mediacache.Options{})
	srv, err := New(table, cache, store, opts)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return &testEnv{srv: srv, routes: table, uploads: store, cache: cache, dir: dir}
}

// writeMedia creates a file under the test dir and returns its path.
func (e *testEnv) writeMedia(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(e.dir, "media", name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatalf("write %q: %v", p, err)
	}
	return p
}

func (e *testEnv) do(method, target string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.srv.ServeHTTP(rr, req)
	return rr
}

func decodeResult(t *testing.T, rr *httptest.ResponseRecorder) result {
	t.Helper()
	var res result
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("decode result: %v (body %q)", err, rr.Body.String())
	}
	return res
}

// ---- CORS ----

func TestCORS_HeadersOnEveryResponse(t *testing.T) {
	env := newTestServer(t, Options{})
	for _, target := range []string{"/", "/api/routes", "/api/media", "/nope"} {
		rr := env.do(http.MethodGet, target, nil, nil)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("%s: Access-Control-Allow-Origin: got %q, want *", target, got)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestServer(t, Options{})
	rr := env.do(http.MethodOptions, "/api/routes", nil, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "DELETE") {
		t.Errorf("Allow-Methods missing DELETE: %q", rr.Header().Get("Access-Control-Allow-Methods"))
	}
}

// ---- panic recovery ----

// panickyRoutes is a RouteTable whose every method panics.
type panickyRoutes struct{}

func (panickyRoutes) Add(media.Route) error          { panic("boom") }
func (panickyRoutes) Update(media.Route) error       { panic("boom") }
func (panickyRoutes) Delete(string) error            { panic("boom") }
func (panickyRoutes) Get(string) (media.Route, bool) { panic("boom") }
func (panickyRoutes) List() []media.Route            { panic("boom") }
func (panickyRoutes) Invalidate()                    { panic("boom") }

type emptyCache struct{}

func (emptyCache) List(context.Context, bool) []media.File           { return nil }
func (emptyCache) Lookup(context.Context, string) (media.File, bool) { return media.File{}, false }
func (emptyCache) Invalidate()                                       {}

func TestRecover_PanicBecomes500AndServerKeepsServing(t *testing.T) {
	srv, err := New(panickyRoutes{}, emptyCache{}, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/routes", nil))
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("call %d: expected 500, got %d", i, rr.Code)
		}
		res := decodeResult(t, rr)
		if res.Success || !strings.Contains(res.Message, "boom") {
			t.Errorf("call %d: unexpected body %+v", i, res)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("call %d: CORS header missing on 500", i)
		}
	}

	// Endpoints that do not touch the route table are unaffected.
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/media", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("/api/media after panic: got %d, want 200", rr.Code)
	}
}

// ---- dispatch precedence ----

func TestDispatch_RouteNamedMediaWinsOverPrefix(t *testing.T) {
	env := newTestServer(t, Options{})
	target := env.writeMedia(t, "cat.jpg", []byte("jpeg-bytes"))
	if err := env.routes.Add(media.Route{Name: "media", TargetPath: target, DisplayName: "Cat", Kind: media.Image}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	rr := env.do(http.MethodGet, "/media?file=1", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "jpeg-bytes" {
		t.Errorf("body: got %q, want route target bytes", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type: got %q, want image/jpeg", ct)
	}
}

func TestDispatch_APIPathsBeatRouteNames(t *testing.T) {
	env := newTestServer(t, Options{})
	target := env.writeMedia(t, "x.jpg", []byte("x"))
	if err := env.routes.Add(media.Route{Name: "api/routes", TargetPath: target}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	rr := env.do(http.MethodGet, "/api/routes", nil, nil)
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want the JSON route listing", ct)
	}
}

func TestDispatch_RouteViewerVsRaw(t *testing.T) {
	env := newTestServer(t, Options{})
	target := env.writeMedia(t, "clip.mp4", []byte("mp4-bytes"))
	if err := env.routes.Add(media.Route{Name: "clip", TargetPath: target, DisplayName: "My Clip", Kind: media.Video}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Browser navigation gets the viewer page.
	rr := env.do(http.MethodGet, "/clip", nil, map[string]string{"Accept": "text/html,video/*"})
	if rr.Code != http.StatusOK {
		t.Fatalf("viewer: expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("viewer Content-Type: got %q", ct)
	}
	page := rr.Body.String()
	if !strings.Contains(page, "<video") || !strings.Contains(page, `src="/clip?file=1"`) {
		t.Errorf("viewer page missing video element pointing at raw bytes: %s", page)
	}

	// A media element asking for video gets the bytes.
	rr = env.do(http.MethodGet, "/clip", nil, map[string]string{"Accept": "video/webm,video/*;q=0.9"})
	if rr.Body.String() != "mp4-bytes" {
		t.Errorf("raw via Accept: got %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("raw Content-Type: got %q, want video/mp4", ct)
	}
}

func TestDispatch_UnknownKindRoute(t *testing.T) {
	env := newTestServer(t, Options{})
	target := env.writeMedia(t, "notes.bin", []byte("blob"))
	if err := env.routes.Add(media.Route{Name: "notes", TargetPath: target, DisplayName: "notes.bin"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	rr := env.do(http.MethodGet, "/notes?file=1", nil, nil)
	if ct := rr.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("Content-Type: got %q, want application/octet-stream", ct)
	}

	rr = env.do(http.MethodGet, "/notes", nil, nil)
	if !strings.Contains(rr.Body.String(), "download") {
		t.Errorf("viewer for unknown kind should offer a download link: %s", rr.Body.String())
	}
}

func TestDispatch_VideoRouteWithUnknownExtension(t *testing.T) {
	env := newTestServer(t, Options{})
	target := env.writeMedia(t, "clip.xyz", []byte("v"))
	if err := env.routes.Add(media.Route{Name: "v", TargetPath: target, Kind: media.Video}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	rr := env.do(http.MethodGet, "/v?file=1", nil, nil)
	if ct := rr.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type: got %q, want video/mp4", ct)
	}
}

func TestDispatch_MediaAliasAndNested(t *testing.T) {
	env := newTestServer(t, Options{})
	if _, err := env.uploads.Save("a.png", []byte("png")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rr := env.do(http.MethodGet, "/media/uploads/a.png", nil, nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "png" {
		t.Fatalf("media alias: got %d %q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type: got %q, want image/png", ct)
	}

	// Nested path without the media prefix falls back to a cache lookup.
	rr = env.do(http.MethodGet, "/uploads/a.png", nil, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("nested fallback: got %d, want 200", rr.Code)
	}
}

func TestDispatch_NotFound(t *testing.T) {
	env := newTestServer(t, Options{})
	for _, target := range []string{"/missing", "/media", "/media/uploads/none.jpg", "/a/b/c"} {
		rr := env.do(http.MethodGet, target, nil, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, rr.Code)
		}
	}
}

func TestDispatch_RouteTargetMissing(t *testing.T) {
	env := newTestServer(t, Options{})
	if err := env.routes.Add(media.Route{Name: "gone", TargetPath: filepath.Join(env.dir, "gone.jpg"), Kind: media.Image}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	rr := env.do(http.MethodGet, "/gone?file=1", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestDispatch_WrongMethodOnAPI(t *testing.T) {
	env := newTestServer(t, Options{})
	rr := env.do(http.MethodPut, "/api/upload", nil, nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

// ---- index ----

func TestIndex_ListsRoutesWithNoCache(t *testing.T) {
	env := newTestServer(t, Options{})
	if err := env.routes.Add(media.Route{Name: "holiday", TargetPath: "/x/h.jpg", DisplayName: "Holiday", Kind: media.Image}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	rr := env.do(http.MethodGet, "/", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `href="/holiday"`) {
		t.Errorf("index missing route link")
	}
	if got := rr.Header().Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Errorf("Cache-Control: got %q", got)
	}
	if got := rr.Header().Get("Expires"); got != "0" {
		t.Errorf("Expires: got %q, want 0", got)
	}
}

// ---- health ----

func TestHealth(t *testing.T) {
	env := newTestServer(t, Options{})
	rr := env.do(http.MethodGet, "/api/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != `{"status":"ok"}` {
		t.Errorf("body: got %q", body)
	}
}
