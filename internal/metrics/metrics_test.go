package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func scrape(t *testing.T) string {
	t.Helper()
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("scrape: got %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMiddleware_LabelsByRouteName(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Middleware)
	r.HandleFunc("/api/thing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Name("test.thing")

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/thing", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status not passed through: got %d", rr.Code)
	}

	out := scrape(t)
	want := `nxtmedia_http_requests_total{method="GET",route="test.thing",status="418"} 1`
	if !strings.Contains(out, want) {
		t.Errorf("metrics output missing %q", want)
	}
}

func TestRecorders(t *testing.T) {
	RecordUpload(10, true)
	RecordUpload(0, false)
	RecordCachePopulation(3, true)
	SetRoutes(7)

	out := scrape(t)
	for _, want := range []string{
		`nxtmedia_uploads_total{status="error"}`,
		`nxtmedia_uploads_total{status="success"}`,
		`nxtmedia_media_cache_populations_total{result="degraded"}`,
		"nxtmedia_media_cache_entries 3",
		"nxtmedia_routes 7",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
