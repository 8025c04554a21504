package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/smartboot"
	"github.com/hazyhaar/smartboot/internal/config"
	"github.com/hazyhaar/smartboot/internal/dbopen"
	"github.com/hazyhaar/smartboot/internal/store"
)

// remote serves a page under /page.html and a control script that
// finishes immediately under /j.php.
func remote(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head></head><body>qa</body></html>`))
	})
	mux.HandleFunc("/j.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`window._vwo_code.finish();`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newServer(t *testing.T, withStore bool) (http.Handler, *httptest.Server) {
	t.Helper()
	site := remote(t)
	cfg := config.Default()
	cfg.Loader.Host = site.URL

	var opts []smartboot.ProberOption
	var runs smartboot.RunReader
	if withStore {
		db := dbopen.OpenMemory(t)
		if _, err := db.Exec(store.Schema); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
		s := &store.Store{DB: db}
		opts = append(opts, smartboot.WithSinks(s))
		runs = s
	}
	p := smartboot.New(cfg, nil, opts...)
	t.Cleanup(func() { p.Close() })
	return New(p, runs, nil).Handler(), site
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth_Headers(t *testing.T) {
	h, _ := newServer(t, false)
	w := do(t, h, http.MethodHead, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	checks := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "no-referrer",
	}
	for header, want := range checks {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s: got %q, want %q", header, got, want)
		}
	}
	if id := w.Header().Get("X-Request-ID"); !strings.HasPrefix(id, "req_") {
		t.Errorf("X-Request-ID: got %q", id)
	}
}

func TestRequestID_Reused(t *testing.T) {
	h, _ := newServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("X-Request-ID: got %q, want abc123", got)
	}
}

func TestResolve(t *testing.T) {
	h, site := newServer(t, false)
	w := do(t, h, http.MethodGet, "/api/resolve?url=https%3A%2F%2Fqa.example.com%2F%3Fid%3D42&cookie=_vis_opt_exp_1_combi%3D2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", w.Code, w.Body)
	}
	var r smartboot.Resolution
	if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
		t.Fatal(err)
	}
	if r.Config.AccountID != "42" || r.Token != "1-2" {
		t.Errorf("resolution: %+v", r)
	}
	if !strings.HasPrefix(r.RequestTarget, site.URL+"/j.php?a=42&") {
		t.Errorf("RequestTarget: %q", r.RequestTarget)
	}

	if w := do(t, h, http.MethodGet, "/api/resolve", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing url: got %d", w.Code)
	}
}

func TestCombination_FromRequestCookies(t *testing.T) {
	h, _ := newServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/combination", nil)
	req.AddCookie(&http.Cookie{Name: "_vis_opt_exp_12_combi", Value: "1,2"})
	req.AddCookie(&http.Cookie{Name: "other", Value: "x"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var got map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["token"] != "12-1,2" {
		t.Errorf("token: got %q", got["token"])
	}
}

// navigate issues /api/navigate as if the API were served on host.
func navigate(t *testing.T, h http.Handler, host, current, href string) *httptest.ResponseRecorder {
	t.Helper()
	q := url.Values{"current": {current}, "href": {href}}
	req := httptest.NewRequest(http.MethodGet, "/api/navigate?"+q.Encode(), nil)
	req.Host = host
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNavigate(t *testing.T) {
	h, _ := newServer(t, false)

	w := navigate(t, h, "qa.example.com", "https://qa.example.com/?id=7", "#forms")
	if w.Code != http.StatusFound {
		t.Fatalf("status: got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://qa.example.com/?id=7#forms" {
		t.Errorf("Location: got %q", loc)
	}

	w = navigate(t, h, "qa.example.com", "https://qa.example.com/", "#forms")
	if w.Code != http.StatusOK {
		t.Fatalf("plain: status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"rewritten":false`) {
		t.Errorf("plain body: %s", w.Body)
	}
}

func TestNavigate_OtherHostNotRedirected(t *testing.T) {
	h, _ := newServer(t, false)
	tests := []struct {
		name, host, current string
	}{
		{"foreign host", "smartboot.local", "https://evil.example/phish?id=1"},
		{"no host", "smartboot.local", "/local?id=1"},
		{"other scheme", "smartboot.local", "ftp://smartboot.local/?id=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := navigate(t, h, tt.host, tt.current, "#x")
			if w.Code != http.StatusOK {
				t.Fatalf("status: got %d, want 200 (Location %q)", w.Code, w.Header().Get("Location"))
			}
			if loc := w.Header().Get("Location"); loc != "" {
				t.Errorf("Location set: %q", loc)
			}
			var got struct {
				Target    string `json:"target"`
				Rewritten bool   `json:"rewritten"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("body: %v: %s", err, w.Body)
			}
			if !got.Rewritten || got.Target == "" {
				t.Errorf("body: %+v", got)
			}
		})
	}
}

func TestProbeAndRuns(t *testing.T) {
	h, site := newServer(t, true)

	w := do(t, h, http.MethodPost, "/api/probe", `{"url":"`+site.URL+`/page.html?id=9"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("probe status: got %d: %s", w.Code, w.Body)
	}
	var o smartboot.Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &o); err != nil {
		t.Fatal(err)
	}
	if o.Trigger != "completion" || o.AccountID != "9" {
		t.Errorf("outcome: %+v", o)
	}

	w = do(t, h, http.MethodGet, "/api/runs?limit=5", "")
	var list []smartboot.Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("runs: %v: %s", err, w.Body)
	}
	if len(list) != 1 || list[0].RunID != o.RunID {
		t.Errorf("runs: %+v", list)
	}

	if w := do(t, h, http.MethodGet, "/api/runs/"+o.RunID, ""); w.Code != http.StatusOK {
		t.Errorf("get run: status %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/runs/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing run: status %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/stats", "")
	var stats struct {
		Triggers map[string]int `json:"triggers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("stats: %v: %s", err, w.Body)
	}
	if stats.Triggers["completion"] != 1 {
		t.Errorf("stats: %+v", stats.Triggers)
	}
}

func TestProbe_BadRequests(t *testing.T) {
	h, _ := newServer(t, false)
	tests := []struct {
		name, body string
		want       int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"no url", `{}`, http.StatusBadRequest},
		{"unknown driver", `{"url":"https://qa.example.com/","driver":"lynx"}`, http.StatusBadRequest},
		{"unreachable", `{"url":"http://127.0.0.1:1/"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			req := httptest.NewRequest(http.MethodPost, "/api/probe", strings.NewReader(tt.body)).WithContext(ctx)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status: got %d, want %d (%s)", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestRuns_NoStore(t *testing.T) {
	h, _ := newServer(t, false)
	if w := do(t, h, http.MethodGet, "/api/runs", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d", w.Code)
	}
}
