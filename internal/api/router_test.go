package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kalambet/rat/internal/backend"
)

// upstreamCall is one request seen by the fake backend.
type upstreamCall struct {
	Method string
	Path   string
	Body   string
	Accept string
}

// fakeBackend records calls and answers with a per-path handler, or 200 {}.
type fakeBackend struct {
	mu     sync.Mutex
	calls  []upstreamCall
	routes map[string]http.HandlerFunc
	srv    *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{routes: make(map[string]http.HandlerFunc)}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		fb.mu.Lock()
		fb.calls = append(fb.calls, upstreamCall{Method: r.Method, Path: r.URL.Path, Body: string(b), Accept: r.Header.Get("Accept")})
		h, ok := fb.routes[r.Method+" "+r.URL.Path]
		fb.mu.Unlock()
		if ok {
			h(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) on(method, path string, h http.HandlerFunc) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.routes[method+" "+path] = h
}

func (fb *fakeBackend) callCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.calls)
}

func (fb *fakeBackend) lastCall(t *testing.T) upstreamCall {
	t.Helper()
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.calls) == 0 {
		t.Fatal("backend was not called")
	}
	return fb.calls[len(fb.calls)-1]
}

func jsonReply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func setupHandler(t *testing.T, mutate ...func(*Deps)) (http.Handler, *fakeBackend) {
	t.Helper()
	fb := newFakeBackend(t)
	deps := Deps{
		Backend: backend.NewClient(fb.srv.URL, backend.WithTimeouts(2*time.Second, 2*time.Second)),
		Metrics: NewMetrics(prometheus.NewRegistry()),
	}
	for _, m := range mutate {
		m(&deps)
	}
	return NewHandler(deps), fb
}

func do(h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var eb errorBody
	if err := json.NewDecoder(rr.Body).Decode(&eb); err != nil {
		t.Fatalf("decoding error body %q: %v", rr.Body.String(), err)
	}
	return eb
}

func TestHealth(t *testing.T) {
	h, fb := setupHandler(t)

	rr := do(h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
	if rr.Header().Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}
	if fb.callCount() != 0 {
		t.Error("health must not call the backend")
	}
}

func TestRequestIDEchoed(t *testing.T) {
	h, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(requestIDHeader); got != "abc-123" {
		t.Errorf("X-Request-Id = %q, want abc-123", got)
	}
}

func TestListProjects_RelaysBody(t *testing.T) {
	h, fb := setupHandler(t)
	fb.on(http.MethodGet, "/projects", jsonReply(http.StatusOK, `[{"id":1,"name":"Shop"}]`))

	rr := do(h, http.MethodGet, "/api/projects", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != `[{"id":1,"name":"Shop"}]` {
		t.Errorf("body = %s", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if c := fb.lastCall(t); c.Accept != "application/json" {
		t.Errorf("upstream Accept = %q", c.Accept)
	}
}

func TestCreateProject_RequiresFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty name", `{"name":"","description":"d"}`},
		{"empty description", `{"name":"n","description":""}`},
		{"whitespace", `{"name":"  ","description":" "}`},
		{"missing both", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, fb := setupHandler(t)

			rr := do(h, http.MethodPost, "/api/projects", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			if eb := decodeError(t, rr); eb.Error != "Name and description are required" {
				t.Errorf("error = %q", eb.Error)
			}
			if fb.callCount() != 0 {
				t.Errorf("backend called %d times, want 0", fb.callCount())
			}
		})
	}
}

func TestCreateProject_Forwards(t *testing.T) {
	h, fb := setupHandler(t)
	fb.on(http.MethodPost, "/projects", jsonReply(http.StatusCreated, `{"id":9}`))

	rr := do(h, http.MethodPost, "/api/projects", `{"name":" Shop ","description":"Online store"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	c := fb.lastCall(t)
	if c.Body != `{"name":"Shop","description":"Online store"}` {
		t.Errorf("upstream body = %s", c.Body)
	}
}

func TestMalformedJSON(t *testing.T) {
	h, fb := setupHandler(t)

	rr := do(h, http.MethodPost, "/api/projects", `{"name":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if fb.callCount() != 0 {
		t.Error("backend must not be called")
	}
}

func TestInvalidPathID(t *testing.T) {
	h, fb := setupHandler(t)

	for _, path := range []string{"/api/projects/abc", "/api/projects/0", "/api/projects/-3"} {
		rr := do(h, http.MethodGet, path, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rr.Code)
		}
	}
	if fb.callCount() != 0 {
		t.Error("backend must not be called for invalid ids")
	}
}

func TestBackendErrorNormalized(t *testing.T) {
	h, fb := setupHandler(t)
	fb.on(http.MethodGet, "/projects/7", jsonReply(http.StatusNotFound, `{"message":"Project not found","statusCode":404}`))

	rr := do(h, http.MethodGet, "/api/projects/7", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	eb := decodeError(t, rr)
	if eb.Error != "Project not found" {
		t.Errorf("error = %q", eb.Error)
	}
	if !strings.Contains(string(eb.Details), `"statusCode":404`) {
		t.Errorf("details = %s", eb.Details)
	}
}

func TestTransportErrorIs500(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	h, _ := setupHandler(t, func(d *Deps) { d.Backend = backend.NewClient(url) })

	rr := do(h, http.MethodGet, "/api/projects", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if eb := decodeError(t, rr); eb.Error == "" {
		t.Error("expected transport error text")
	}
}

func TestCreateApp_ForwardsNameAndTypeOnly(t *testing.T) {
	h, fb := setupHandler(t)

	rr := do(h, http.MethodPost, "/api/projects/3/apps", `{"name":"Web","type":"USER_WEB","description":"ignored"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	c := fb.lastCall(t)
	if c.Path != "/projects/3/apps" {
		t.Errorf("path = %s", c.Path)
	}
	if c.Body != `{"name":"Web","type":"USER_WEB"}` {
		t.Errorf("upstream body = %s", c.Body)
	}
}

func TestCreateApp_RequiresNameAndType(t *testing.T) {
	h, fb := setupHandler(t)

	rr := do(h, http.MethodPost, "/api/projects/3/apps", `{"name":"Web"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if eb := decodeError(t, rr); eb.Error != "Name and type are required" {
		t.Errorf("error = %q", eb.Error)
	}
	if fb.callCount() != 0 {
		t.Error("backend must not be called")
	}
}

func TestDeleteApp_SuccessBody(t *testing.T) {
	h, fb := setupHandler(t)
	fb.on(http.MethodDelete, "/apps/4", jsonReply(http.StatusOK, `{"affected":1}`))

	rr := do(h, http.MethodDelete, "/api/apps/4", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body successBody
	json.NewDecoder(rr.Body).Decode(&body)
	if !body.Success || body.Message != "App deleted successfully" {
		t.Errorf("body = %+v", body)
	}
}

func TestCreateFeature_DefaultsCollections(t *testing.T) {
	h, fb := setupHandler(t)

	rr := do(h, http.MethodPost, "/api/apps/5/features", `{"name":"Login","description":"Email login"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var sent map[string]json.RawMessage
	if err := json.Unmarshal([]byte(fb.lastCall(t).Body), &sent); err != nil {
		t.Fatal(err)
	}
	if string(sent["attachments"]) != "[]" || string(sent["features"]) != "[]" {
		t.Errorf("upstream body = %s", fb.lastCall(t).Body)
	}
}

func TestCreateFeature_RequiresFields(t *testing.T) {
	h, fb := setupHandler(t)

	rr := do(h, http.MethodPost, "/api/apps/5/features", `{"name":"Login"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if fb.callCount() != 0 {
		t.Error("backend must not be called")
	}
}

func TestUpdateFeature_ForwardsPatch(t *testing.T) {
	h, fb := setupHandler(t)

	rr := do(h, http.MethodPatch, "/api/apps/5/features/8", `{"order_index":3,"extra":"kept"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	c := fb.lastCall(t)
	if c.Method != http.MethodPatch || c.Path != "/apps/5/features/8" {
		t.Errorf("call = %+v", c)
	}
	if !strings.Contains(c.Body, `"extra":"kept"`) {
		t.Errorf("unknown fields dropped: %s", c.Body)
	}

	rr = do(h, http.MethodPatch, "/api/apps/5/features/8", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty patch status = %d, want 400", rr.Code)
	}
}

func TestUpdateFeature_ForwardsAnyPartialFeature(t *testing.T) {
	bodies := []string{
		`{"parent_feature_id":null}`,
		`{"code":"F-9"}`,
		`{"related_features":[]}`,
	}
	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			h, fb := setupHandler(t)

			rr := do(h, http.MethodPatch, "/api/apps/1/features/2", body)
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
			}
			c := fb.lastCall(t)
			if c.Path != "/apps/1/features/2" || c.Body != body {
				t.Errorf("call = %+v, want body %s forwarded", c, body)
			}
		})
	}
}

func TestUpdateFeature_BlankNameRejected(t *testing.T) {
	h, fb := setupHandler(t)

	for _, body := range []string{`{"name":"  "}`, `{"name":null}`, `[]`} {
		rr := do(h, http.MethodPatch, "/api/apps/1/features/2", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rr.Code)
		}
	}
	if fb.callCount() != 0 {
		t.Error("backend must not be called")
	}
}

func TestDeleteFeature_SuccessBody(t *testing.T) {
	h, _ := setupHandler(t)

	rr := do(h, http.MethodDelete, "/api/apps/5/features/8", "")
	var body successBody
	json.NewDecoder(rr.Body).Decode(&body)
	if !body.Success || body.Message != "Feature deleted successfully" {
		t.Errorf("body = %+v", body)
	}
}

func TestRelatedTree_CachedAndEvicted(t *testing.T) {
	h, fb := setupHandler(t, func(d *Deps) { d.Related = NewRelatedCache(time.Minute) })
	fb.on(http.MethodGet, "/apps/5/features/related-tree", jsonReply(http.StatusOK, `[{"app_id":6}]`))

	countTree := func() int {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		n := 0
		for _, c := range fb.calls {
			if c.Path == "/apps/5/features/related-tree" {
				n++
			}
		}
		return n
	}

	first := do(h, http.MethodGet, "/api/apps/5/features/related-tree", "")
	second := do(h, http.MethodGet, "/api/apps/5/features/related-tree", "")
	if first.Header().Get("X-Cache") != "MISS" || second.Header().Get("X-Cache") != "HIT" {
		t.Errorf("X-Cache = %q, %q", first.Header().Get("X-Cache"), second.Header().Get("X-Cache"))
	}
	if second.Body.String() != `[{"app_id":6}]` {
		t.Errorf("cached body = %s", second.Body.String())
	}
	if countTree() != 1 {
		t.Fatalf("upstream tree calls = %d, want 1", countTree())
	}

	do(h, http.MethodPost, "/api/apps/5/features", `{"name":"a","description":"b"}`)
	do(h, http.MethodGet, "/api/apps/5/features/related-tree", "")
	if countTree() != 2 {
		t.Errorf("upstream tree calls after write = %d, want 2", countTree())
	}
}

func TestRelatedTree_FlushedByOtherAppsFeatureWrite(t *testing.T) {
	h, fb := setupHandler(t, func(d *Deps) { d.Related = NewRelatedCache(time.Minute) })

	var mu sync.Mutex
	name := "old"
	fb.on(http.MethodGet, "/apps/2/features/related-tree", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[{"app_id":1,"features":[{"id":5,"name":%q}]}]`, name)
	})

	if rr := do(h, http.MethodGet, "/api/apps/2/features/related-tree", ""); rr.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first read X-Cache = %q", rr.Header().Get("X-Cache"))
	}

	mu.Lock()
	name = "renamed"
	mu.Unlock()
	if rr := do(h, http.MethodPatch, "/api/apps/1/features/5", `{"name":"renamed"}`); rr.Code != http.StatusOK {
		t.Fatalf("patch status = %d", rr.Code)
	}

	rr := do(h, http.MethodGet, "/api/apps/2/features/related-tree", "")
	if rr.Header().Get("X-Cache") != "MISS" {
		t.Errorf("X-Cache = %q, want MISS after a feature write in app 1", rr.Header().Get("X-Cache"))
	}
	if !strings.Contains(rr.Body.String(), `"renamed"`) {
		t.Errorf("body = %s, want fresh tree", rr.Body.String())
	}
}

func TestRelatedTree_ErrorsNotCached(t *testing.T) {
	h, fb := setupHandler(t, func(d *Deps) { d.Related = NewRelatedCache(time.Minute) })
	fb.on(http.MethodGet, "/apps/5/features/related-tree", jsonReply(http.StatusBadGateway, `{"message":"down"}`))

	do(h, http.MethodGet, "/api/apps/5/features/related-tree", "")
	rr := do(h, http.MethodGet, "/api/apps/5/features/related-tree", "")
	if rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d", rr.Code)
	}
	if fb.callCount() != 2 {
		t.Errorf("upstream calls = %d, want 2", fb.callCount())
	}
}

func TestThreadTestCases_Binary(t *testing.T) {
	h, fb := setupHandler(t)
	payload := "PK\x03\x04workbook"
	fb.on(http.MethodGet, "/projects/2/requirement-analyze/threads/t-9/test-cases", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", backend.XLSXContentType)
		w.Write([]byte(payload))
	})

	rr := do(h, http.MethodGet, "/api/projects/2/requirement-analyze/threads/t-9/test-cases", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != backend.XLSXContentType {
		t.Errorf("Content-Type = %q", rr.Header().Get("Content-Type"))
	}
	if cd := rr.Header().Get("Content-Disposition"); cd != `attachment; filename="testcases_t-9.xlsx"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if rr.Body.String() != payload {
		t.Error("binary body altered")
	}
	if fb.lastCall(t).Accept != backend.XLSXContentType {
		t.Errorf("upstream Accept = %q", fb.lastCall(t).Accept)
	}
}

func TestAppTestCases_FileName(t *testing.T) {
	h, _ := setupHandler(t)

	rr := do(h, http.MethodGet, "/api/projects/2/requirement-analyze/test-cases/11", "")
	if cd := rr.Header().Get("Content-Disposition"); cd != `attachment; filename="testcases_app_11.xlsx"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestAnalyze_NewAndContinue(t *testing.T) {
	h, fb := setupHandler(t)

	rr := do(h, http.MethodPost, "/api/projects/2/requirement-analyze", `{"text":"users log in"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if c := fb.lastCall(t); c.Path != "/projects/2/requirement-analyze" || c.Body != `{"text":"users log in"}` {
		t.Errorf("call = %+v", c)
	}

	rr = do(h, http.MethodPost, "/api/projects/2/requirement-analyze/t-1", `{"text":"and SSO?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if c := fb.lastCall(t); c.Path != "/projects/2/requirement-analyze/t-1" {
		t.Errorf("path = %s", c.Path)
	}
}

func TestAnalyze_RequiresText(t *testing.T) {
	h, fb := setupHandler(t)

	rr := do(h, http.MethodPost, "/api/projects/2/requirement-analyze", `{"text":"   "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if fb.callCount() != 0 {
		t.Error("backend must not be called")
	}
}

func TestAnalyze_RateLimited(t *testing.T) {
	h, fb := setupHandler(t, func(d *Deps) { d.Limiter = NewAnalyzeLimiter(1) })

	var codes []int
	for i := 0; i < analyzeBurst+1; i++ {
		rr := do(h, http.MethodPost, "/api/projects/2/requirement-analyze", `{"text":"x"}`)
		codes = append(codes, rr.Code)
	}
	if codes[analyzeBurst] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want last 429", codes)
	}
	if fb.callCount() != analyzeBurst {
		t.Errorf("upstream calls = %d, want %d", fb.callCount(), analyzeBurst)
	}

	// Limits are per project.
	if rr := do(h, http.MethodPost, "/api/projects/3/requirement-analyze", `{"text":"x"}`); rr.Code != http.StatusOK {
		t.Errorf("other project status = %d", rr.Code)
	}
}

func TestAnalyze_PublishesLifecycle(t *testing.T) {
	hub := NewEventHub()
	events, unsubscribe := hub.Subscribe(2)
	defer unsubscribe()

	h, fb := setupHandler(t, func(d *Deps) { d.Events = hub })
	fb.on(http.MethodPost, "/projects/2/requirement-analyze", jsonReply(http.StatusOK, `{"thread_id":"t-new","threads":[]}`))

	do(h, http.MethodPost, "/api/projects/2/requirement-analyze", `{"text":"x"}`)

	var got []EventStatus
	var last Event
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			got = append(got, ev.Status)
			last = ev
		case <-time.After(time.Second):
			t.Fatalf("timed out after events %v", got)
		}
	}
	want := []EventStatus{EventSending, EventAnalyzing, EventCompleted}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if last.ThreadID != "t-new" {
		t.Errorf("completed thread = %q", last.ThreadID)
	}
}

func TestRecoverer(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if eb := decodeError(t, rr); eb.Error != "internal server error" {
		t.Errorf("error = %q", eb.Error)
	}
}

func TestMetricsExposed(t *testing.T) {
	h, _ := setupHandler(t)

	do(h, http.MethodGet, "/api/projects", "")
	rr := do(h, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `rat_proxy_requests_total{method="GET",route="/api/projects",status="200"} 1`) {
		t.Errorf("request counter missing:\n%s", body)
	}
}
