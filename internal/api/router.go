package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kalambet/rat/internal/backend"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds the collaborators of the proxy routes. Only Backend is
// required; the rest get working defaults.
type Deps struct {
	Backend *backend.Client
	Logger  *slog.Logger
	Metrics *Metrics
	Related *RelatedCache
	Limiter *AnalyzeLimiter
	Events  *EventHub
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if d.Related == nil {
		d.Related = NewRelatedCache(0)
	}
	if d.Limiter == nil {
		d.Limiter = NewAnalyzeLimiter(0)
	}
	if d.Events == nil {
		d.Events = NewEventHub()
	}
	return d
}

// NewHandler returns the proxy API: every /api route forwards to the backend
// under the same path without the /api prefix.
func NewHandler(deps Deps) http.Handler {
	deps = deps.withDefaults()

	r := chi.NewRouter()
	r.Use(requestContext(deps.Logger), instrument(deps.Metrics), recoverer)

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/projects", handleListProjects(deps))
		r.Post("/projects", handleCreateProject(deps))
		r.Get("/projects/{id}", handleGetProject(deps))

		r.Post("/projects/{projectId}/apps", handleCreateApp(deps))
		r.Get("/projects/{projectId}/apps/{appId}", handleGetApp(deps))
		r.Put("/apps/{appId}", handleUpdateApp(deps))
		r.Delete("/apps/{appId}", handleDeleteApp(deps))

		r.Get("/apps/{appId}/features", handleListFeatures(deps))
		r.Post("/apps/{appId}/features", handleCreateFeature(deps))
		r.Get("/apps/{appId}/features/related-tree", handleRelatedTree(deps))
		r.Patch("/apps/{appId}/features/{featureId}", handleUpdateFeature(deps))
		r.Delete("/apps/{appId}/features/{featureId}", handleDeleteFeature(deps))

		r.Route("/projects/{projectId}/requirement-analyze", func(r chi.Router) {
			r.Post("/", handleAnalyze(deps))
			r.Get("/events", handleEvents(deps))
			r.Get("/threads", handleListThreads(deps))
			r.Get("/threads/{threadId}", handleThreadMessages(deps))
			r.Get("/threads/{threadId}/test-cases", handleThreadTestCases(deps))
			r.Get("/test-cases/{appId}", handleAppTestCases(deps))
			r.Post("/{threadId}", handleContinueThread(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// pathID parses a positive numeric path parameter, answering 400 otherwise.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid %s: %q", name, raw)
		return 0, false
	}
	return id, true
}

// pathThreadID returns the non-empty threadId path parameter.
func pathThreadID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "threadId"))
	if id == "" {
		httpError(w, http.StatusBadRequest, "threadId is required")
		return "", false
	}
	return id, true
}

// forward issues req and relays the upstream reply unchanged.
func forward(w http.ResponseWriter, r *http.Request, deps Deps, req backend.Request) (*backend.Response, bool) {
	resp, err := deps.Backend.Do(r.Context(), req)
	if err != nil {
		writeBackendError(w, r, deps, err)
		return nil, false
	}
	relay(w, resp)
	return resp, true
}

func relay(w http.ResponseWriter, resp *backend.Response) {
	w.Header().Set("Content-Type", resp.ContentType())
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
