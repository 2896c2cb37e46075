package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kalambet/rat/internal/backend"
	"github.com/kalambet/rat/internal/domain"
)

// successBody answers deletions; the backend reply itself is discarded.
type successBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// decodeBody caps and decodes a JSON request body, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return false
	}
	return true
}

// decodeObject reads a body that is forwarded as-is, requiring a JSON object.
// The decoded top-level fields are returned alongside the raw bytes.
func decodeObject(w http.ResponseWriter, r *http.Request) (json.RawMessage, map[string]json.RawMessage, bool) {
	var raw json.RawMessage
	if !decodeBody(w, r, &raw) {
		return nil, nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		httpError(w, http.StatusBadRequest, "request body must be a JSON object")
		return nil, nil, false
	}
	return raw, obj, true
}

// checkFeaturePatch accepts any non-empty partial feature. Only a present
// name is inspected: it must be a non-blank string.
func checkFeaturePatch(obj map[string]json.RawMessage) error {
	if len(obj) == 0 {
		return errors.New("at least one field is required")
	}
	raw, ok := obj["name"]
	if !ok {
		return nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil || strings.TrimSpace(name) == "" {
		return errors.New("Name must not be empty")
	}
	return nil
}

func handleListProjects(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		forward(w, r, deps, backend.Request{Method: http.MethodGet, Path: "/projects"})
	}
}

func handleCreateProject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.CreateProjectParams
		if !decodeBody(w, r, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "%s", err)
			return
		}
		forward(w, r, deps, backend.Request{Method: http.MethodPost, Path: "/projects", Body: req.Normalize()})
	}
}

func handleGetProject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		forward(w, r, deps, backend.Request{Method: http.MethodGet, Path: fmt.Sprintf("/projects/%d", id)})
	}
}

func handleCreateApp(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := pathID(w, r, "projectId")
		if !ok {
			return
		}
		var req domain.AppParams
		if !decodeBody(w, r, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "%s", err)
			return
		}
		// Only name and type are part of the create contract.
		body := domain.AppParams{Name: req.Name, Type: req.Type}
		forward(w, r, deps, backend.Request{
			Method: http.MethodPost,
			Path:   fmt.Sprintf("/projects/%d/apps", projectID),
			Body:   body,
		})
	}
}

func handleGetApp(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := pathID(w, r, "projectId")
		if !ok {
			return
		}
		appID, ok := pathID(w, r, "appId")
		if !ok {
			return
		}
		forward(w, r, deps, backend.Request{
			Method: http.MethodGet,
			Path:   fmt.Sprintf("/projects/%d/apps/%d", projectID, appID),
		})
	}
}

func handleUpdateApp(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := pathID(w, r, "appId")
		if !ok {
			return
		}
		body, _, ok := decodeObject(w, r)
		if !ok {
			return
		}
		// Related trees of other apps carry this app's name.
		if _, ok := forward(w, r, deps, backend.Request{
			Method: http.MethodPut,
			Path:   fmt.Sprintf("/apps/%d", appID),
			Body:   body,
		}); ok {
			deps.Related.Flush()
		}
	}
}

func handleDeleteApp(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := pathID(w, r, "appId")
		if !ok {
			return
		}
		_, err := deps.Backend.Do(r.Context(), backend.Request{Method: http.MethodDelete, Path: fmt.Sprintf("/apps/%d", appID)})
		if err != nil {
			writeBackendError(w, r, deps, err)
			return
		}
		deps.Related.Flush()
		writeJSON(w, http.StatusOK, successBody{Success: true, Message: "App deleted successfully"})
	}
}

func handleListFeatures(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := pathID(w, r, "appId")
		if !ok {
			return
		}
		forward(w, r, deps, backend.Request{Method: http.MethodGet, Path: fmt.Sprintf("/apps/%d/features", appID)})
	}
}

func handleCreateFeature(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := pathID(w, r, "appId")
		if !ok {
			return
		}
		var req domain.CreateFeatureParams
		if !decodeBody(w, r, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "%s", err)
			return
		}
		if _, ok := forward(w, r, deps, backend.Request{
			Method: http.MethodPost,
			Path:   fmt.Sprintf("/apps/%d/features", appID),
			Body:   req.WithDefaults(),
		}); ok {
			deps.Related.Flush()
		}
	}
}

func handleUpdateFeature(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := pathID(w, r, "appId")
		if !ok {
			return
		}
		featureID, ok := pathID(w, r, "featureId")
		if !ok {
			return
		}
		body, obj, ok := decodeObject(w, r)
		if !ok {
			return
		}
		if err := checkFeaturePatch(obj); err != nil {
			httpError(w, http.StatusBadRequest, "%s", err)
			return
		}
		if _, ok := forward(w, r, deps, backend.Request{
			Method: http.MethodPatch,
			Path:   fmt.Sprintf("/apps/%d/features/%d", appID, featureID),
			Body:   body,
		}); ok {
			deps.Related.Flush()
		}
	}
}

func handleDeleteFeature(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := pathID(w, r, "appId")
		if !ok {
			return
		}
		featureID, ok := pathID(w, r, "featureId")
		if !ok {
			return
		}
		_, err := deps.Backend.Do(r.Context(), backend.Request{
			Method: http.MethodDelete,
			Path:   fmt.Sprintf("/apps/%d/features/%d", appID, featureID),
		})
		if err != nil {
			writeBackendError(w, r, deps, err)
			return
		}
		// Related trees of other apps may point at the deleted feature.
		deps.Related.Flush()
		writeJSON(w, http.StatusOK, successBody{Success: true, Message: "Feature deleted successfully"})
	}
}

func handleRelatedTree(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := pathID(w, r, "appId")
		if !ok {
			return
		}
		if cached, ok := deps.Related.get(appID); ok {
			w.Header().Set("Content-Type", cached.contentType)
			w.Header().Set("X-Cache", "HIT")
			w.Write(cached.body)
			return
		}
		resp, err := deps.Backend.Do(r.Context(), backend.Request{
			Method: http.MethodGet,
			Path:   fmt.Sprintf("/apps/%d/features/related-tree", appID),
		})
		if err != nil {
			writeBackendError(w, r, deps, err)
			return
		}
		deps.Related.set(appID, cachedResponse{contentType: resp.ContentType(), body: resp.Body})
		w.Header().Set("X-Cache", "MISS")
		relay(w, resp)
	}
}
