package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/kalambet/rat/internal/backend"
	"github.com/kalambet/rat/internal/domain"
)

func analyzePath(projectID int64, threadID string) string {
	p := fmt.Sprintf("/projects/%d/requirement-analyze", projectID)
	if threadID != "" {
		p += "/" + url.PathEscape(threadID)
	}
	return p
}

// handleAnalyze starts a new thread.
func handleAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := pathID(w, r, "projectId")
		if !ok {
			return
		}
		runAnalysis(w, r, deps, projectID, "")
	}
}

// handleContinueThread sends a follow-up message to an existing thread.
func handleContinueThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := pathID(w, r, "projectId")
		if !ok {
			return
		}
		threadID, ok := pathThreadID(w, r)
		if !ok {
			return
		}
		runAnalysis(w, r, deps, projectID, threadID)
	}
}

// runAnalysis forwards an analysis request and publishes its lifecycle on
// the project's event stream: sending, analyzing once the request has been
// written upstream, then completed or failed.
func runAnalysis(w http.ResponseWriter, r *http.Request, deps Deps, projectID int64, threadID string) {
	var req domain.AnalyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := domain.ValidateAnalyzeText(req.Text); err != nil {
		httpError(w, http.StatusBadRequest, "%s", err)
		return
	}
	if !deps.Limiter.Allow(projectID) {
		httpError(w, http.StatusTooManyRequests, "too many analysis requests")
		return
	}

	deps.Events.Publish(Event{ProjectID: projectID, ThreadID: threadID, Status: EventSending})
	ctx := backend.WithProgress(r.Context(), func() {
		deps.Events.Publish(Event{ProjectID: projectID, ThreadID: threadID, Status: EventAnalyzing})
	})

	resp, err := deps.Backend.Do(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   analyzePath(projectID, threadID),
		Body:   domain.AnalyzeRequest{Text: req.Text},
		Long:   true,
	})
	if err != nil {
		deps.Events.Publish(Event{
			ProjectID: projectID,
			ThreadID:  threadID,
			Status:    EventFailed,
			Error:     backend.AsError(err).Message,
		})
		writeBackendError(w, r, deps, err)
		return
	}

	done := Event{ProjectID: projectID, ThreadID: threadID, Status: EventCompleted}
	if threadID == "" {
		var out struct {
			ThreadID string `json:"thread_id"`
		}
		if json.Unmarshal(resp.Body, &out) == nil {
			done.ThreadID = out.ThreadID
		}
	}
	deps.Events.Publish(done)

	relay(w, resp)
}

func handleListThreads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := pathID(w, r, "projectId")
		if !ok {
			return
		}
		forward(w, r, deps, backend.Request{
			Method: http.MethodGet,
			Path:   fmt.Sprintf("/projects/%d/requirement-analyze/threads", projectID),
		})
	}
}

func handleThreadMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := pathID(w, r, "projectId")
		if !ok {
			return
		}
		threadID, ok := pathThreadID(w, r)
		if !ok {
			return
		}
		forward(w, r, deps, backend.Request{
			Method: http.MethodGet,
			Path:   fmt.Sprintf("/projects/%d/requirement-analyze/threads/%s", projectID, url.PathEscape(threadID)),
		})
	}
}

func handleThreadTestCases(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := pathID(w, r, "projectId")
		if !ok {
			return
		}
		threadID, ok := pathThreadID(w, r)
		if !ok {
			return
		}
		path := fmt.Sprintf("/projects/%d/requirement-analyze/threads/%s/test-cases", projectID, url.PathEscape(threadID))
		sendWorkbook(w, r, deps, path, fmt.Sprintf("testcases_%s.xlsx", threadID))
	}
}

func handleAppTestCases(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := pathID(w, r, "projectId")
		if !ok {
			return
		}
		appID, ok := pathID(w, r, "appId")
		if !ok {
			return
		}
		path := fmt.Sprintf("/projects/%d/requirement-analyze/test-cases/%d", projectID, appID)
		sendWorkbook(w, r, deps, path, fmt.Sprintf("testcases_app_%d.xlsx", appID))
	}
}

// sendWorkbook relays a binary test-case export as an attachment.
func sendWorkbook(w http.ResponseWriter, r *http.Request, deps Deps, path, filename string) {
	resp, err := deps.Backend.TestCases(r.Context(), path)
	if err != nil {
		writeBackendError(w, r, deps, err)
		return
	}
	w.Header().Set("Content-Type", backend.XLSXContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprint(len(resp.Body)))
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Body)
}
