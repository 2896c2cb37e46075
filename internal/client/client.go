// Package client wraps the proxy routes for callers such as the CLI. Every
// failure is reduced to a plain error carrying only the extracted message;
// HTTP status codes are not exposed.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/kalambet/rat/internal/backend"
	"github.com/kalambet/rat/internal/domain"
)

type Client struct {
	api  *backend.Client
	root *backend.Client
}

// New returns a client for the proxy rooted at baseURL (without /api).
func New(baseURL string, opts ...backend.Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		api:  backend.NewClient(baseURL+"/api", opts...),
		root: backend.NewClient(baseURL, opts...),
	}
}

// WithProgress attaches fn to ctx; analysis calls invoke it once the request
// has been written to the proxy.
func WithProgress(ctx context.Context, fn func()) context.Context {
	return backend.WithProgress(ctx, fn)
}

// flatten drops everything but the message.
func flatten(err error) error {
	if err == nil || domain.IsValidation(err) {
		return err
	}
	return errors.New(backend.AsError(err).Message)
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	return flatten(c.api.GetJSON(ctx, path, v))
}

func (c *Client) send(ctx context.Context, method, path string, body, v any) error {
	return flatten(c.api.SendJSON(ctx, method, path, body, v))
}

// Health checks that the proxy is up.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.root.Get(ctx, "/health")
	return flatten(err)
}

// ListProjects accepts the list shapes domain.DecodeProjectList knows.
func (c *Client) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/projects", &raw); err != nil {
		return nil, err
	}
	return domain.DecodeProjectList(raw), nil
}

func (c *Client) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	var p domain.Project
	err := c.get(ctx, fmt.Sprintf("/projects/%d", id), &p)
	return p, err
}

func (c *Client) CreateProject(ctx context.Context, params domain.CreateProjectParams) (domain.Project, error) {
	if err := params.Validate(); err != nil {
		return domain.Project{}, err
	}
	var p domain.Project
	err := c.send(ctx, http.MethodPost, "/projects", params.Normalize(), &p)
	return p, err
}

func (c *Client) CreateApp(ctx context.Context, projectID int64, params domain.AppParams) (domain.App, error) {
	if err := params.Validate(); err != nil {
		return domain.App{}, err
	}
	var a domain.App
	err := c.send(ctx, http.MethodPost, fmt.Sprintf("/projects/%d/apps", projectID), params, &a)
	return a, err
}

func (c *Client) GetApp(ctx context.Context, projectID, appID int64) (domain.AppDetail, error) {
	var a domain.AppDetail
	err := c.get(ctx, fmt.Sprintf("/projects/%d/apps/%d", projectID, appID), &a)
	return a, err
}

func (c *Client) UpdateApp(ctx context.Context, appID int64, params domain.AppParams) (domain.App, error) {
	if err := params.Validate(); err != nil {
		return domain.App{}, err
	}
	var a domain.App
	err := c.send(ctx, http.MethodPut, fmt.Sprintf("/apps/%d", appID), params, &a)
	return a, err
}

func (c *Client) DeleteApp(ctx context.Context, appID int64) error {
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("/apps/%d", appID), nil, nil)
}

func (c *Client) ListFeatures(ctx context.Context, appID int64) ([]domain.Feature, error) {
	var fs []domain.Feature
	if err := c.get(ctx, fmt.Sprintf("/apps/%d/features", appID), &fs); err != nil {
		return nil, err
	}
	return fs, nil
}

func (c *Client) CreateFeature(ctx context.Context, appID int64, params domain.CreateFeatureParams) (domain.Feature, error) {
	if err := params.Validate(); err != nil {
		return domain.Feature{}, err
	}
	var f domain.Feature
	err := c.send(ctx, http.MethodPost, fmt.Sprintf("/apps/%d/features", appID), params.WithDefaults(), &f)
	return f, err
}

func (c *Client) UpdateFeature(ctx context.Context, appID, featureID int64, patch domain.FeaturePatch) (domain.Feature, error) {
	if err := patch.Validate(); err != nil {
		return domain.Feature{}, err
	}
	var f domain.Feature
	err := c.send(ctx, http.MethodPatch, fmt.Sprintf("/apps/%d/features/%d", appID, featureID), patch, &f)
	return f, err
}

func (c *Client) DeleteFeature(ctx context.Context, appID, featureID int64) error {
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("/apps/%d/features/%d", appID, featureID), nil, nil)
}

func (c *Client) RelatedTree(ctx context.Context, appID int64) ([]domain.RelatedAppFeatures, error) {
	var out []domain.RelatedAppFeatures
	if err := c.get(ctx, fmt.Sprintf("/apps/%d/features/related-tree", appID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Analyze starts a new analysis thread.
func (c *Client) Analyze(ctx context.Context, projectID int64, text string) (domain.AnalyzeResponse, error) {
	return c.analyze(ctx, fmt.Sprintf("/projects/%d/requirement-analyze", projectID), text)
}

// SendMessage continues threadID.
func (c *Client) SendMessage(ctx context.Context, projectID int64, threadID, text string) (domain.AnalyzeResponse, error) {
	return c.analyze(ctx, fmt.Sprintf("/projects/%d/requirement-analyze/%s", projectID, url.PathEscape(threadID)), text)
}

func (c *Client) analyze(ctx context.Context, path, text string) (domain.AnalyzeResponse, error) {
	if err := domain.ValidateAnalyzeText(text); err != nil {
		return domain.AnalyzeResponse{}, err
	}
	resp, err := c.api.Do(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   domain.AnalyzeRequest{Text: text},
		Long:   true,
	})
	if err != nil {
		return domain.AnalyzeResponse{}, flatten(err)
	}
	var out domain.AnalyzeResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.AnalyzeResponse{}, fmt.Errorf("decoding analysis response: %w", err)
	}
	return out, nil
}

func (c *Client) ListThreads(ctx context.Context, projectID int64) ([]domain.ThreadSummary, error) {
	var out []domain.ThreadSummary
	if err := c.get(ctx, fmt.Sprintf("/projects/%d/requirement-analyze/threads", projectID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ThreadMessages(ctx context.Context, projectID int64, threadID string) ([]domain.Message, error) {
	var out []domain.Message
	path := fmt.Sprintf("/projects/%d/requirement-analyze/threads/%s", projectID, url.PathEscape(threadID))
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Download is a binary test-case export.
type Download struct {
	Data []byte
	// FileName is the name suggested by Content-Disposition, if any.
	FileName string
}

func (c *Client) ThreadTestCases(ctx context.Context, projectID int64, threadID string) (Download, error) {
	return c.download(ctx, fmt.Sprintf("/projects/%d/requirement-analyze/threads/%s/test-cases", projectID, url.PathEscape(threadID)))
}

func (c *Client) AppTestCases(ctx context.Context, projectID, appID int64) (Download, error) {
	return c.download(ctx, fmt.Sprintf("/projects/%d/requirement-analyze/test-cases/%d", projectID, appID))
}

func (c *Client) download(ctx context.Context, path string) (Download, error) {
	resp, err := c.api.TestCases(ctx, path)
	if err != nil {
		return Download{}, flatten(err)
	}
	return Download{Data: resp.Body, FileName: attachmentName(resp.Header.Get("Content-Disposition"))}, nil
}

func attachmentName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}
