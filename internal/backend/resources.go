package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/kalambet/rat/internal/domain"
)

func (c *Client) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var raw json.RawMessage
	if err := c.GetJSON(ctx, "/projects", &raw); err != nil {
		return nil, err
	}
	return domain.DecodeProjectList(raw), nil
}

func (c *Client) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	var out domain.Project
	err := c.GetJSON(ctx, fmt.Sprintf("/projects/%d", id), &out)
	return out, err
}

func (c *Client) GetApp(ctx context.Context, projectID, appID int64) (domain.AppDetail, error) {
	var out domain.AppDetail
	err := c.GetJSON(ctx, fmt.Sprintf("/projects/%d/apps/%d", projectID, appID), &out)
	return out, err
}

func (c *Client) RelatedTree(ctx context.Context, appID int64) ([]domain.RelatedAppFeatures, error) {
	var out []domain.RelatedAppFeatures
	if err := c.GetJSON(ctx, fmt.Sprintf("/apps/%d/features/related-tree", appID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListThreads(ctx context.Context, projectID int64) ([]domain.ThreadSummary, error) {
	var out []domain.ThreadSummary
	if err := c.GetJSON(ctx, fmt.Sprintf("/projects/%d/requirement-analyze/threads", projectID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ThreadMessages(ctx context.Context, projectID int64, threadID string) ([]domain.Message, error) {
	var out []domain.Message
	path := fmt.Sprintf("/projects/%d/requirement-analyze/threads/%s", projectID, url.PathEscape(threadID))
	if err := c.GetJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Analyze starts a new thread, or continues threadID when it is non-empty.
func (c *Client) Analyze(ctx context.Context, projectID int64, threadID, text string) (domain.AnalyzeResponse, error) {
	path := fmt.Sprintf("/projects/%d/requirement-analyze", projectID)
	if threadID != "" {
		path += "/" + url.PathEscape(threadID)
	}
	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   domain.AnalyzeRequest{Text: text},
		Long:   true,
	})
	if err != nil {
		return domain.AnalyzeResponse{}, err
	}
	var out domain.AnalyzeResponse
	err = decode(resp, &out)
	return out, err
}

// TestCases downloads a test-case workbook as raw bytes.
func (c *Client) TestCases(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Accept: XLSXContentType, Long: true})
}
