package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"
)

const (
	DefaultBaseURL        = "http://rat-api.eba-qsjc6vnd.us-east-1.elasticbeanstalk.com"
	DefaultTimeout        = 30 * time.Second
	DefaultAnalyzeTimeout = 120 * time.Second

	// XLSXContentType is the MIME type of test-case workbooks.
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// maxResponseSize caps upstream replies; larger ones fail rather than being
// relayed truncated.
var maxResponseSize int64 = 50 << 20 // 50MB

// Client talks to the requirement-analysis backend REST API.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	timeout        time.Duration
	analyzeTimeout time.Duration
}

type Option func(*Client)

// WithTimeouts overrides the default and analysis request timeouts.
func WithTimeouts(def, analyze time.Duration) Option {
	return func(c *Client) {
		if def > 0 {
			c.timeout = def
		}
		if analyze > 0 {
			c.analyzeTimeout = analyze
		}
	}
}

// WithHTTPClient replaces the transport client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a backend client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{},
		timeout:        DefaultTimeout,
		analyzeTimeout: DefaultAnalyzeTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string { return c.baseURL }

// Response is a successful (2xx) backend reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// ContentType returns the reply's Content-Type, defaulting to JSON.
func (r *Response) ContentType() string {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/json"
}

// Request describes one call. Body is JSON-encoded when non-nil.
type Request struct {
	Method string
	Path   string
	Body   any
	// Accept overrides the Accept header (binary endpoints).
	Accept string
	// Long selects the analysis timeout.
	Long bool
}

// Do executes req. Every failure, including transport errors and non-2xx
// replies, is returned as *Error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &Error{Status: http.StatusInternalServerError, Message: fmt.Sprintf("marshaling request: %v", err)}
		}
		body = bytes.NewReader(data)
	}

	timeout := c.timeout
	if req.Long {
		timeout = c.analyzeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if fn := progressFrom(ctx); fn != nil {
		ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
			WroteRequest: func(info httptrace.WroteRequestInfo) {
				if info.Err == nil {
					fn()
				}
			},
		})
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, &Error{Status: http.StatusInternalServerError, Message: fmt.Sprintf("creating request: %v", err)}
	}
	accept := req.Accept
	if accept == "" {
		accept = "application/json"
	}
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, transportError(fmt.Errorf("reading response: %w", err))
	}
	if int64(len(data)) > maxResponseSize {
		return nil, &Error{Status: http.StatusBadGateway, Message: "backend response too large"}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, data)
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// Get is a JSON GET.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path})
}

// GetJSON GETs path and decodes the reply into v.
func (c *Client) GetJSON(ctx context.Context, path string, v any) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	return decode(resp, v)
}

// SendJSON issues method on path with body and decodes the reply into v when
// v is non-nil.
func (c *Client) SendJSON(ctx context.Context, method, path string, body, v any) error {
	resp, err := c.Do(ctx, Request{Method: method, Path: path, Body: body})
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return decode(resp, v)
}

func decode(resp *Response, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return &Error{Status: http.StatusBadGateway, Message: fmt.Sprintf("decoding backend response: %v", err)}
	}
	return nil
}

type progressKey struct{}

// WithProgress attaches fn to ctx; Do calls it once the request has been
// fully written to the backend.
func WithProgress(ctx context.Context, fn func()) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func progressFrom(ctx context.Context) func() {
	fn, _ := ctx.Value(progressKey{}).(func())
	return fn
}
