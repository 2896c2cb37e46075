package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/rat/internal/backend"
	"github.com/kalambet/rat/internal/domain"
)

// MCPBackend is the slice of the backend client the MCP tools use.
type MCPBackend interface {
	ListProjects(ctx context.Context) ([]domain.Project, error)
	GetApp(ctx context.Context, projectID, appID int64) (domain.AppDetail, error)
	Analyze(ctx context.Context, projectID int64, threadID, text string) (domain.AnalyzeResponse, error)
	ListThreads(ctx context.Context, projectID int64) ([]domain.ThreadSummary, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Backend MCPBackend
	// Events, when set, receives analysis lifecycle events like the HTTP
	// routes publish.
	Events *EventHub
}

// NewMCPServer creates an MCP server with the rat tools and resources registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"rat",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("rat: browse projects, apps and feature trees, and run requirement analysis threads."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_projects",
			mcp.WithDescription("List projects with their apps."),
		),
		mcpListProjects(deps),
	)

	s.AddTool(
		mcp.NewTool("get_feature_tree",
			mcp.WithDescription("Return the features of an app as a tree of root features and their children, ordered by order_index."),
			mcp.WithNumber("project_id", mcp.Description("Project id"), mcp.Required()),
			mcp.WithNumber("app_id", mcp.Description("App id"), mcp.Required()),
		),
		mcpFeatureTree(deps),
	)

	s.AddTool(
		mcp.NewTool("analyze_requirement",
			mcp.WithDescription("Analyze a requirement. Starts a new thread, or continues thread_id when given."),
			mcp.WithNumber("project_id", mcp.Description("Project id"), mcp.Required()),
			mcp.WithString("text", mcp.Description("Requirement or follow-up question"), mcp.Required()),
			mcp.WithString("thread_id", mcp.Description("Existing thread to continue")),
		),
		mcpAnalyze(deps),
	)

	s.AddTool(
		mcp.NewTool("list_threads",
			mcp.WithDescription("List requirement-analysis threads of a project."),
			mcp.WithNumber("project_id", mcp.Description("Project id"), mcp.Required()),
		),
		mcpListThreads(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"rat://projects",
			"Projects",
			mcp.WithResourceDescription("All projects as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProjects(deps),
	)

	return s
}

func requireID(req mcp.CallToolRequest, key string) (int64, error) {
	v, err := req.RequireInt(key)
	if err != nil {
		return 0, fmt.Errorf("%s is required", key)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return int64(v), nil
}

func mcpListProjects(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projects, err := deps.Backend.ListProjects(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing projects failed: %s", backend.AsError(err).Message)), nil
		}
		return mcpJSON(projects)
	}
}

type treeNodeView struct {
	Label    string         `json:"label"`
	ID       int64          `json:"id"`
	Code     string         `json:"code,omitempty"`
	Name     string         `json:"name"`
	Children []treeNodeView `json:"children,omitempty"`
}

func mcpFeatureTree(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := requireID(req, "project_id")
		if err != nil {
			return mcpError(err.Error()), nil
		}
		appID, err := requireID(req, "app_id")
		if err != nil {
			return mcpError(err.Error()), nil
		}

		app, err := deps.Backend.GetApp(ctx, projectID, appID)
		if err != nil {
			return mcpError(fmt.Sprintf("loading app failed: %s", backend.AsError(err).Message)), nil
		}

		roots := domain.BuildFeatureTree(app.Features)
		out := make([]treeNodeView, len(roots))
		for i, n := range roots {
			out[i] = treeNodeView{Label: n.Label(), ID: n.Feature.ID, Code: n.Feature.Code, Name: n.Feature.Name}
			for _, c := range n.Children {
				out[i].Children = append(out[i].Children, treeNodeView{
					Label: n.ChildLabel(c), ID: c.ID, Code: c.Code, Name: c.Name,
				})
			}
		}
		return mcpJSON(out)
	}
}

func mcpAnalyze(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := requireID(req, "project_id")
		if err != nil {
			return mcpError(err.Error()), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		if err := domain.ValidateAnalyzeText(text); err != nil {
			return mcpError(err.Error()), nil
		}
		threadID := strings.TrimSpace(req.GetString("thread_id", ""))

		deps.Events.Publish(Event{ProjectID: projectID, ThreadID: threadID, Status: EventSending})
		ctx = backend.WithProgress(ctx, func() {
			deps.Events.Publish(Event{ProjectID: projectID, ThreadID: threadID, Status: EventAnalyzing})
		})

		resp, err := deps.Backend.Analyze(ctx, projectID, threadID, text)
		if err != nil {
			msg := backend.AsError(err).Message
			deps.Events.Publish(Event{ProjectID: projectID, ThreadID: threadID, Status: EventFailed, Error: msg})
			return mcpError(fmt.Sprintf("analysis failed: %s", msg)), nil
		}
		deps.Events.Publish(Event{ProjectID: projectID, ThreadID: resp.ThreadID, Status: EventCompleted})

		return mcpText(summarizeReply(resp)), nil
	}
}

// summarizeReply renders the assistant's reply as text, keeping structured
// analyses as JSON so the caller can read every section.
func summarizeReply(resp domain.AnalyzeResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "thread_id: %s\n", resp.ThreadID)
	payload := resp.Message.Message
	fmt.Fprintf(&b, "type: %s\n\n", payload.Type)
	if payload.Type == domain.TypeRequirementAnalysis {
		b.Write(payload.Content)
	} else {
		b.WriteString(payload.Text())
	}
	return b.String()
}

type threadView struct {
	ThreadID      string `json:"thread_id"`
	LastMessageAt string `json:"last_message_at"`
	MessageCount  int    `json:"message_count"`
	Preview       string `json:"preview"`
}

func mcpListThreads(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := requireID(req, "project_id")
		if err != nil {
			return mcpError(err.Error()), nil
		}
		threads, err := deps.Backend.ListThreads(ctx, projectID)
		if err != nil {
			return mcpError(fmt.Sprintf("listing threads failed: %s", backend.AsError(err).Message)), nil
		}

		out := make([]threadView, len(threads))
		for i, t := range threads {
			preview := t.FirstMessage.Text()
			if utf8.RuneCountInString(preview) > 200 {
				runes := []rune(preview)
				preview = string(runes[:200]) + "..."
			}
			out[i] = threadView{
				ThreadID:      t.ThreadID,
				LastMessageAt: t.LastMessageAt,
				MessageCount:  t.MessageCount,
				Preview:       preview,
			}
		}
		return mcpJSON(out)
	}
}

func mcpResourceProjects(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		projects, err := deps.Backend.ListProjects(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}

		b, err := json.Marshal(projects)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal projects: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
