package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/diviatrix/ts-cms-sub000/pkg/classify"
	"github.com/diviatrix/ts-cms-sub000/pkg/client"
	"github.com/diviatrix/ts-cms-sub000/pkg/notify"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName    = "tscms"
	serverVersion = "1.0.0"

	notificationsURI = "tscms://notifications"
	promptName       = "tscms-admin"
)

// Server exposes the admin client to the Model Context Protocol.
type Server struct {
	mcpServer     *server.MCPServer
	gateway       *client.Gateway
	notifications *notify.Center
	classifier    *classify.Classifier
}

// NewServer creates a new MCP server instance.
func NewServer(gateway *client.Gateway, notifications *notify.Center, classifier *classify.Classifier) *Server {
	if classifier == nil {
		classifier = classify.New()
	}
	s := &Server{
		mcpServer:     server.NewMCPServer(serverName, serverVersion),
		gateway:       gateway,
		notifications: notifications,
		classifier:    classifier,
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		notificationsURI,
		"Notifications",
		mcp.WithResourceDescription("Visible toasts, queued toasts and persistent messages"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadNotifications)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"api_request",
		mcp.WithDescription("Call the CMS API through the gateway. Returns the normalized result envelope."),
		mcp.WithString("path", mcp.Required(), mcp.Description("API path, e.g. '/users'")),
		mcp.WithString("method", mcp.Description("HTTP method (default GET)")),
		mcp.WithString("body", mcp.Description("JSON request body")),
		mcp.WithBoolean("use_auth", mcp.Description("Attach the stored bearer token (default true)")),
		mcp.WithString("coalesce_key", mcp.Description("Collapse concurrent calls sharing this key")),
	), s.handleAPIRequest)

	s.mcpServer.AddTool(mcp.NewTool(
		"classify_error",
		mcp.WithDescription("Map an error message onto the error taxonomy with remediation suggestions."),
		mcp.WithString("message", mcp.Required(), mcp.Description("The error text")),
		mcp.WithNumber("status", mcp.Description("HTTP status, or -1 for network errors")),
		mcp.WithString("page", mcp.Description("Current page path")),
	), s.handleClassifyError)

	s.mcpServer.AddTool(mcp.NewTool(
		"session_status",
		mcp.WithDescription("Report whether a valid session token is stored, with its subject, roles and expiry."),
	), s.handleSessionStatus)

	s.mcpServer.AddTool(mcp.NewTool(
		"logout",
		mcp.WithDescription("Clear the stored session token."),
	), s.handleLogout)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		promptName,
		mcp.WithPromptDescription("Explains how results and errors of the CMS admin API are reported"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadNotifications(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snapshot := struct {
		Toasts     []notify.Message `json:"toasts"`
		Queued     []notify.Message `json:"queued"`
		Persistent []notify.Message `json:"persistent"`
	}{
		Toasts:     s.notifications.Toasts(),
		Queued:     s.notifications.Queued(),
		Persistent: s.notifications.Persistent(),
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notifications: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleAPIRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(request, "path", "")
	if strings.TrimSpace(path) == "" {
		return mcp.NewToolResultError("path is required"), nil
	}

	opts := client.RequestOptions{
		Method:      strings.ToUpper(mcp.ParseString(request, "method", http.MethodGet)),
		UseAuth:     mcp.ParseBoolean(request, "use_auth", true),
		CoalesceKey: mcp.ParseString(request, "coalesce_key", ""),
	}
	if body := mcp.ParseString(request, "body", ""); body != "" {
		if !json.Valid([]byte(body)) {
			return mcp.NewToolResultError("body must be valid JSON"), nil
		}
		opts.Body = json.RawMessage(body)
	}

	env, err := s.gateway.Request(ctx, path, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("request dropped: %v", err)), nil
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if !env.Success {
		s.notifications.ErrorFromEnvelope(env, notify.ErrorOptions{})
		return mcp.NewToolResultError(string(data)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleClassifyError(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := mcp.ParseString(request, "message", "")
	hints := classify.Hints{
		Status: mcp.ParseInt(request, "status", 0),
		Page:   mcp.ParseString(request, "page", ""),
	}

	category := s.classifier.ClassifyText(message, hints)
	result := struct {
		Category classify.Category `json:"category"`
		classify.Definition
	}{category, classify.Describe(category)}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal classification: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleSessionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tokens := s.gateway.Tokens()
	if !tokens.IsValid() {
		return mcp.NewToolResultText(`{"authenticated": false}`), nil
	}

	claims, err := tokens.Claims()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read session: %v", err)), nil
	}
	status := map[string]any{
		"authenticated": true,
		"subject":       claims.Subject,
		"roles":         append(append([]string{}, claims.Roles...), claims.Groups...),
	}
	if claims.ExpiresAt != nil {
		status["expires_at"] = claims.ExpiresAt.Time
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleLogout(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.gateway.Logout()
	return mcp.NewToolResultText("Signed out."), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != promptName {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are operating the admin panel of a small CMS (users, records, themes) through its API.

Every call made with 'api_request' resolves to an envelope:
- success: true only for HTTP 2xx.
- status: the HTTP status, or "network_error" when the server could not be reached.
- message / errors: human readable explanations.

Failures fall into NETWORK, AUTHENTICATION, VALIDATION, PERMISSION, NOT_FOUND, SERVER_ERROR or CLIENT_ERROR.
Use 'classify_error' for remediation hints. Only NETWORK and SERVER_ERROR are worth retrying.
A 401 ends the session: check 'session_status' and ask the user to log in again.
`

	return mcp.NewGetPromptResult(
		promptName,
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
