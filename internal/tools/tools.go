// Package tools registers the MCP tool surface. This is the outward
// boundary: typed errors from the core are rendered to strings here and
// handlers never fail with a raw error for user-level problems.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/epalmerini/keyhole/internal/broker"
)

// Register adds the login, logout, get_version and browse_queue tools.
func Register(srv *server.MCPServer, svc *broker.Service) {
	srv.AddTool(mcp.NewTool("login",
		mcp.WithDescription(`Authenticate with the AMQ broker. Credentials are verified by a version probe against the management bridge; on success they are stored for the session, replacing any previous login.`),
		mcp.WithString("username",
			mcp.Required(),
			mcp.Description("The AMQ broker username"),
		),
		mcp.WithString("password",
			mcp.Required(),
			mcp.Description("The AMQ broker password"),
		),
	), loginHandler(svc))

	srv.AddTool(mcp.NewTool("logout",
		mcp.WithDescription(`Clear the authenticated session. Safe to call when not logged in.`),
	), logoutHandler(svc))

	srv.AddTool(mcp.NewTool("get_version",
		mcp.WithDescription(`Get the version of the AMQ broker via the management bridge. Requires login.`),
	), getVersionHandler(svc))

	srv.AddTool(mcp.NewTool("browse_queue",
		mcp.WithDescription(`Browse messages in a queue without consuming them. Returns the queue name, routing type, message count and the messages in broker order. Requires login.`),
		mcp.WithString("queue_name",
			mcp.Required(),
			mcp.Description("The name of the queue to browse"),
		),
		mcp.WithString("routing_type",
			mcp.Description("The routing type of the queue: anycast (default) or multicast"),
			mcp.DefaultString(broker.RoutingAnycast),
		),
		mcp.WithString("message_type",
			mcp.Description("Decode binary bodies as this protobuf message type instead of inferring one from the queue name"),
		),
	), browseQueueHandler(svc))

	srv.AddTool(mcp.NewTool("list_browses",
		mcp.WithDescription(`List browse_queue snapshots recorded in the local capture store, newest first. Requires capture to be enabled in the config.`),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of snapshots to return (default 20)"),
		),
	), listBrowsesHandler(svc))

	srv.AddTool(mcp.NewTool("list_messages",
		mcp.WithDescription(`List the captured messages of one recorded browse, in capture order.`),
		mcp.WithNumber("browse_id",
			mcp.Required(),
			mcp.Description("ID of the recorded browse, as returned by list_browses"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of messages to return (default 50)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of messages to skip"),
		),
	), listMessagesHandler(svc))

	srv.AddTool(mcp.NewTool("get_message",
		mcp.WithDescription(`Fetch one captured message by its ID.`),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("ID of the captured message, as returned by list_messages or search_messages"),
		),
	), getMessageHandler(svc))

	srv.AddTool(mcp.NewTool("search_messages",
		mcp.WithDescription(`Full-text search over captured message bodies across all recorded browses.`),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search expression, e.g. a word or quoted phrase"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of messages to return (default 50)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of messages to skip"),
		),
	), searchMessagesHandler(svc))

	srv.AddTool(mcp.NewTool("list_proto_types",
		mcp.WithDescription(`List the protobuf message types loaded from the configured schema directory, usable as browse_queue's message_type.`),
	), listProtoTypesHandler(svc))
}

func loginHandler(svc *broker.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		username, err := request.RequireString("username")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		password, err := request.RequireString("password")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if lerr := svc.Sessions().Login(ctx, username, password); lerr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Authentication failed: %s", lerr)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Successfully authenticated as user: %s", username)), nil
	}
}

func logoutHandler(svc *broker.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		username, ok := svc.Sessions().Logout()
		if !ok {
			return mcp.NewToolResultText("No active session to logout"), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Successfully logged out user: %s", username)), nil
	}
}

func getVersionHandler(svc *broker.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		version, err := svc.GetVersion(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to retrieve version: %s", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("AMQ Broker Version: %s", version)), nil
	}
}

func browseQueueHandler(svc *broker.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		queueName, err := request.RequireString("queue_name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		routingType := request.GetString("routing_type", broker.RoutingAnycast)
		messageType := request.GetString("message_type", "")

		result, berr := svc.BrowseQueue(ctx, queueName, routingType, messageType)
		if berr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to browse queue: %s", berr)), nil
		}
		return jsonResult(result)
	}
}

func listBrowsesHandler(svc *broker.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := request.GetInt("limit", 0)

		browses, err := svc.ListBrowses(ctx, int64(limit))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list browses: %s", err)), nil
		}
		return jsonResult(browses)
	}
}

func listMessagesHandler(svc *broker.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		browseID := request.GetInt("browse_id", 0)
		if browseID <= 0 {
			return mcp.NewToolResultError("browse_id is required"), nil
		}
		limit := request.GetInt("limit", 0)
		offset := request.GetInt("offset", 0)

		msgs, err := svc.ListCapturedMessages(ctx, int64(browseID), int64(limit), int64(offset))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list messages: %s", err)), nil
		}
		return jsonResult(msgs)
	}
}

func getMessageHandler(svc *broker.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := request.GetInt("id", 0)
		if id <= 0 {
			return mcp.NewToolResultError("id is required"), nil
		}

		msg, err := svc.GetCapturedMessage(ctx, int64(id))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get message: %s", err)), nil
		}
		return jsonResult(msg)
	}
}

func searchMessagesHandler(svc *broker.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		limit := request.GetInt("limit", 0)
		offset := request.GetInt("offset", 0)

		msgs, serr := svc.SearchCapturedMessages(ctx, query, int64(limit), int64(offset))
		if serr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to search messages: %s", serr)), nil
		}
		return jsonResult(msgs)
	}
}

func listProtoTypesHandler(svc *broker.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		types, err := svc.ProtoTypes()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list proto types: %s", err)), nil
		}
		return jsonResult(types)
	}
}

// jsonResult renders a payload as indented JSON tool output.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to render result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
