package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/epalmerini/keyhole/internal/broker"
	"github.com/epalmerini/keyhole/internal/capture"
	"github.com/epalmerini/keyhole/internal/jolokia"
	"github.com/epalmerini/keyhole/internal/proto"
	"github.com/epalmerini/keyhole/internal/session"
)

// newTestServer wires a registered MCP server against a fake bridge.
// The login probe goes through the bridge like production does.
func newTestServer(t *testing.T, handler http.HandlerFunc) (*server.MCPServer, *broker.Service) {
	t.Helper()

	bridge := httptest.NewServer(handler)
	t.Cleanup(bridge.Close)

	client := jolokia.NewClient(bridge.URL, "origin.test", 2*time.Second, zerolog.Nop())
	sessions := session.NewStore(func(ctx context.Context, creds jolokia.Credentials) *jolokia.Error {
		return client.Call(ctx, creds, broker.VersionRequest("amq-broker-primary")).Err()
	})
	svc := broker.NewService(client, sessions, "amq-broker-primary", zerolog.Nop())

	srv := server.NewMCPServer("keyhole-test", "test", server.WithToolCapabilities(true))
	Register(srv, svc)
	return srv, svc
}

// callTool drives the server through its JSON-RPC surface and returns the
// first text content plus the isError flag.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]any) (string, bool) {
	t.Helper()

	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  params,
	})
	if err != nil {
		t.Fatal(err)
	}

	raw := srv.HandleMessage(context.Background(), payload)
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var decoded struct {
		Result struct {
			IsError bool `json:"isError"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode response %s: %v", data, err)
	}
	if decoded.Error != nil {
		t.Fatalf("protocol error: %d %s", decoded.Error.Code, decoded.Error.Message)
	}
	if len(decoded.Result.Content) == 0 {
		t.Fatalf("no content in response: %s", data)
	}
	return decoded.Result.Content[0].Text, decoded.Result.IsError
}

func login(t *testing.T, srv *server.MCPServer) {
	t.Helper()
	text, isErr := callTool(t, srv, "login", map[string]any{
		"username": "admin", "password": "secret",
	})
	if isErr {
		t.Fatalf("login failed: %s", text)
	}
}

func okBridge(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(body))
	}
}

func TestLoginTool(t *testing.T) {
	srv, _ := newTestServer(t, okBridge(`{"value":"2.33.0","status":200}`))

	text, isErr := callTool(t, srv, "login", map[string]any{
		"username": "admin", "password": "secret",
	})
	if isErr {
		t.Fatalf("unexpected error: %s", text)
	}
	if text != "Successfully authenticated as user: admin" {
		t.Errorf("text = %q", text)
	}
}

func TestLoginTool_MissingArguments(t *testing.T) {
	srv, _ := newTestServer(t, okBridge(`{"value":"2.33.0","status":200}`))

	text, isErr := callTool(t, srv, "login", map[string]any{"username": "admin"})
	if !isErr {
		t.Fatalf("expected error result, got %q", text)
	}
}

func TestLoginTool_BadCredentials(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad credentials"}`))
	})

	text, isErr := callTool(t, srv, "login", map[string]any{
		"username": "admin", "password": "wrong",
	})
	if !isErr {
		t.Fatalf("expected error result, got %q", text)
	}
	if !strings.Contains(text, "Authentication failed") || !strings.Contains(text, "401") {
		t.Errorf("text = %q", text)
	}

	// The failed login must not have authenticated the session.
	vtext, visErr := callTool(t, srv, "get_version", nil)
	if !visErr {
		t.Fatalf("expected get_version to fail, got %q", vtext)
	}
	if !strings.Contains(vtext, "not_authenticated") {
		t.Errorf("get_version error = %q", vtext)
	}
}

func TestLogoutTool(t *testing.T) {
	srv, _ := newTestServer(t, okBridge(`{"value":"2.33.0","status":200}`))

	text, isErr := callTool(t, srv, "logout", nil)
	if isErr {
		t.Fatalf("logout errored: %s", text)
	}
	if text != "No active session to logout" {
		t.Errorf("text = %q", text)
	}

	login(t, srv)

	text, isErr = callTool(t, srv, "logout", nil)
	if isErr {
		t.Fatalf("logout errored: %s", text)
	}
	if text != "Successfully logged out user: admin" {
		t.Errorf("text = %q", text)
	}
}

func TestGetVersionTool(t *testing.T) {
	srv, _ := newTestServer(t, okBridge(`{"value":"2.33.0","status":200}`))
	login(t, srv)

	text, isErr := callTool(t, srv, "get_version", nil)
	if isErr {
		t.Fatalf("get_version errored: %s", text)
	}
	if text != "AMQ Broker Version: 2.33.0" {
		t.Errorf("text = %q", text)
	}
}

func TestGetVersionTool_NotAuthenticated(t *testing.T) {
	srv, _ := newTestServer(t, okBridge(`{"value":"2.33.0","status":200}`))

	text, isErr := callTool(t, srv, "get_version", nil)
	if !isErr {
		t.Fatalf("expected error, got %q", text)
	}
	if !strings.Contains(text, "not_authenticated") {
		t.Errorf("text = %q", text)
	}
}

func TestBrowseQueueTool(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/read/") {
			fmt.Fprint(w, `{"value":"2.33.0","status":200}`)
			return
		}
		fmt.Fprint(w, `{"status":200,"value":[
			{"messageID":1,"text":"one","priority":4},
			{"messageID":2,"text":"two","priority":5}
		]}`)
	})
	login(t, srv)

	text, isErr := callTool(t, srv, "browse_queue", map[string]any{
		"queue_name": "HelloQueue", "routing_type": "multicast",
	})
	if isErr {
		t.Fatalf("browse_queue errored: %s", text)
	}

	var result struct {
		Queue        string `json:"queue"`
		RoutingType  string `json:"routing_type"`
		MessageCount int    `json:"message_count"`
		Messages     []struct {
			ID   string `json:"id"`
			Body string `json:"body"`
		} `json:"messages"`
	}
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		t.Fatalf("browse_queue did not return JSON: %v\n%s", err, text)
	}
	if result.Queue != "HelloQueue" || result.RoutingType != "multicast" {
		t.Errorf("result = %+v", result)
	}
	if result.MessageCount != 2 || len(result.Messages) != 2 {
		t.Fatalf("counts = %d/%d", result.MessageCount, len(result.Messages))
	}
	if result.Messages[0].Body != "one" || result.Messages[1].Body != "two" {
		t.Errorf("order not preserved: %+v", result.Messages)
	}
}

func TestBrowseQueueTool_InvalidRoutingType(t *testing.T) {
	srv, _ := newTestServer(t, okBridge(`{"value":"2.33.0","status":200}`))
	login(t, srv)

	text, isErr := callTool(t, srv, "browse_queue", map[string]any{
		"queue_name": "q", "routing_type": "topic",
	})
	if !isErr {
		t.Fatalf("expected error, got %q", text)
	}
	if !strings.Contains(text, "invalid_parameter") {
		t.Errorf("text = %q", text)
	}
}

func TestBrowseQueueTool_DefaultRoutingType(t *testing.T) {
	var browsePath string
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/exec/") {
			browsePath = r.URL.Path
			fmt.Fprint(w, `{"status":200,"value":[]}`)
			return
		}
		fmt.Fprint(w, `{"value":"2.33.0","status":200}`)
	})
	login(t, srv)

	text, isErr := callTool(t, srv, "browse_queue", map[string]any{"queue_name": "q"})
	if isErr {
		t.Fatalf("browse_queue errored: %s", text)
	}
	if !strings.Contains(browsePath, `routing-type="anycast"`) {
		t.Errorf("browse path = %q, want anycast default", browsePath)
	}
}

func TestBrowseQueueTool_MessageTypeWithoutSchemas(t *testing.T) {
	srv, _ := newTestServer(t, okBridge(`{"value":"2.33.0","status":200}`))
	login(t, srv)

	text, isErr := callTool(t, srv, "browse_queue", map[string]any{
		"queue_name": "q", "message_type": "OrderCreated",
	})
	if !isErr {
		t.Fatalf("expected error, got %q", text)
	}
	if !strings.Contains(text, "invalid_parameter") {
		t.Errorf("text = %q", text)
	}
}

func TestCaptureTools(t *testing.T) {
	srv, svc := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/exec/") {
			fmt.Fprint(w, `{"status":200,"value":[
				{"messageID":1,"text":"alpha report"},
				{"messageID":2,"text":"beta"}
			]}`)
			return
		}
		fmt.Fprint(w, `{"value":"2.33.0","status":200}`)
	})

	store, err := capture.NewStore(t.TempDir() + "/capture.db")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	writer := capture.NewAsyncWriter(store)
	svc.WithCapture(writer)

	login(t, srv)
	if text, isErr := callTool(t, srv, "browse_queue", map[string]any{"queue_name": "jobs"}); isErr {
		t.Fatalf("browse_queue errored: %s", text)
	}
	writer.Close() // drain before reading back

	text, isErr := callTool(t, srv, "list_browses", nil)
	if isErr {
		t.Fatalf("list_browses errored: %s", text)
	}
	var browses []struct {
		ID           int64  `json:"id"`
		Queue        string `json:"queue"`
		MessageCount int64  `json:"message_count"`
	}
	if err := json.Unmarshal([]byte(text), &browses); err != nil {
		t.Fatalf("list_browses did not return JSON: %v\n%s", err, text)
	}
	if len(browses) != 1 || browses[0].Queue != "jobs" || browses[0].MessageCount != 2 {
		t.Fatalf("browses = %+v", browses)
	}

	text, isErr = callTool(t, srv, "list_messages", map[string]any{"browse_id": browses[0].ID})
	if isErr {
		t.Fatalf("list_messages errored: %s", text)
	}
	var msgs []struct {
		ID        int64  `json:"id"`
		MessageID string `json:"message_id"`
		Body      string `json:"body"`
	}
	if err := json.Unmarshal([]byte(text), &msgs); err != nil {
		t.Fatalf("list_messages did not return JSON: %v\n%s", err, text)
	}
	if len(msgs) != 2 || msgs[0].Body != "alpha report" || msgs[1].Body != "beta" {
		t.Fatalf("msgs = %+v", msgs)
	}

	text, isErr = callTool(t, srv, "get_message", map[string]any{"id": msgs[1].ID})
	if isErr {
		t.Fatalf("get_message errored: %s", text)
	}
	if !strings.Contains(text, `"beta"`) {
		t.Errorf("get_message = %s", text)
	}

	text, isErr = callTool(t, srv, "search_messages", map[string]any{"query": "alpha"})
	if isErr {
		t.Fatalf("search_messages errored: %s", text)
	}
	var found []struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal([]byte(text), &found); err != nil {
		t.Fatalf("search_messages did not return JSON: %v\n%s", err, text)
	}
	if len(found) != 1 || found[0].MessageID != "1" {
		t.Errorf("found = %+v", found)
	}
}

func TestCaptureTools_Disabled(t *testing.T) {
	srv, _ := newTestServer(t, okBridge(`{"value":"2.33.0","status":200}`))

	for _, call := range []struct {
		tool string
		args map[string]any
	}{
		{tool: "list_browses"},
		{tool: "list_messages", args: map[string]any{"browse_id": 1}},
		{tool: "get_message", args: map[string]any{"id": 1}},
		{tool: "search_messages", args: map[string]any{"query": "x"}},
	} {
		t.Run(call.tool, func(t *testing.T) {
			text, isErr := callTool(t, srv, call.tool, call.args)
			if !isErr {
				t.Fatalf("expected error, got %q", text)
			}
			if !strings.Contains(text, "capture is not enabled") {
				t.Errorf("text = %q", text)
			}
		})
	}
}

func TestListProtoTypesTool(t *testing.T) {
	srv, svc := newTestServer(t, okBridge(`{"value":"2.33.0","status":200}`))

	text, isErr := callTool(t, srv, "list_proto_types", nil)
	if !isErr {
		t.Fatalf("expected error without schemas, got %q", text)
	}

	dir := t.TempDir()
	src := `syntax = "proto3";
message OrderCreated { string id = 1; }
`
	if err := os.WriteFile(filepath.Join(dir, "order.proto"), []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	decoder, err := proto.NewDecoder(dir)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	svc.WithDecoder(decoder)

	text, isErr = callTool(t, srv, "list_proto_types", nil)
	if isErr {
		t.Fatalf("list_proto_types errored: %s", text)
	}
	var types []string
	if err := json.Unmarshal([]byte(text), &types); err != nil {
		t.Fatalf("list_proto_types did not return JSON: %v\n%s", err, text)
	}
	found := false
	for _, name := range types {
		if name == "OrderCreated" {
			found = true
		}
	}
	if !found {
		t.Errorf("types = %v, want OrderCreated listed", types)
	}
}
