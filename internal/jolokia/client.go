package jolokia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 10 * time.Second
	snippetLen     = 200
)

// Credentials is one username/password pair for Basic auth.
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether either half of the pair is missing.
func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}

// Client talks to the Jolokia bridge fronting the broker's management
// interface. It holds no per-call state; a fresh request is issued each time.
type Client struct {
	base   string
	origin string
	client *http.Client
	log    zerolog.Logger
}

// NewClient creates a client for the given base URL
// (http://host:port/console/jolokia). The Origin header is required by the
// bridge's CORS policy and is sent on every request.
func NewClient(base, origin string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base:   base,
		origin: origin,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// BaseURL returns the bridge base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.base
}

// Call issues one GET against the bridge and normalizes the outcome.
// It never returns a Go error: every failure path is captured in the
// response's ErrorKind so callers always get a well-formed envelope,
// stamped with the current time and an echo of the request.
func (c *Client) Call(ctx context.Context, creds Credentials, req Request) Response {
	if creds.Empty() {
		return c.fail(req, 0, KindMissingCredentials, "username and password are required")
	}

	u := req.URL(c.base)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return c.fail(req, 0, KindNetworkError, "building request: %v", err)
	}
	httpReq.SetBasicAuth(creds.Username, creds.Password)
	httpReq.Header.Set("Origin", c.origin)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.log.Debug().Err(err).Str("mbean", req.MBean).Msg("bridge call failed")
		return c.fail(req, 0, KindNetworkError, "%v", err)
	}
	defer resp.Body.Close()

	// The bridge mislabels JSON as text/plain, so the declared content type
	// is ignored: read the body as text and parse it ourselves.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.fail(req, resp.StatusCode, KindNetworkError, "reading body: %v", err)
	}

	var parsed any
	parseErr := json.Unmarshal(body, &parsed)
	envelope, _ := parsed.(map[string]any)
	bridgeErr, _ := envelope["error"].(string)

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("bridge returned HTTP %d", resp.StatusCode)
		if bridgeErr != "" {
			msg += ": " + bridgeErr
		}
		return c.fail(req, resp.StatusCode, KindHTTPError, "%s", msg)
	}

	if parseErr != nil {
		return c.fail(req, resp.StatusCode, KindMalformedResponse, "invalid JSON: %s", snippet(body))
	}

	// Jolokia reports operation failures with HTTP 200 and a non-200 status
	// inside the payload.
	if s, ok := envelope["status"].(float64); ok && int(s) != http.StatusOK {
		msg := fmt.Sprintf("bridge status %d", int(s))
		if bridgeErr != "" {
			msg += ": " + bridgeErr
		}
		return c.fail(req, resp.StatusCode, KindBridgeReportedFailure, "%s", msg)
	}

	// The payload's value field if present, otherwise the whole body.
	value := parsed
	if v, ok := envelope["value"]; ok {
		value = v
	}

	return Response{
		Status:    http.StatusOK,
		Value:     value,
		Timestamp: time.Now(),
		Request:   req,
	}
}

// fail builds an error response. status is the HTTP status of the reply,
// or 0 when the failure happened before one was received.
func (c *Client) fail(req Request, status int, kind ErrorKind, format string, args ...any) Response {
	return Response{
		Status:       status,
		ErrorKind:    kind,
		ErrorMessage: fmt.Sprintf(format, args...),
		Timestamp:    time.Now(),
		Request:      req,
	}
}

func snippet(body []byte) string {
	if len(body) > snippetLen {
		return string(body[:snippetLen]) + "..."
	}
	return string(body)
}
