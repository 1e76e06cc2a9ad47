package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaymesh/core/internal/orchestrator"
	"github.com/relaymesh/core/internal/policy"
	"github.com/relaymesh/core/pkg/models"
)

const httpFetchSchemaJSON = `{
	"type": "object",
	"properties": {"url": {"type": "string"}},
	"required": ["url"]
}`

// HTTPFetchTimeout bounds a single fetch so a slow or hung endpoint
// cannot stall the tool-use loop indefinitely.
const HTTPFetchTimeout = 30 * time.Second

// HTTPFetchMaxRedirects caps redirect chains; past this the fetch fails.
const HTTPFetchMaxRedirects = 5

// HTTPFetchTool performs a GET request, subject to the hard baseline's
// private-network deny list and, for External callers, their declared
// network_allow grant.
type HTTPFetchTool struct {
	schema *jsonschema.Schema
	client *http.Client
}

// NewHTTPFetchTool compiles the tool's schema once at construction.
func NewHTTPFetchTool() *HTTPFetchTool {
	return &HTTPFetchTool{
		schema: compileSchema("http_fetch", json.RawMessage(httpFetchSchemaJSON)),
		client: &http.Client{
			Timeout: HTTPFetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= HTTPFetchMaxRedirects {
					return fmt.Errorf("stopped after %d redirects", HTTPFetchMaxRedirects)
				}
				// The hard baseline applies to every hop: a public URL
				// redirecting into a private range is the same SSRF as
				// requesting it directly.
				if policy.IsDeniedHost(req.URL.Hostname()) {
					return fmt.Errorf("redirect to %s denied", req.URL.Hostname())
				}
				return nil
			},
		},
	}
}

func (t *HTTPFetchTool) Definition() models.ToolDef {
	return models.ToolDef{
		Name:        "http_fetch",
		Description: "Fetch a URL over HTTP(S) and return its response body.",
		InputSchema: json.RawMessage(httpFetchSchemaJSON),
	}
}

type httpFetchInput struct {
	URL string `json:"url"`
}

func (t *HTTPFetchTool) Execute(ctx context.Context, input json.RawMessage, toolCtx orchestrator.ToolContext) (orchestrator.ToolResult, error) {
	if _, err := validate(t.schema, input); err != nil {
		return orchestrator.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	var args httpFetchInput
	if err := json.Unmarshal(input, &args); err != nil {
		return orchestrator.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	parsed, err := url.Parse(args.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return orchestrator.ToolResult{Content: fmt.Sprintf("invalid URL: %s", args.URL), IsError: true}, nil
	}
	port := 80
	if parsed.Scheme == "https" {
		port = 443
	}
	if p := parsed.Port(); p != "" {
		if parsedPort, err := strconv.Atoi(p); err == nil {
			port = parsedPort
		}
	}
	if !toolCtx.CheckNetwork(parsed.Hostname(), port) {
		return orchestrator.ToolResult{Content: fmt.Sprintf("network access denied: %s", parsed.Hostname()), IsError: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return orchestrator.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return orchestrator.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxOutputBytes))
	if err != nil {
		return orchestrator.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if resp.StatusCode >= 400 {
		return orchestrator.ToolResult{Content: fmt.Sprintf("http %d: %s", resp.StatusCode, string(body)), IsError: true}, nil
	}
	return orchestrator.ToolResult{Content: string(body)}, nil
}
