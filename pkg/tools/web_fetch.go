package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/httpclient"
)

const webFetchMaxResponseBytes = 512 * 1024

// WebFetchTool retrieves a URL and returns the (truncated) body text.
type WebFetchTool struct {
	cfg        *config.ToolConfig
	httpClient *httpclient.Client
}

type webFetchArgs struct {
	URL      string `json:"url" jsonschema:"required,description=URL to fetch"`
	Method   string `json:"method,omitempty" jsonschema:"description=HTTP method (default GET)"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema:"description=Truncate the response body to this many characters"`
}

func NewWebFetchTool(cfg *config.ToolConfig) *WebFetchTool {
	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
	)
	return &WebFetchTool{cfg: cfg, httpClient: hc}
}

func (t *WebFetchTool) Info() ToolInfo {
	return ToolInfo{
		Name:         "web_fetch",
		Description:  "Fetch a web page and return its textual content.",
		Parameters:   SchemaFor(&webFetchArgs{}),
		ActivityHint: "Fetching {url}",
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any, _ *Ambient) (string, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url parameter is required"), nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return ErrorResult("invalid URL %q", rawURL), nil
	}
	if err := t.validateDomain(parsed.Host); err != nil {
		return ErrorResult("%v", err), nil
	}

	method := http.MethodGet
	if m, ok := args["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != http.MethodGet && method != http.MethodHead {
		return ErrorResult("method %s is not allowed", method), nil
	}

	resp, err := t.httpClient.Do(ctx, method, rawURL, map[string]string{"User-Agent": t.cfg.UserAgent}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return ErrorResult("request failed: %v", err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrorResult("server returned status %d", resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchMaxResponseBytes))
	if err != nil {
		return ErrorResult("failed to read response: %v", err), nil
	}

	text := string(body)
	if maxChars, ok := numericArg(args, "max_chars"); ok && maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars] + "\n...[truncated]"
	}
	return text, nil
}

func (t *WebFetchTool) validateDomain(host string) error {
	host = strings.ToLower(host)
	for _, denied := range t.cfg.DeniedDomains {
		if matchesDomain(host, denied) {
			return fmt.Errorf("domain %s is denied", host)
		}
	}
	if len(t.cfg.AllowedDomains) == 0 {
		return nil
	}
	for _, allowed := range t.cfg.AllowedDomains {
		if matchesDomain(host, allowed) {
			return nil
		}
	}
	return fmt.Errorf("domain %s is not in the allowed list", host)
}

func matchesDomain(host, pattern string) bool {
	pattern = strings.ToLower(pattern)
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

// numericArg reads an integer argument that may arrive as float64 from JSON.
func numericArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
