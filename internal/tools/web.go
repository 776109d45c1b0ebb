package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const (
	webUserAgent  = "Mozilla/5.0 (compatible; roadmate/0.1; +https://github.com/roadmate/roadmate)"
	maxRedirects  = 5
	maxFetchBytes = 2 << 20
)

// validateURL checks that url is http(s) with a valid domain.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("only http/https allowed, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing domain in URL")
	}
	return nil
}

// WebFetchTool fetches a URL (road conditions, park pages, fuel prices, ...)
// and extracts its readable text.
type WebFetchTool struct {
	maxChars   int
	httpClient *http.Client
}

// NewWebFetchTool creates a WebFetchTool. maxChars defaults to 20000.
func NewWebFetchTool(maxChars int) *WebFetchTool {
	if maxChars <= 0 {
		maxChars = 20000
	}
	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return &WebFetchTool{maxChars: maxChars, httpClient: client}
}

func (t *WebFetchTool) Name() string { return string(ToolWebFetch) }
func (t *WebFetchTool) Description() string {
	return "Fetch a web page and return its readable text (HTML is reduced to plain text, JSON is pretty-printed)."
}
func (t *WebFetchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {
				"type": "string",
				"description": "URL to fetch"
			},
			"maxChars": {
				"type": "integer",
				"minimum": 100
			}
		},
		"required": ["url"]
	}`)
}

// Execute returns a JSON document describing the fetched page. Transport
// failures and non-2xx responses are returned as errors.
func (t *WebFetchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	rawURL, _ := params["url"].(string)
	if rawURL == "" {
		return "", fmt.Errorf("url is required")
	}
	if err := validateURL(rawURL); err != nil {
		return "", fmt.Errorf("URL validation failed: %w", err)
	}

	maxChars := t.maxChars
	switch v := params["maxChars"].(type) {
	case float64:
		maxChars = int(v)
	case int:
		maxChars = v
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	ctype := resp.Header.Get("Content-Type")
	var text, extractor string
	switch {
	case strings.Contains(ctype, "application/json"):
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			formatted, _ := json.MarshalIndent(v, "", "  ")
			text = string(formatted)
		} else {
			text = string(body)
		}
		extractor = "json"

	case strings.Contains(ctype, "text/html") || isHTMLPrefix(body):
		pageURL, _ := url.Parse(rawURL)
		article, err := readability.FromReader(bytes.NewReader(body), pageURL)
		if err == nil {
			text = stripHTMLTags(article.Content)
			if article.Title != "" {
				text = "# " + article.Title + "\n\n" + text
			}
		} else {
			text = stripHTMLTags(string(body))
		}
		extractor = "readability"

	default:
		text = string(body)
		extractor = "raw"
	}

	runes := []rune(text)
	truncated := len(runes) > maxChars
	if truncated {
		text = string(runes[:maxChars])
	}

	out, _ := json.Marshal(map[string]any{
		"url":       rawURL,
		"finalUrl":  resp.Request.URL.String(),
		"status":    resp.StatusCode,
		"extractor": extractor,
		"truncated": truncated,
		"text":      text,
	})
	return string(out), nil
}

// isHTMLPrefix returns true if the body starts with an HTML declaration.
func isHTMLPrefix(b []byte) bool {
	prefix := strings.ToLower(strings.TrimSpace(string(b[:min(256, len(b))])))
	return strings.HasPrefix(prefix, "<!doctype") || strings.HasPrefix(prefix, "<html")
}

var (
	reScript   = regexp.MustCompile(`(?is)<script[\s\S]*?</script>`)
	reStyle    = regexp.MustCompile(`(?is)<style[\s\S]*?</style>`)
	reBlockEnd = regexp.MustCompile(`(?is)</(p|div|section|article|li|h[1-6])>|<br\s*/?>`)
	reTags     = regexp.MustCompile(`<[^>]+>`)
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
)

// stripHTMLTags removes all HTML tags and normalizes whitespace.
func stripHTMLTags(text string) string {
	text = reScript.ReplaceAllString(text, "")
	text = reStyle.ReplaceAllString(text, "")
	text = reBlockEnd.ReplaceAllString(text, "\n")
	text = reTags.ReplaceAllString(text, "")
	text = reSpaces.ReplaceAllString(text, " ")
	text = reNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
