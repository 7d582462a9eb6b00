package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/nightshift-run/nightshift/internal/logger"
	"github.com/nightshift-run/nightshift/internal/secrets"
)

const maxFetchSize = 5 * 1024 * 1024

// FetchTool retrieves web content for the agent, converting HTML to
// markdown or plain text so the model gets readable input.
type FetchTool struct {
	client  *http.Client
	secrets *secrets.Store
	log     *logger.Logger
}

// NewFetchTool creates the tool. secrets may be nil.
func NewFetchTool(sec *secrets.Store, log *logger.Logger) *FetchTool {
	return &FetchTool{
		client:  &http.Client{Timeout: 30 * time.Second},
		secrets: sec,
		log:     log,
	}
}

func (t *FetchTool) Name() string { return "fetch" }

func (t *FetchTool) Description() string {
	return "Fetch content from a URL. HTML pages are converted to markdown by default."
}

func (t *FetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to fetch. Must start with http:// or https://",
			},
			"format": map[string]any{
				"type":        "string",
				"enum":        []string{"markdown", "text", "html", "json"},
				"default":     "markdown",
				"description": "Output format: markdown (default), text (tags stripped), html (raw), json (pretty-printed)",
			},
			"headers": map[string]any{
				"type":                 "object",
				"description":          "Optional HTTP headers. Use $SECRET_NAME to reference stored secrets.",
				"additionalProperties": map[string]any{"type": "string"},
			},
		},
		"required": []string{"url"},
	}
}

type fetchArgs struct {
	URL     string            `json:"url"`
	Format  string            `json:"format"`
	Headers map[string]string `json:"headers"`
}

// Execute implements Tool.
func (t *FetchTool) Execute(ctx context.Context, args string) (string, error) {
	var a fetchArgs
	if err := parseArgs(args, &a); err != nil {
		return "", err
	}
	if !strings.HasPrefix(a.URL, "http://") && !strings.HasPrefix(a.URL, "https://") {
		return "", fmt.Errorf("url must start with http:// or https://")
	}
	if a.Format == "" {
		a.Format = "markdown"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "nightshift/1.0")
	for k, v := range a.Headers {
		if t.secrets != nil {
			v = t.secrets.Resolve(v)
		}
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", a.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	t.log.Debug("fetched url",
		logger.Field{Key: "url", Value: a.URL},
		logger.Field{Key: "status", Value: resp.StatusCode},
		logger.Field{Key: "bytes", Value: len(body)},
	)

	content := string(body)
	switch a.Format {
	case "html":
	case "json":
		content = prettyJSON(content)
	case "text":
		content = stripHTML(content)
	case "markdown":
		content = htmlToMarkdown(content)
	default:
		return "", fmt.Errorf("unknown format: %s", a.Format)
	}

	if t.secrets != nil {
		content = t.secrets.Redact(content)
	}
	if resp.StatusCode >= 400 {
		return content, fmt.Errorf("fetch %s: status %d", a.URL, resp.StatusCode)
	}
	return content, nil
}

func prettyJSON(s string) string {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s
	}
	return string(out)
}

var (
	reScript = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	reStyle  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	reTags   = regexp.MustCompile(`<[^>]+>`)
	reSpace  = regexp.MustCompile(`[ \t]+`)
	reBlank  = regexp.MustCompile(`\n{3,}`)
)

func stripHTML(html string) string {
	html = reScript.ReplaceAllString(html, "")
	html = reStyle.ReplaceAllString(html, "")
	html = reTags.ReplaceAllString(html, "\n")
	html = reSpace.ReplaceAllString(html, " ")
	html = reBlank.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}

func htmlToMarkdown(html string) string {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:    "atx",
		CodeBlockStyle:  "fenced",
		EmDelimiter:     "*",
		StrongDelimiter: "**",
	})
	converter.Keep("a", "img")

	empty := ""
	converter.AddRules(md.Rule{
		Filter: []string{"nav", "footer", "aside", "script", "style"},
		Replacement: func(content string, sel *goquery.Selection, opt *md.Options) *string {
			return &empty
		},
	})

	markdown, err := converter.ConvertString(html)
	if err != nil {
		// Fall back to tag stripping on conversion failure.
		return stripHTML(html)
	}
	markdown = reBlank.ReplaceAllString(markdown, "\n\n")
	return strings.TrimSpace(markdown)
}
