package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/swival/swival/internal/errs"
	"github.com/swival/swival/internal/outputcaps"
	"github.com/swival/swival/internal/tool"
)

const (
	fetchTimeout      = 15 * time.Second
	fetchMaxBody      = 2 << 20 // 2MB
	fetchMaxRedirects = 10
	fetchUserAgent    = "swival/1.0 (+agent fetch_url tool)"
)

// isDisallowedAddr reports whether ip belongs to an address class fetch_url
// must never connect to: private, loopback, link-local, multicast, or
// unspecified. This is checked on every DNS resolution — the initial
// connection and every redirect hop — so a server cannot bait the agent
// into hitting internal infrastructure through a DNS rebind or a redirect
// to a private IP.
func isDisallowedAddr(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified()
}

// ssrfSafeDialContext resolves host, rejects it if any resolved address is
// disallowed, and only then dials — so the guard applies to the address
// actually used for the connection, not just whatever the caller claims
// the hostname points to.
func ssrfSafeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if isDisallowedAddr(ip) {
			return nil, errs.New(errs.PrivateAddress, fmt.Sprintf("%s resolves to a disallowed address %s", host, ip))
		}
	}
	d := net.Dialer{Timeout: fetchTimeout}
	return d.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
}

// checkRedirect is the redirect policy for fetch_url. The client calls it
// before following each redirect with via holding the requests made so far,
// so following the Nth redirect sees len(via) == N: a chain of exactly
// fetchMaxRedirects hops is allowed, one more fails with RedirectLimit.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > fetchMaxRedirects {
		return errs.New(errs.RedirectLimit, fmt.Sprintf("exceeded %d redirects", fetchMaxRedirects))
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return errs.New(errs.SchemeNotAllowed, fmt.Sprintf("redirect to unsupported scheme %q", req.URL.Scheme))
	}
	return nil
}

func newFetchClient() *http.Client {
	transport := &http.Transport{DialContext: ssrfSafeDialContext}
	return &http.Client{
		Timeout:       fetchTimeout,
		Transport:     transport,
		CheckRedirect: checkRedirect,
	}
}

// FetchURLTool implements fetch_url(url).
type FetchURLTool struct {
	sb     *Sandbox
	client *http.Client
}

func NewFetchURLTool(sb *Sandbox) *FetchURLTool {
	return &FetchURLTool{sb: sb, client: newFetchClient()}
}

func (t *FetchURLTool) Name() string        { return "fetch_url" }
func (t *FetchURLTool) Description() string { return "Fetch a URL and return its extracted text content." }
func (t *FetchURLTool) Init(context.Context) error { return nil }
func (t *FetchURLTool) Close() error               { return nil }

func (t *FetchURLTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "url", Type: "string", Description: "URL to fetch; must be http:// or https://.", Required: true},
	)
}

type fetchURLArgs struct {
	URL string `json:"url"`
}

func (t *FetchURLTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a fetchURLArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fail(errs.InvalidToolArguments, "%v", err)
	}
	url := strings.TrimSpace(a.URL)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fail(errs.SchemeNotAllowed, "url must begin with http:// or https://")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fail(errs.InvalidToolArguments, "%v", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		if kind, ok := errs.KindOf(err); ok {
			return fail(kind, "%v", err)
		}
		return fail(errs.ProviderError, "request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fail(errs.ProviderError, "HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	limited := io.LimitReader(resp.Body, fetchMaxBody)
	contentType := resp.Header.Get("Content-Type")
	ctLower := strings.ToLower(contentType)

	var text string
	switch {
	case strings.Contains(ctLower, "application/json"):
		raw, _ := io.ReadAll(limited)
		var pretty bytes.Buffer
		if json.Indent(&pretty, raw, "", "  ") == nil {
			text = pretty.String()
		} else {
			text = string(raw)
		}
	case strings.Contains(ctLower, "text/plain"):
		raw, _ := io.ReadAll(limited)
		text = string(raw)
	case strings.Contains(ctLower, "text/html") || strings.Contains(ctLower, "application/xhtml"):
		utf8Reader, err := charset.NewReader(limited, contentType)
		if err != nil {
			utf8Reader = limited
		}
		title, description, content, err := extractContent(utf8Reader)
		if err != nil {
			return fail(errs.BinaryContent, "content parse failed: %v", err)
		}
		var sb strings.Builder
		if title != "" {
			sb.WriteString(fmt.Sprintf("Title: %s\n\n", title))
		}
		if description != "" {
			sb.WriteString(fmt.Sprintf("Description: %s\n\n", description))
		}
		sb.WriteString(content)
		text = sb.String()
	default:
		return fail(errs.BinaryContent, "unsupported content type: %s", contentType)
	}

	capped, err := t.sb.Caps.ApplyText(outputcaps.URLFetch, text)
	if err != nil {
		return tool.ToolResult{}, err
	}
	return ok(capped.Text)
}

// extractContent parses HTML and extracts the <title>, <meta description>,
// and body text, skipping non-content elements like <script>, <style>,
// <nav>, <footer>, <form>. <header> is only skipped at page level (depth
// 0), preserved inside <article>.
func extractContent(r io.Reader) (title string, description string, content string, err error) {
	tokenizer := html.NewTokenizer(r)

	var sb strings.Builder
	var inTitle, inSkip bool
	skipDepth := 0
	articleDepth := 0

	skipTags := map[string]bool{
		"script": true, "style": true, "noscript": true,
		"nav": true, "footer": true, "form": true,
		"aside": true, "iframe": true, "svg": true,
	}

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			parseErr := tokenizer.Err()
			result := collapseBlankLines(strings.TrimSpace(sb.String()))
			if parseErr == io.EOF {
				return title, description, result, nil
			}
			return title, description, result, parseErr

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "meta" && hasAttr && description == "" {
				var nameVal, propertyVal, contentVal string
				for {
					key, val, more := tokenizer.TagAttr()
					switch string(key) {
					case "name":
						nameVal = strings.ToLower(string(val))
					case "property":
						propertyVal = strings.ToLower(string(val))
					case "content":
						contentVal = string(val)
					}
					if !more {
						break
					}
				}
				if nameVal == "description" && contentVal != "" {
					description = contentVal
				} else if propertyVal == "og:description" && contentVal != "" {
					description = contentVal
				}
				continue
			}

			if tt == html.SelfClosingTagToken {
				continue
			}

			if tagName == "title" {
				inTitle = true
			}
			if tagName == "article" {
				articleDepth++
			}
			if tagName == "header" && articleDepth == 0 {
				inSkip = true
				skipDepth++
			}
			if skipTags[tagName] {
				inSkip = true
				skipDepth++
			}
			if !inSkip && isBlockElement(tagName) && sb.Len() > 0 {
				s := sb.String()
				if s[len(s)-1] != '\n' {
					sb.WriteString("\n")
				}
			}
			if !inSkip && (tagName == "td" || tagName == "th") && sb.Len() > 0 {
				s := sb.String()
				if s[len(s)-1] != '\n' && s[len(s)-1] != '|' {
					sb.WriteString(" | ")
				}
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "title" {
				inTitle = false
			}
			if tagName == "article" && articleDepth > 0 {
				articleDepth--
			}
			isPageHeader := tagName == "header" && articleDepth == 0
			if (skipTags[tagName] || isPageHeader) && skipDepth > 0 {
				skipDepth--
				if skipDepth == 0 {
					inSkip = false
				}
			}

		case html.TextToken:
			text := strings.TrimSpace(string(tokenizer.Text()))
			if text == "" {
				continue
			}
			if inTitle && title == "" {
				title = text
				continue
			}
			if !inSkip {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var result []string
	blankCount := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blankCount++
			if blankCount <= 1 {
				result = append(result, line)
			}
		} else {
			blankCount = 0
			result = append(result, line)
		}
	}
	return strings.Join(result, "\n")
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "tr", "br", "hr", "blockquote", "pre",
		"article", "section", "main",
		"table", "thead", "tbody", "tfoot":
		return true
	}
	return false
}
