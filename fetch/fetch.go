// Package fetch retrieves web content for the model: HTML reduced to
// readable text, PDFs flattened page by page, everything else passed
// through as-is. Outbound requests are restricted to public http(s)
// hosts so the model cannot probe internal networks.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/nevindra/lolo"
)

const (
	// Timeout bounds one fetch end to end.
	Timeout = 15 * time.Second
	// MaxContentChars caps what the model sees; longer content is cut
	// with an explicit truncation marker.
	MaxContentChars = 25_000
	// maxBodyBytes caps the raw download.
	maxBodyBytes = 50 << 20
)

// TruncationMarker is appended when content is cut. The fetch tool's
// description tells the model to re-fetch with a search term to reach
// later sections.
const TruncationMarker = "\n[TRUNCATED]"

// Page is fetched, extracted content.
type Page struct {
	Title   string
	Content string
	// Truncated reports whether Content was cut at MaxContentChars.
	Truncated bool
}

// Fetcher downloads and extracts pages.
type Fetcher struct {
	http *http.Client
}

// New creates a Fetcher whose transport refuses loopback, private and
// link-local destinations at dial time, so DNS rebinding cannot bypass
// the check.
func New() *Fetcher {
	dialer := &net.Dialer{
		Timeout: Timeout,
		Control: func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip == nil {
				return fmt.Errorf("fetch: unresolvable address %q", host)
			}
			if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
				return fmt.Errorf("fetch: refusing private address %s", ip)
			}
			return nil
		},
	}
	return &Fetcher{
		http: &http.Client{
			Timeout: Timeout,
			Transport: &http.Transport{
				DialContext:       dialer.DialContext,
				DisableKeepAlives: true,
			},
		},
	}
}

// WithHTTPClient replaces the transport. Tests use it; the replacement
// client does not get the private-network guard.
func (f *Fetcher) WithHTTPClient(c *http.Client) *Fetcher {
	f.http = c
	return f
}

// Fetch downloads rawURL and extracts text for display, capped at
// MaxContentChars. searchTerm, when non-empty, selects the window of the
// document around its first occurrence so follow-up fetches can reach
// sections beyond the truncation cap.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, searchTerm string) (*Page, error) {
	page, err := f.FetchDocument(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	page.window(searchTerm)
	return page, nil
}

// FetchDocument downloads rawURL and extracts the full document, with no
// length cap and no truncation marker. Ingestion paths use it; anything
// shown to the model goes through Fetch.
func (f *Fetcher) FetchDocument(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("fetch: scheme %q not allowed, use http or https", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; lolo/1.0)")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &lolo.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	var page *Page
	switch {
	case strings.Contains(contentType, "text/html"):
		page, err = extractHTML(data, u)
	case strings.Contains(contentType, "application/pdf"):
		page, err = extractPDF(data)
	default:
		page = &Page{Content: string(data)}
	}
	if err != nil {
		return nil, err
	}
	if page.Title == "" {
		page.Title = lastPathSegment(u)
	}
	return page, nil
}

// extractHTML reduces an HTML document to its readable article text.
// Hyperlinks survive as [text](url) markdown so the model can follow them.
func extractHTML(data []byte, u *url.URL) (*Page, error) {
	article, err := readability.FromReader(strings.NewReader(string(data)), u)
	if err != nil {
		return nil, fmt.Errorf("fetch: extract html: %w", err)
	}
	content := flattenHTML(article.Content, u)
	if content == "" {
		content = strings.TrimSpace(article.TextContent)
	}
	return &Page{Title: article.Title, Content: content}, nil
}

// flattenHTML walks the readability-cleaned HTML and emits plain text,
// rendering anchors as markdown links with hrefs resolved against base.
func flattenHTML(htmlStr string, base *url.URL) string {
	doc, err := html.Parse(strings.NewReader(htmlStr))
	if err != nil {
		return ""
	}
	var sb strings.Builder
	flattenNode(doc, base, &sb)
	out := sb.String()
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(out)
}

func flattenNode(n *html.Node, base *url.URL, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript":
			return
		case "br":
			sb.WriteString("\n")
			return
		case "a":
			if href, text := resolveHref(n, base), nodeText(n); href != "" && text != "" {
				fmt.Fprintf(sb, "[%s](%s)", text, href)
				return
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		flattenNode(c, base, sb)
	}
	if n.Type == html.ElementNode && blockTags[n.Data] {
		sb.WriteString("\n")
	}
}

var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "tr": true, "section": true,
	"article": true, "header": true, "footer": true, "table": true,
}

func resolveHref(n *html.Node, base *url.URL) string {
	for _, a := range n.Attr {
		if a.Key != "href" {
			continue
		}
		ref, err := url.Parse(strings.TrimSpace(a.Val))
		if err != nil || ref.Scheme == "javascript" {
			return ""
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		return ref.String()
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// extractPDF flattens a PDF with page tags so the model can cite pages.
func extractPDF(data []byte) (*Page, error) {
	reader, err := pdf.NewReader(bytesReaderAt(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("fetch: open pdf: %w", err)
	}
	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "[Page %d]\n%s\n", i, strings.TrimSpace(text))
	}
	title := ""
	if info := reader.Trailer().Key("Info"); !info.IsNull() {
		title = info.Key("Title").Text()
	}
	return &Page{Title: title, Content: strings.TrimSpace(sb.String())}, nil
}

// window cuts Content to the cap. With a search term, the window starts
// shortly before the term's first occurrence.
func (p *Page) window(searchTerm string) {
	content := p.Content
	if searchTerm != "" {
		if i := strings.Index(strings.ToLower(content), strings.ToLower(searchTerm)); i >= 0 {
			start := i - 500
			if start < 0 {
				start = 0
			}
			content = content[start:]
		}
	}
	if len(content) > MaxContentChars {
		content = content[:MaxContentChars-len(TruncationMarker)] + TruncationMarker
		p.Truncated = true
	}
	p.Content = content
}

func lastPathSegment(u *url.URL) string {
	seg := strings.TrimSuffix(u.Path, "/")
	if i := strings.LastIndex(seg, "/"); i >= 0 {
		seg = seg[i+1:]
	}
	if seg == "" {
		return u.Host
	}
	return seg
}

type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
