package lolo

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
	"golang.org/x/text/unicode/norm"
)

// PostProcess turns raw model output and the request's accumulated
// citation URLs into one IRC-safe line: markdown flattened to plain
// text, links reduced to their labels, any self-authored Sources
// section replaced by a clean appendix built from citations.
func PostProcess(raw string, citations []string) string {
	text := FlattenMarkdown(raw)
	text = stripBareDomains(text)
	text = stripSourcesSection(text)
	text = collapseWhitespace(text)
	text = strings.TrimSuffix(text, ".")
	text = norm.NFC.String(text)
	if len(citations) > 0 {
		text += " | Sources: " + strings.Join(citations, " , ")
	}
	return text
}

// CleanCitationURL strips utm_* tracking query parameters. Malformed
// URLs come back unchanged.
func CleanCitationURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, p := range []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"} {
		if q.Has(p) {
			q.Del(p)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// MergeCitations appends the cleaned URLs of next onto acc, preserving
// order of first appearance and dropping duplicates.
func MergeCitations(acc []string, next []string) []string {
	seen := make(map[string]bool, len(acc))
	for _, u := range acc {
		seen[u] = true
	}
	for _, u := range next {
		c := CleanCitationURL(u)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		acc = append(acc, c)
	}
	return acc
}

// FlattenMarkdown renders markdown as plain text: links become their
// labels, emphasis markers vanish, code spans keep their content, block
// structure becomes newlines. Falls back to the input on parse failure.
func FlattenMarkdown(md string) string {
	r := renderer.NewRenderer(
		renderer.WithNodeRenderers(
			util.Prioritized(&plainRenderer{}, 1),
		),
	)
	gm := goldmark.New(
		goldmark.WithExtensions(extension.Strikethrough),
		goldmark.WithRenderer(r),
	)
	var buf bytes.Buffer
	if err := gm.Convert([]byte(md), &buf); err != nil {
		return md
	}
	return strings.TrimSpace(buf.String())
}

// plainRenderer implements goldmark's renderer.NodeRenderer to emit
// bare text for every node kind.
type plainRenderer struct{}

func (r *plainRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindDocument, noop)
	reg.Register(ast.KindHeading, r.renderBlockBreak)
	reg.Register(ast.KindParagraph, r.renderBlockBreak)
	reg.Register(ast.KindBlockquote, noop)
	reg.Register(ast.KindFencedCodeBlock, r.renderCodeBlock)
	reg.Register(ast.KindCodeBlock, r.renderCodeBlock)
	reg.Register(ast.KindList, noop)
	reg.Register(ast.KindListItem, r.renderListItem)
	reg.Register(ast.KindTextBlock, r.renderBlockBreak)
	reg.Register(ast.KindThematicBreak, noop)
	reg.Register(ast.KindHTMLBlock, r.renderHTMLBlock)

	reg.Register(ast.KindText, r.renderText)
	reg.Register(ast.KindString, r.renderString)
	reg.Register(ast.KindCodeSpan, noop)
	reg.Register(ast.KindEmphasis, noop)
	reg.Register(ast.KindLink, noop)
	reg.Register(ast.KindAutoLink, r.renderAutoLink)
	reg.Register(ast.KindImage, r.renderImage)
	reg.Register(ast.KindRawHTML, r.renderSkip)

	reg.Register(extast.KindStrikethrough, noop)
}

func noop(_ util.BufWriter, _ []byte, _ ast.Node, _ bool) (ast.WalkStatus, error) {
	return ast.WalkContinue, nil
}

func (r *plainRenderer) renderBlockBreak(w util.BufWriter, _ []byte, _ ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		_, _ = w.WriteString("\n")
	}
	return ast.WalkContinue, nil
}

func (r *plainRenderer) renderCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		lines := node.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			_, _ = w.Write(seg.Value(source))
		}
		_, _ = w.WriteString("\n")
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func (r *plainRenderer) renderListItem(w util.BufWriter, _ []byte, _ ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		_, _ = w.WriteString("\n")
	}
	return ast.WalkContinue, nil
}

func (r *plainRenderer) renderHTMLBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func (r *plainRenderer) renderText(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.Text)
	_, _ = w.Write(n.Segment.Value(source))
	if n.SoftLineBreak() || n.HardLineBreak() {
		_, _ = w.WriteString(" ")
	}
	return ast.WalkContinue, nil
}

func (r *plainRenderer) renderString(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.Write(node.(*ast.String).Value)
	}
	return ast.WalkContinue, nil
}

// Autolinks keep their URL: there is no label to fall back to.
func (r *plainRenderer) renderAutoLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.Write(node.(*ast.AutoLink).URL(source))
	}
	return ast.WalkContinue, nil
}

// Images flatten to their alt text.
func (r *plainRenderer) renderImage(w util.BufWriter, _ []byte, _ ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		return ast.WalkContinue, nil
	}
	return ast.WalkContinue, nil
}

func (r *plainRenderer) renderSkip(_ util.BufWriter, _ []byte, _ ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

var (
	// Parenthetical bare-domain artefacts left behind after link labels
	// replace links, e.g. "(example.com)" or "(www.nytimes.com)".
	bareDomainRe = regexp.MustCompile(`\s*\(\s*(?:www\.)?[a-zA-Z0-9][a-zA-Z0-9.-]*\.(?:com|org|net|edu|gov|io|co|uk|de|fr|jp|info|dev|ai)\s*\)`)

	// A self-authored "Sources:" section at the end of the reply.
	sourcesRe = regexp.MustCompile(`(?is)(?:^|\n|\s\|\s*)sources?\s*:\s*.*$`)

	spaceRe = regexp.MustCompile(`\s+`)
)

func stripBareDomains(s string) string {
	return bareDomainRe.ReplaceAllString(s, "")
}

func stripSourcesSection(s string) string {
	return sourcesRe.ReplaceAllString(s, "")
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
