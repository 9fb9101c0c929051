package extract

import (
	"net/url"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

var selectors sync.Map

func compile(css string) cascadia.Selector {
	if cached, ok := selectors.Load(css); ok {
		return cached.(cascadia.Selector)
	}
	sel, err := cascadia.Compile(css)
	if err != nil {
		return nil
	}
	selectors.Store(css, sel)
	return sel
}

func parseHTML(page string) (*html.Node, error) {
	return html.Parse(strings.NewReader(page))
}

func queryFirst(n *html.Node, css string) *html.Node {
	sel := compile(css)
	if sel == nil || n == nil {
		return nil
	}
	return sel.MatchFirst(n)
}

func queryAll(n *html.Node, css string) []*html.Node {
	sel := compile(css)
	if sel == nil || n == nil {
		return nil
	}
	return sel.MatchAll(n)
}

func isHidden(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "script", "style", "noscript", "template", "head":
		return true
	}
	return false
}

// nodeText returns the visible text under n with whitespace collapsed.
func nodeText(n *html.Node) string {
	return strings.Join(nodeLines(n), " ")
}

// nodeLines returns every non-empty visible text node under n, one per line.
func nodeLines(n *html.Node) []string {
	var lines []string
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			if t := strings.Join(strings.Fields(cur.Data), " "); t != "" {
				lines = append(lines, t)
			}
			return
		}
		if isHidden(cur) && cur != n {
			return
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return lines
}

// firstText returns the text of the first selector that matches something
// non-empty.
func firstText(doc *html.Node, css ...string) string {
	for _, c := range css {
		if text := nodeText(queryFirst(doc, c)); text != "" {
			return text
		}
	}
	return ""
}

// joinedText concatenates the text of every match of css.
func joinedText(doc *html.Node, css string) string {
	nodes := queryAll(doc, css)
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if text := nodeText(n); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// nextElement returns the element following n in document order, skipping
// n's own subtree.
func nextElement(n *html.Node) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		for sib := cur.NextSibling; sib != nil; sib = sib.NextSibling {
			if sib.Type == html.ElementNode {
				return sib
			}
		}
	}
	return nil
}

func pageTitle(doc *html.Node) string {
	if t := nodeText(queryFirst(doc, "title")); t != "" {
		return t
	}
	if t := nodeText(queryFirst(doc, "h1")); t != "" {
		return t
	}
	return unknownTitle
}

// readableText extracts the article body with readability, falling back to
// the visible text of <body>.
func readableText(page, pageURL string, doc *html.Node) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		parsed = &url.URL{}
	}
	if article, err := readability.FromReader(strings.NewReader(page), parsed); err == nil {
		if text := strings.Join(strings.Fields(article.TextContent), " "); text != "" {
			return text
		}
	}
	return nodeText(queryFirst(doc, "body"))
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(parsed.Host)
}
