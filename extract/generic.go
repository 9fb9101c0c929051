package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/retry"
)

const shortResultChars = 500

var (
	abstractSelectors = []string{
		"div#abstract", "section#abstract", "div.abstract", "section.abstract",
		"[class*=abstract]", "[class*=Abstract]",
	}
	authorSelectors = []string{
		"div#authors", "section#authors", "div.authors", "div.author-list",
		"[class*=author]", "[class*=Author]",
	}
	contentSelectors = []string{
		"div#content", "div#main-content", "div#body", "article",
	}
	abstractLabel = regexp.MustCompile(`Abstract[:\s]`)
)

// Generic extracts papers from arbitrary academic pages using layered
// heuristics.
type Generic struct {
	fetcher Fetcher
	policy  retry.Policy
	log     *logger.Logger
}

func NewGeneric(fetcher Fetcher, policy retry.Policy, log *logger.Logger) *Generic {
	return &Generic{
		fetcher: fetcher,
		policy:  policy,
		log:     logger.OrNop(log).With("extractor", "generic"),
	}
}

func (g *Generic) Name() string { return "generic" }

func (g *Generic) Extract(ctx context.Context, url string) Result {
	g.log.Info("starting generic extraction", "url", url)

	policy := g.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		g.log.Warn("extraction attempt not usable", "url", url, "attempt", attempt, "retry_in", delay, "error", err)
	}

	text, attempts, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (string, error) {
		page, err := g.fetcher.Fetch(ctx, url)
		if err != nil {
			return "", err
		}
		return ExtractGeneric(url, page)
	}, func(text string, err error) bool {
		return err != nil || !ValidContent(text)
	})
	if err == nil {
		res := OK(url, g.Name(), text)
		res.Attempts = attempts
		return res
	}

	g.log.Error("all generic extraction attempts failed", "url", url, "attempts", attempts, "error", err)
	res := Failed(url, g.Name(), fmt.Sprintf("Failed to extract content from %s. Please check if the URL is valid and accessible.", url))
	res.Attempts = attempts
	if id := PaperID(url); id != "" {
		res.Text = fmt.Sprintf("Title: Research Paper from %s\nPaper ID: %s\nAbstract: Could not extract content from URL. Using minimal information derived from URL.", hostOf(url), id)
	} else if strings.TrimSpace(text) != "" {
		res.Text = text
	}
	return res
}

// ExtractGeneric applies the generic heuristics to an already fetched page.
func ExtractGeneric(pageURL, page string) (string, error) {
	doc, err := parseHTML(page)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	p := Paper{
		Title:    pageTitle(doc),
		Authors:  findAuthors(doc),
		Abstract: findAbstract(doc),
		Content:  mainContent(doc),
	}
	if p.Content == "" {
		p.Content = paragraphContent(doc, 10)
	}

	text := p.Format()
	if utf8.RuneCountInString(text) < shortResultChars {
		applySiteOverrides(doc, hostOf(pageURL), &p)
		text = p.Format()
	}
	if !ValidContent(text) {
		p.Content = truncateRunes(readableText(page, pageURL, doc), maxContentChars)
		text = p.Format()
	}
	return text, nil
}

func findAbstract(doc *html.Node) string {
	for _, css := range abstractSelectors {
		if text := stripLabel(nodeText(queryFirst(doc, css)), "Abstract"); utf8.RuneCountInString(text) > 50 {
			return text
		}
	}

	for _, h := range queryAll(doc, "h1, h2, h3, h4") {
		if strings.EqualFold(nodeText(h), "abstract") {
			if text := nodeText(nextElement(h)); utf8.RuneCountInString(text) > 50 {
				return text
			}
		}
	}

	return scanAbstractLabel(doc)
}

// scanAbstractLabel finds a text node mentioning "Abstract" and takes the
// block right after it, or the enclosing block when that is long enough.
func scanAbstractLabel(doc *html.Node) string {
	var found string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if isHidden(n) {
			return false
		}
		if n.Type == html.TextNode && abstractLabel.MatchString(n.Data) && n.Parent != nil {
			if text := nodeText(nextElement(n.Parent)); utf8.RuneCountInString(text) > 50 {
				found = text
				return true
			}
			if text := nodeText(n.Parent); utf8.RuneCountInString(text) > 100 {
				found = stripLabel(text, "Abstract")
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return found
}

func findAuthors(doc *html.Node) string {
	for _, css := range authorSelectors {
		if text := stripLabel(nodeText(queryFirst(doc, css)), "Authors"); text != "" {
			return text
		}
	}
	for _, h := range queryAll(doc, "h1, h2, h3, h4") {
		label := strings.ToLower(nodeText(h))
		if label == "authors" || label == "author" {
			if text := nodeText(nextElement(h)); text != "" {
				return text
			}
		}
	}

	metas := queryAll(doc, `meta[name="citation_author"]`)
	names := make([]string, 0, len(metas))
	for _, m := range metas {
		if v := strings.TrimSpace(attr(m, "content")); v != "" {
			names = append(names, v)
		}
	}
	return strings.Join(names, ", ")
}

func mainContent(doc *html.Node) string {
	for _, css := range contentSelectors {
		if text := nodeText(queryFirst(doc, css)); utf8.RuneCountInString(text) > 200 {
			return truncateRunes(text, maxContentChars)
		}
	}
	return strings.Join(longSections(doc, "section", 5), "\n\n")
}

func longSections(doc *html.Node, css string, limit int) []string {
	var texts []string
	for _, s := range queryAll(doc, css) {
		if text := nodeText(s); utf8.RuneCountInString(text) > 200 {
			texts = append(texts, text)
			if len(texts) == limit {
				break
			}
		}
	}
	return texts
}

func paragraphContent(doc *html.Node, limit int) string {
	var paras []string
	for _, p := range queryAll(doc, "p") {
		if text := nodeText(p); utf8.RuneCountInString(text) > 100 {
			paras = append(paras, text)
			if len(paras) == limit {
				break
			}
		}
	}
	return strings.Join(paras, " ")
}

// applySiteOverrides layers publisher-specific selectors over a thin generic
// result.
func applySiteOverrides(doc *html.Node, host string, p *Paper) {
	switch {
	case strings.Contains(host, "arxiv.org"):
		if title := stripLabel(nodeText(queryFirst(doc, "h1.title")), "Title"); title != "" {
			*p = Paper{Title: title}
		}
		if abstract := stripLabel(nodeText(queryFirst(doc, "blockquote.abstract")), "Abstract"); abstract != "" {
			p.Abstract = abstract
		}
		if authors := stripLabel(nodeText(queryFirst(doc, "div.authors")), "Authors"); authors != "" {
			p.Authors = authors
		}
	case strings.Contains(host, "ieee"):
		if abstract := nodeText(queryFirst(doc, "div.abstract-text")); abstract != "" {
			p.Abstract = abstract
		}
		p.Sections = append(p.Sections, headedSections(doc, "div.section", 5)...)
	case strings.Contains(host, "sciencedirect"):
		if abstract := nodeText(queryFirst(doc, "div.abstract")); abstract != "" {
			p.Abstract = abstract
		}
		p.Sections = append(p.Sections, longSections(doc, "section", 5)...)
	}
}

func headedSections(doc *html.Node, css string, limit int) []string {
	var out []string
	for _, s := range queryAll(doc, css) {
		heading := nodeText(queryFirst(s, "h2, h3"))
		if heading == "" {
			continue
		}
		body := strings.TrimSpace(strings.Replace(nodeText(s), heading, "", 1))
		out = append(out, heading+":\n"+body)
		if len(out) == limit {
			break
		}
	}
	return out
}

func stripLabel(text, label string) string {
	text = strings.TrimSpace(text)
	for _, prefix := range []string{label + ":", label} {
		if len(text) >= len(prefix) && strings.EqualFold(text[:len(prefix)], prefix) {
			return strings.TrimSpace(text[len(prefix):])
		}
	}
	return text
}

var _ Extractor = (*Generic)(nil)
