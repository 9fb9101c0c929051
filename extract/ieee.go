package extract

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/retry"
)

// NewIEEE returns the extractor for ieeexplore.ieee.org document pages.
func NewIEEE(fetcher Fetcher, policy retry.Policy, log *logger.Logger) Extractor {
	return newSiteExtractor("ieee", fetcher, policy, log, parseIEEE)
}

func parseIEEE(doc *html.Node) string {
	var (
		longest     *html.Node
		longestSize int
	)
	for _, n := range queryAll(doc, ".col-24-24") {
		if size := utf8.RuneCountInString(nodeText(n)); size > longestSize {
			longest, longestSize = n, size
		}
	}
	if longestSize >= 100 {
		return restructureIEEE(nodeLines(longest))
	}

	title := firstText(doc, ".document-title", "title")
	var abstracts []string
	for _, n := range queryAll(doc, `div[class*="abstract"], section[class*="abstract"], [id*="abstract"]`) {
		if text := nodeText(n); text != "" {
			abstracts = append(abstracts, text)
		}
	}

	var blocks []string
	for _, s := range queryAll(doc, "section") {
		if text := nodeText(s); utf8.RuneCountInString(text) > 50 {
			blocks = append(blocks, text)
		}
	}
	if len(blocks) == 0 {
		for _, para := range queryAll(doc, "p") {
			if text := nodeText(para); utf8.RuneCountInString(text) > 50 {
				blocks = append(blocks, text)
			}
		}
	}

	p := Paper{
		Title:    title,
		Authors:  firstText(doc, ".authors-info", ".authors-container"),
		Abstract: strings.Join(abstracts, "\n"),
		Keywords: joinedText(doc, ".doc-keywords-list"),
		Content:  truncateRunes(strings.Join(blocks, "\n\n"), maxContentChars),
	}
	if p.Abstract == "" && p.Content == "" {
		return ""
	}
	return p.Format()
}

// restructureIEEE turns the text lines of a page block into labeled fields:
// the first line is the title, the line after an "Abstract" marker is the
// abstract, and author/keyword lines are picked out by their labels.
func restructureIEEE(lines []string) string {
	var p Paper
	if len(lines) > 1 {
		p.Title = strings.TrimSpace(lines[0])
	}
	for i, line := range lines {
		switch {
		case strings.Contains(line, "Abstract") && i+1 < len(lines):
			p.Abstract = strings.TrimSpace(lines[i+1])
		case strings.Contains(line, "Author") || strings.Contains(line, "AUTHORS"):
			p.Authors = stripLabel(line, "Authors")
		case strings.Contains(line, "Keyword") || strings.Contains(line, "KEYWORDS"):
			p.Keywords = stripLabel(line, "Keywords")
		}
	}
	if p.Title == "" && p.Abstract == "" {
		p.Title = "IEEE Paper"
		p.Content = truncateRunes(strings.Join(lines, " "), maxContentChars)
	}
	return p.Format()
}
