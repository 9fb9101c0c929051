package extract

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/retry"
)

// NewScienceDirect returns the extractor for sciencedirect.com article pages.
func NewScienceDirect(fetcher Fetcher, policy retry.Policy, log *logger.Logger) Extractor {
	return newSiteExtractor("sciencedirect", fetcher, policy, log, parseScienceDirect)
}

func parseScienceDirect(doc *html.Node) string {
	p := Paper{
		Title:   firstText(doc, ".title-text", "title"),
		Authors: joinedText(doc, ".author, .react-xocs-alternative-link"),
		DOI:     joinedText(doc, ".doi"),
		Abstract: stripLabel(firstText(doc,
			"#abstracts", "#abs0010", `div[class*="abstract"]`, `section[class*="abstract"]`, ".Abstracts",
		), "Abstract"),
	}

	for _, s := range queryAll(doc, `section[id^="sec"]`) {
		if text := nodeText(s); text != "" {
			p.Sections = append(p.Sections, text)
		}
	}

	if article := nodeText(queryFirst(doc, "article")); utf8.RuneCountInString(article) > 200 {
		p.Content = truncateRunes(article, maxContentChars)
	}

	if p.Abstract == "" && p.Content == "" && len(p.Sections) == 0 {
		var paras []string
		for _, para := range queryAll(doc, "p") {
			if text := nodeText(para); utf8.RuneCountInString(text) > 100 {
				paras = append(paras, text)
				if len(paras) == 10 {
					break
				}
			}
		}
		p.Content = truncateRunes(strings.Join(paras, "\n\n"), maxContentChars)
	}
	if p.Abstract == "" && p.Content == "" && len(p.Sections) == 0 {
		return ""
	}
	return p.Format()
}
