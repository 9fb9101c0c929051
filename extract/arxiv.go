package extract

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/retry"
)

// NewArxiv returns the extractor for arxiv.org abstract pages.
func NewArxiv(fetcher Fetcher, policy retry.Policy, log *logger.Logger) Extractor {
	return newSiteExtractor("arxiv", fetcher, policy, log, parseArxiv)
}

func parseArxiv(doc *html.Node) string {
	p := Paper{
		Title:    stripLabel(firstText(doc, ".title", "title"), "Title"),
		Authors:  stripLabel(joinedText(doc, ".authors"), "Authors"),
		Abstract: stripLabel(joinedText(doc, ".abstract"), "Abstract"),
		DOI:      stripLabel(joinedText(doc, ".arxivdoi"), "DOI"),
		Subjects: joinedText(doc, ".subjects"),
		Keywords: joinedText(doc, ".subheader"),
	}

	for _, s := range queryAll(doc, `section[id^="sec"], .ltx_section`) {
		if text := nodeText(s); text != "" {
			p.Sections = append(p.Sections, text)
		}
	}

	if p.Authors == "" && p.Abstract == "" && len(p.Sections) == 0 {
		p.Content = truncateRunes(nodeText(queryFirst(doc, "body")), maxContentChars)
	}
	if strings.TrimSpace(p.Content) == "" && p.Abstract == "" && len(p.Sections) == 0 {
		return ""
	}
	return p.Format()
}
