package extract

import "regexp"

var paperIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`arxiv\.org/abs/(\d+\.\d+)`),
	regexp.MustCompile(`doi\.org/([^/]+/[^/]+)`),
	regexp.MustCompile(`(\d{4}\.\d{4,5})`),
	regexp.MustCompile(`paper[=/](\w+)`),
	regexp.MustCompile(`article[=/](\w+)`),
	regexp.MustCompile(`document/(\d+)`),
	regexp.MustCompile(`pii/(S\w+)`),
	regexp.MustCompile(`([^/]+)$`),
}

// PaperID pulls a paper identifier out of a URL, trying arXiv ids, DOIs and
// publisher-specific paths before falling back to the last path segment.
// It returns "" when nothing matches.
func PaperID(url string) string {
	for _, re := range paperIDPatterns {
		if m := re.FindStringSubmatch(url); m != nil && m[1] != "" {
			return m[1]
		}
	}
	return ""
}
