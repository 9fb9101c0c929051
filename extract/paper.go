package extract

import (
	"strings"
	"unicode/utf8"
)

const (
	unknownTitle    = "Unknown Title"
	maxContentChars = 5000
)

// Paper holds the fields an extractor managed to find on a page.
type Paper struct {
	Title    string
	Authors  string
	Abstract string
	Keywords string
	DOI      string
	Subjects string
	Content  string
	Sections []string
}

// Format renders the paper in the labeled text interchange format. Empty
// fields are omitted; the title is always present.
func (p Paper) Format() string {
	var b strings.Builder
	write := func(label, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\n\n")
	}

	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = unknownTitle
	}
	write("Title", title)
	write("Authors", p.Authors)
	write("Abstract", p.Abstract)
	write("Keywords", p.Keywords)
	write("DOI", p.DOI)
	write("Subjects", p.Subjects)
	write("Content", p.Content)
	if len(p.Sections) > 0 {
		b.WriteString("Sections:\n")
		b.WriteString(strings.Join(p.Sections, "\n\n"))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// ValidContent is the acceptance test for generic extraction: at least 200
// characters, a "Title:" label with 10 or more characters after it, and an
// "Abstract:" or "Content:" label.
func ValidContent(text string) bool {
	if utf8.RuneCountInString(text) < 200 {
		return false
	}
	_, after, found := strings.Cut(text, "Title:")
	if !found || utf8.RuneCountInString(strings.TrimSpace(after)) < 10 {
		return false
	}
	return strings.Contains(text, "Abstract:") || strings.Contains(text, "Content:")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
