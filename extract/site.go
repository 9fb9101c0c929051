package extract

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/retry"
)

const minSiteChars = 50

// parseFunc turns a parsed publisher page into labeled text.
type parseFunc func(doc *html.Node) string

// siteExtractor is the shared fetch/retry loop behind the publisher
// extractors; only the parse step differs per site.
type siteExtractor struct {
	name    string
	fetcher Fetcher
	policy  retry.Policy
	parse   parseFunc
	log     *logger.Logger
}

func newSiteExtractor(name string, fetcher Fetcher, policy retry.Policy, log *logger.Logger, parse parseFunc) *siteExtractor {
	return &siteExtractor{
		name:    name,
		fetcher: fetcher,
		policy:  policy,
		parse:   parse,
		log:     logger.OrNop(log).With("extractor", name),
	}
}

func (s *siteExtractor) Name() string { return s.name }

func (s *siteExtractor) Extract(ctx context.Context, url string) Result {
	s.log.Info("starting site extraction", "url", url)

	policy := s.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		s.log.Warn("extracted data too short or empty", "url", url, "attempt", attempt, "retry_in", delay, "error", err)
	}

	text, attempts, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (string, error) {
		page, err := s.fetcher.Fetch(ctx, url)
		if err != nil {
			return "", err
		}
		doc, err := parseHTML(page)
		if err != nil {
			return "", fmt.Errorf("parse page: %w", err)
		}
		return s.parse(doc), nil
	}, func(text string, err error) bool {
		return err != nil || utf8.RuneCountInString(text) < minSiteChars
	})
	if err != nil {
		s.log.Error("site extraction failed", "url", url, "attempts", attempts, "error", err)
		res := Failed(url, s.name, fmt.Sprintf("Failed to extract meaningful content from %s after %d attempts", url, attempts))
		res.Attempts = attempts
		return res
	}

	s.log.Info("site extraction succeeded", "url", url, "chars", utf8.RuneCountInString(text))
	res := OK(url, s.name, text)
	res.Attempts = attempts
	return res
}

var _ Extractor = (*siteExtractor)(nil)
