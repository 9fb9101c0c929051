package extract

import (
	"context"
	"strings"
	"sync"

	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/metrics"
	"github.com/fabfab/paper-agent/retry"
)

// Route maps a host substring to the extractor that handles it.
type Route struct {
	Pattern   string
	Extractor Extractor
}

// Router runs the generic extractor first and falls back to a
// site-specific extractor chosen by host.
type Router struct {
	generic Extractor
	log     *logger.Logger

	mu     sync.RWMutex
	routes []Route
}

func NewRouter(generic Extractor, log *logger.Logger, routes ...Route) *Router {
	return &Router{
		generic: generic,
		log:     logger.OrNop(log).With("component", "router"),
		routes:  routes,
	}
}

// NewDefaultRouter wires the generic extractor and the arXiv, IEEE and
// ScienceDirect extractors over the given fetchers.
func NewDefaultRouter(genericFetcher, siteFetcher Fetcher, policy retry.Policy, log *logger.Logger) *Router {
	return NewRouter(NewGeneric(genericFetcher, policy, log), log,
		Route{Pattern: "arxiv.org", Extractor: NewArxiv(siteFetcher, policy, log)},
		Route{Pattern: "ieeexplore.ieee.org", Extractor: NewIEEE(siteFetcher, policy, log)},
		Route{Pattern: "sciencedirect.com", Extractor: NewScienceDirect(siteFetcher, policy, log)},
	)
}

// Register appends a route. Earlier routes win.
func (r *Router) Register(pattern string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, Route{Pattern: strings.ToLower(pattern), Extractor: e})
}

// Lookup returns the first extractor whose pattern appears in the URL host.
func (r *Router) Lookup(url string) (Extractor, bool) {
	host := hostOf(url)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, route := range r.routes {
		if strings.Contains(host, strings.ToLower(route.Pattern)) {
			return route.Extractor, true
		}
	}
	return nil, false
}

// Fetch never fails: every outcome is encoded in the returned Result.
func (r *Router) Fetch(ctx context.Context, url string) Result {
	res := r.generic.Extract(ctx, url)
	record(res)
	if res.OK() {
		return res
	}

	r.log.Info("generic extraction not usable, checking site registry", "url", url, "reason", res.Reason)
	site, ok := r.Lookup(url)
	if !ok {
		out := Unsupported(url, res.Partial())
		record(out)
		return out
	}

	out := site.Extract(ctx, url)
	record(out)
	return out
}

func (r *Router) Extract(ctx context.Context, url string) Result { return r.Fetch(ctx, url) }

func record(res Result) {
	metrics.Extractions.WithLabelValues(res.Extractor, res.Status.String()).Inc()
}

var _ Extractor = (*Router)(nil)
