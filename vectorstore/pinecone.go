package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/retry"
)

const (
	defaultPineconeURL     = "https://api.pinecone.io"
	defaultPineconeVersion = "2025-04"
	upsertBatchSize        = 100
)

var errIndexNotFound = errors.New("pinecone index not found")

type PineconeOptions struct {
	APIKey     string
	APIVersion string
	BaseURL    string
	IndexName  string
	Cloud      string
	Region     string
	Timeout    time.Duration
	// Ready bounds the wait for a freshly created index to become ready.
	Ready retry.Policy
}

// Pinecone talks to the Pinecone REST API: the control plane for index
// lifecycle and the index host for data operations.
type Pinecone struct {
	opts   PineconeOptions
	client *http.Client
	log    *logger.Logger

	mu   sync.Mutex
	host string
}

func NewPinecone(opts PineconeOptions, log *logger.Logger) *Pinecone {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = defaultPineconeURL
	}
	if opts.APIVersion == "" {
		opts.APIVersion = defaultPineconeVersion
	}
	if opts.Cloud == "" {
		opts.Cloud = "aws"
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Ready.MaxAttempts == 0 {
		opts.Ready = retry.Policy{MaxAttempts: 10, InitialDelay: time.Second, Multiplier: 1.5}
	}
	return &Pinecone{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		log:    logger.OrNop(log).With("backend", "pinecone", "index", opts.IndexName),
	}
}

type indexDescription struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Host      string `json:"host"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

type createIndexRequest struct {
	Name      string    `json:"name"`
	Dimension int       `json:"dimension"`
	Metric    string    `json:"metric"`
	Spec      indexSpec `json:"spec"`
}

type indexSpec struct {
	Serverless serverlessSpec `json:"serverless"`
}

type serverlessSpec struct {
	Cloud  string `json:"cloud"`
	Region string `json:"region"`
}

type pineconeVector struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata Metadata  `json:"metadata"`
}

type upsertRequest struct {
	Vectors []pineconeVector `json:"vectors"`
}

type queryRequest struct {
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	IncludeMetadata bool           `json:"includeMetadata"`
	Filter          map[string]any `json:"filter,omitempty"`
}

type queryResponse struct {
	Matches []struct {
		ID       string   `json:"id"`
		Score    float32  `json:"score"`
		Metadata Metadata `json:"metadata"`
	} `json:"matches"`
}

type deleteRequest struct {
	Filter    map[string]any `json:"filter,omitempty"`
	DeleteAll bool           `json:"deleteAll,omitempty"`
}

func (p *Pinecone) EnsureIndex(ctx context.Context, dimension int) error {
	desc, err := p.describe(ctx)
	if errors.Is(err, errIndexNotFound) {
		p.log.Info("creating index", "dimension", dimension, "cloud", p.opts.Cloud, "region", p.opts.Region)
		if err := p.create(ctx, dimension); err != nil {
			return err
		}
		desc, err = p.waitReady(ctx)
	}
	if err != nil {
		return err
	}
	if desc.Dimension != dimension {
		return mismatch(p.opts.IndexName, desc.Dimension, dimension)
	}
	p.setHost(desc.Host)
	return nil
}

func (p *Pinecone) DropIndex(ctx context.Context) error {
	err := p.control(ctx, http.MethodDelete, "/indexes/"+p.opts.IndexName, nil, nil)
	if err != nil && !errors.Is(err, errIndexNotFound) {
		return fmt.Errorf("delete index: %w", err)
	}
	p.setHost("")
	return nil
}

func (p *Pinecone) Upsert(ctx context.Context, records []Record) error {
	for start := 0; start < len(records); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(records))
		batch := make([]pineconeVector, 0, end-start)
		for _, r := range records[start:end] {
			batch = append(batch, pineconeVector{ID: r.ID, Values: r.Values, Metadata: r.Metadata})
		}
		if err := p.data(ctx, "/vectors/upsert", upsertRequest{Vectors: batch}, nil); err != nil {
			return fmt.Errorf("upsert vectors %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (p *Pinecone) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	var resp queryResponse
	req := queryRequest{Vector: vector, TopK: topK, IncludeMetadata: true, Filter: pineconeFilter(filter)}
	if err := p.data(ctx, "/query", req, &resp); err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	matches := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		matches = append(matches, Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}
	return matches, nil
}

func (p *Pinecone) Delete(ctx context.Context, filter Filter) error {
	req := deleteRequest{Filter: pineconeFilter(filter), DeleteAll: filter.Empty()}
	if err := p.data(ctx, "/vectors/delete", req, nil); err != nil {
		return fmt.Errorf("delete vectors (%s): %w", filter, err)
	}
	return nil
}

func pineconeFilter(f Filter) map[string]any {
	switch {
	case f.SessionID != "":
		return map[string]any{"session_id": map[string]string{"$eq": f.SessionID}}
	case f.Source != "":
		return map[string]any{"source": map[string]string{"$eq": f.Source}}
	default:
		return nil
	}
}

func (p *Pinecone) describe(ctx context.Context) (indexDescription, error) {
	var desc indexDescription
	if err := p.control(ctx, http.MethodGet, "/indexes/"+p.opts.IndexName, nil, &desc); err != nil {
		return indexDescription{}, err
	}
	return desc, nil
}

func (p *Pinecone) create(ctx context.Context, dimension int) error {
	req := createIndexRequest{
		Name:      p.opts.IndexName,
		Dimension: dimension,
		Metric:    "cosine",
		Spec:      indexSpec{Serverless: serverlessSpec{Cloud: p.opts.Cloud, Region: p.opts.Region}},
	}
	if err := p.control(ctx, http.MethodPost, "/indexes", req, nil); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

func (p *Pinecone) waitReady(ctx context.Context) (indexDescription, error) {
	desc, _, err := retry.Do(ctx, p.opts.Ready, func(ctx context.Context, _ int) (indexDescription, error) {
		return p.describe(ctx)
	}, func(d indexDescription, err error) bool {
		return err != nil || !d.Status.Ready
	})
	if err != nil {
		return indexDescription{}, fmt.Errorf("wait for index ready: %w", err)
	}
	return desc, nil
}

func (p *Pinecone) setHost(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.host = host
}

// dataURL resolves the index host, describing the index on first use.
func (p *Pinecone) dataURL(ctx context.Context, path string) (string, error) {
	p.mu.Lock()
	host := p.host
	p.mu.Unlock()

	if host == "" {
		desc, err := p.describe(ctx)
		if err != nil {
			return "", fmt.Errorf("resolve index host: %w", err)
		}
		host = desc.Host
		p.setHost(host)
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return strings.TrimRight(host, "/") + path, nil
}

func (p *Pinecone) control(ctx context.Context, method, path string, body, out any) error {
	return p.do(ctx, method, p.opts.BaseURL+path, body, out)
}

func (p *Pinecone) data(ctx context.Context, path string, body, out any) error {
	url, err := p.dataURL(ctx, path)
	if err != nil {
		return err
	}
	return p.do(ctx, http.MethodPost, url, body, out)
}

func (p *Pinecone) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Api-Key", p.opts.APIKey)
	req.Header.Set("X-Pinecone-Api-Version", p.opts.APIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("call pinecone: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errIndexNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("pinecone returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode pinecone response: %w", err)
	}
	return nil
}

var _ Store = (*Pinecone)(nil)
