package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"
)

const defaultHuggingFaceURL = "https://api-inference.huggingface.co"

type huggingFaceEmbedder struct {
	baseURL     string
	apiKey      string
	model       string
	dimension   int
	batchSize   int
	concurrency int
	client      *http.Client
}

type huggingFaceRequest struct {
	Inputs  []string           `json:"inputs"`
	Options huggingFaceOptions `json:"options"`
}

type huggingFaceOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

// NewHuggingFaceEmbedder calls the Inference API feature-extraction pipeline.
// Batches are sent concurrently; results keep input order.
func NewHuggingFaceEmbedder(opts Options) Embedder {
	base := strings.TrimRight(opts.HuggingFaceBaseURL, "/")
	if base == "" {
		base = defaultHuggingFaceURL
	}
	return &huggingFaceEmbedder{
		baseURL:     base,
		apiKey:      opts.HuggingFaceAPIKey,
		model:       opts.Model,
		dimension:   opts.Dimension,
		batchSize:   opts.batchSize(),
		concurrency: opts.concurrency(),
		client:      &http.Client{Timeout: opts.timeout()},
	}
}

func (e *huggingFaceEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			vectors, err := e.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(results[start:end], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *huggingFaceEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(huggingFaceRequest{Inputs: texts, Options: huggingFaceOptions{WaitForModel: true}})
	if err != nil {
		return nil, fmt.Errorf("marshal huggingface request: %w", err)
	}

	url := fmt.Sprintf("%s/pipeline/feature-extraction/%s", e.baseURL, e.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create huggingface request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call huggingface feature-extraction API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("huggingface feature-extraction returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decode huggingface response: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("huggingface returned %d embeddings for %d inputs", len(vectors), len(texts))
	}
	for _, vec := range vectors {
		if err := checkDimension("huggingface", e.dimension, vec); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}
