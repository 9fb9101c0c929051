package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultHuggingFaceURL = "https://api-inference.huggingface.co"

// StatusError reports a non-200 answer from the text-generation endpoint,
// as opposed to a transport failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("huggingface text-generation returned %d: %s", e.Code, e.Body)
}

type huggingFaceCompleter struct {
	url      string
	apiKey   string
	sampling Sampling
	client   *http.Client
}

type textGenerationRequest struct {
	Inputs     string               `json:"inputs"`
	Parameters textGenerationParams `json:"parameters"`
}

type textGenerationParams struct {
	MaxNewTokens int     `json:"max_new_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	TopP         float64 `json:"top_p,omitempty"`
	DoSample     bool    `json:"do_sample"`
}

type textGenerationResult struct {
	GeneratedText string `json:"generated_text"`
}

func NewHuggingFaceCompleter(opts Options) Completer {
	base := strings.TrimRight(opts.HuggingFaceBaseURL, "/")
	if base == "" {
		base = defaultHuggingFaceURL
	}
	return &huggingFaceCompleter{
		url:      base + "/models/" + opts.Model,
		apiKey:   opts.HuggingFaceAPIKey,
		sampling: opts.Sampling,
		client:   &http.Client{Timeout: opts.timeout()},
	}
}

// Complete returns the generated text, which for this endpoint includes the
// prompt itself.
func (c *huggingFaceCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(textGenerationRequest{
		Inputs: prompt,
		Parameters: textGenerationParams{
			MaxNewTokens: c.sampling.MaxNewTokens,
			Temperature:  c.sampling.Temperature,
			TopP:         c.sampling.TopP,
			DoSample:     c.sampling.Temperature > 0,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal huggingface request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create huggingface request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call huggingface text-generation API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var results []textGenerationResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return "", fmt.Errorf("decode huggingface response: %w", err)
	}
	if len(results) == 0 {
		return "", nil
	}
	return results[0].GeneratedText, nil
}
