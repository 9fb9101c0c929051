// Package answer turns a question and optional paper context into a short,
// presentable answer from a hosted language model.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fabfab/paper-agent/llm"
	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/metrics"
)

const (
	Welcome       = "Hello! I'm connected and ready to help analyze research papers. What would you like to know about this paper?"
	NotConfigured = "API key not configured. Please check your environment settings."
	StatusApology = "I couldn't process your request. Please try a different question."
	ErrorApology  = "I'm sorry, I couldn't process your request. Please try a different question."

	defaultAssistantName = "Samy"
	defaultContextChars  = 1000
	defaultMaxChars      = 250
	maxSentences         = 3
	instClose            = "[/INST]"
)

var greetings = map[string]struct{}{"hello": {}, "hi": {}, "hey": {}, "test": {}}

type Options struct {
	AssistantName string
	ContextChars  int
	MaxChars      int
}

// Generator never returns an error: every failure ends in one of the fixed
// apology strings.
type Generator struct {
	completer llm.Completer
	opts      Options
	log       *logger.Logger
}

// NewGenerator accepts a nil completer, in which case every non-greeting
// question is answered with NotConfigured.
func NewGenerator(completer llm.Completer, opts Options, log *logger.Logger) *Generator {
	if strings.TrimSpace(opts.AssistantName) == "" {
		opts.AssistantName = defaultAssistantName
	}
	if opts.ContextChars <= 0 {
		opts.ContextChars = defaultContextChars
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = defaultMaxChars
	}
	return &Generator{
		completer: completer,
		opts:      opts,
		log:       logger.OrNop(log).With("component", "answer"),
	}
}

// IsGreeting reports whether query is one of the canned greetings.
func IsGreeting(query string) bool {
	_, ok := greetings[strings.ToLower(strings.TrimSpace(query))]
	return ok
}

func (g *Generator) Answer(ctx context.Context, query, paperContext string) string {
	if IsGreeting(query) {
		g.log.Info("greeting detected, skipping model")
		metrics.Answers.WithLabelValues("greeting").Inc()
		return Welcome
	}
	if g.completer == nil {
		metrics.Answers.WithLabelValues("unconfigured").Inc()
		return NotConfigured
	}

	if strings.TrimSpace(paperContext) != "" {
		raw, err := g.completer.Complete(ctx, g.contextPrompt(query, paperContext))
		if err == nil {
			metrics.Answers.WithLabelValues("context").Inc()
			return Clean(afterInst(raw), g.opts.MaxChars)
		}
		g.log.Warn("generation with context failed, retrying without context", "error", err)
	}

	raw, err := g.completer.Complete(ctx, g.plainPrompt(query))
	if err != nil {
		metrics.Answers.WithLabelValues("error").Inc()
		var status *llm.StatusError
		if errors.As(err, &status) {
			g.log.Error("generation returned non-success status", "status", status.Code, "body", status.Body)
			return StatusApology
		}
		g.log.Error("generation request failed", "error", err)
		return ErrorApology
	}
	metrics.Answers.WithLabelValues("no_context").Inc()
	return Clean(afterInst(raw), g.opts.MaxChars)
}

func (g *Generator) contextPrompt(query, paperContext string) string {
	return fmt.Sprintf(`<s>[INST] You are a helpful AI research assistant named %s.

Use the following research paper extract to answer the question. Keep your answer under 3 sentences and be concise. If you don't know the answer, say you don't know instead of making something up.

Research paper extract: %s

Question: %s [/INST]`, g.opts.AssistantName, truncate(paperContext, g.opts.ContextChars), query)
}

func (g *Generator) plainPrompt(query string) string {
	return fmt.Sprintf(`<s>[INST] You are a helpful AI research assistant named %s.

Answer this question concisely in 2-3 sentences. If you don't know the answer, say you don't know.

Question: %s [/INST]`, g.opts.AssistantName, query)
}

// afterInst drops an echoed prompt: only the text after the last [/INST]
// is the model's reply.
func afterInst(raw string) string {
	if i := strings.LastIndex(raw, instClose); i >= 0 {
		raw = raw[i+len(instClose):]
	}
	return strings.TrimSpace(raw)
}

// Clean keeps what follows the first "Answer:" label, at most three
// sentences, and at most maxChars characters (plus an ellipsis).
func Clean(text string, maxChars int) string {
	if _, after, ok := strings.Cut(text, "Answer:"); ok {
		text = after
	}
	text = strings.TrimSpace(text)

	if sentences := strings.Split(text, "."); len(sentences) > maxSentences {
		text = strings.TrimSpace(strings.Join(sentences[:maxSentences], ".")) + "."
	}
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		text = truncate(text, maxChars) + "..."
	}
	return text
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
