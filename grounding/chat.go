package grounding

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/kbsearch/core"
	"github.com/poiesic/kbsearch/search"
)

// Searcher runs semantic searches. *search.Service implements it.
type Searcher interface {
	Search(ctx context.Context, collectionID, query string, opts search.Options) ([]*core.SearchResult, error)
}

var _ Searcher = (*search.Service)(nil)

const (
	DefaultApology         = "Sorry, I couldn't look that up right now. Please try again in a moment."
	DefaultSeparator       = "\n\n"
	DefaultMaxContextChars = 4000
)

// Outcome classifies a chat lookup.
type Outcome int

const (
	// OutcomeFound means at least one chunk cleared the threshold.
	OutcomeFound Outcome = iota
	// OutcomeNothingFound means the search succeeded but nothing was relevant.
	OutcomeNothingFound
	// OutcomeUnavailable means the search failed and Text holds the apology.
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNothingFound:
		return "nothing_found"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ChatContext is the retrieval context for one chat question.
type ChatContext struct {
	Outcome Outcome
	Text    string
	Results []*core.SearchResult
	Err     error // Cause when Outcome is OutcomeUnavailable
}

// ChatGrounder builds chat context from search results.
type ChatGrounder struct {
	searcher Searcher
	opts     search.Options
	apology  string
	maxChars int
	logger   *slog.Logger
}

// ChatOption configures a ChatGrounder.
type ChatOption func(*ChatGrounder)

// WithApology replaces the message returned when search fails.
func WithApology(msg string) ChatOption {
	return func(g *ChatGrounder) {
		g.apology = msg
	}
}

// WithSearchOptions sets the limit, threshold and type filter used for chat questions.
func WithSearchOptions(opts search.Options) ChatOption {
	return func(g *ChatGrounder) {
		g.opts = opts
	}
}

// WithMaxContextChars caps the context length. Whole chunks are dropped
// from the end until the context fits.
func WithMaxContextChars(n int) ChatOption {
	return func(g *ChatGrounder) {
		if n > 0 {
			g.maxChars = n
		}
	}
}

// WithChatLogger sets a custom logger.
// Default is slog.Default().
func WithChatLogger(logger *slog.Logger) ChatOption {
	return func(g *ChatGrounder) {
		if logger == nil {
			logger = slog.Default()
		}
		g.logger = logger
	}
}

// NewChatGrounder creates a new ChatGrounder.
func NewChatGrounder(searcher Searcher, opts ...ChatOption) (*ChatGrounder, error) {
	if searcher == nil {
		return nil, ErrSearcherRequired
	}
	g := &ChatGrounder{
		searcher: searcher,
		apology:  DefaultApology,
		maxChars: DefaultMaxContextChars,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "chat-grounder")
	return g, nil
}

// Context retrieves context for question. Invalid arguments are returned as
// errors; search failures become an OutcomeUnavailable context.
func (g *ChatGrounder) Context(ctx context.Context, collectionID, question string) (*ChatContext, error) {
	results, err := g.searcher.Search(ctx, collectionID, question, g.opts)
	if err != nil {
		if errors.Is(err, core.ErrInvalidQuery) {
			return nil, err
		}
		g.logger.Warn("chat search failed", "collection", collectionID, "err", err)
		return &ChatContext{Outcome: OutcomeUnavailable, Text: g.apology, Err: err}, nil
	}

	if len(results) == 0 {
		return &ChatContext{Outcome: OutcomeNothingFound, Results: results}, nil
	}

	results = g.fit(results)
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	return &ChatContext{
		Outcome: OutcomeFound,
		Text:    strings.Join(texts, DefaultSeparator),
		Results: results,
	}, nil
}

// fit keeps the leading results whose joined text stays within maxChars.
// The best result is always kept.
func (g *ChatGrounder) fit(results []*core.SearchResult) []*core.SearchResult {
	total := 0
	sep := utf8.RuneCountInString(DefaultSeparator)
	for i, r := range results {
		n := utf8.RuneCountInString(r.Text)
		if i > 0 {
			n += sep
		}
		if i > 0 && total+n > g.maxChars {
			return results[:i]
		}
		total += n
	}
	return results
}
