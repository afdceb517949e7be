package chunking

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/kbsearch/core"
)

const (
	DefaultMinChars         = 500
	DefaultMaxChars         = 1000
	DefaultOverlapSentences = 2
)

var (
	ErrInvalidBounds  = errors.New("chunker bounds invalid: need 0 < min <= max")
	ErrInvalidOverlap = errors.New("chunker overlap cannot be negative")
)

// sentenceEnd matches terminal punctuation, the whitespace after it and the
// capital letter that opens the next sentence.
var sentenceEnd = regexp.MustCompile(`[.!?]\s+\p{Lu}`)

// Chunker splits text into overlapping, bounded chunks.
type Chunker struct {
	minChars   int
	maxChars   int
	overlap    int
	classifier *Classifier
	keywords   *KeywordExtractor
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithMinChars sets the minimum chunk length in characters.
// Default is 500.
func WithMinChars(n int) Option {
	return func(c *Chunker) error {
		c.minChars = n
		return nil
	}
}

// WithMaxChars sets the soft maximum chunk length in characters.
// Default is 1000.
func WithMaxChars(n int) Option {
	return func(c *Chunker) error {
		c.maxChars = n
		return nil
	}
}

// WithOverlapSentences sets how many trailing sentences of a closed chunk seed the next one.
// Default is 2.
func WithOverlapSentences(n int) Option {
	return func(c *Chunker) error {
		if n < 0 {
			return ErrInvalidOverlap
		}
		c.overlap = n
		return nil
	}
}

// WithClassifier replaces the default rule-based classifier.
func WithClassifier(classifier *Classifier) Option {
	return func(c *Chunker) error {
		if classifier != nil {
			c.classifier = classifier
		}
		return nil
	}
}

// WithKeywordExtractor replaces the default keyword extractor.
func WithKeywordExtractor(extractor *KeywordExtractor) Option {
	return func(c *Chunker) error {
		if extractor != nil {
			c.keywords = extractor
		}
		return nil
	}
}

// NewChunker creates a Chunker with the default bounds, classifier and keyword extractor.
func NewChunker(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		minChars:   DefaultMinChars,
		maxChars:   DefaultMaxChars,
		overlap:    DefaultOverlapSentences,
		classifier: NewClassifier(DefaultRules()...),
		keywords:   NewKeywordExtractor(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.minChars <= 0 || c.maxChars < c.minChars {
		return nil, ErrInvalidBounds
	}
	return c, nil
}

// MinChars returns the configured minimum chunk length.
func (c *Chunker) MinChars() int { return c.minChars }

// MaxChars returns the configured soft maximum chunk length.
func (c *Chunker) MaxChars() int { return c.maxChars }

// Chunk splits text into chunks with contiguous indices starting at 0.
// Each chunk carries its classified Type and extracted Keywords; identity
// fields (ID, DocumentID, CollectionID) are left for the caller to assign.
//
// Text shorter than MinChars yields no chunks. A trailing chunk shorter than
// MinChars is discarded. A single sentence longer than MaxChars is emitted whole.
func (c *Chunker) Chunk(text string) []*core.Chunk {
	texts := c.pack(SplitSentences(text))
	chunks := make([]*core.Chunk, 0, len(texts))
	for i, t := range texts {
		chunks = append(chunks, &core.Chunk{
			Text:     t,
			Index:    i,
			Type:     c.classifier.Classify(t),
			Keywords: c.keywords.Extract(t),
		})
	}
	return chunks
}

// pack accumulates sentences into chunk texts.
func (c *Chunker) pack(sentences []string) []string {
	var (
		out     []string
		current []string
		length  int
	)

	for _, s := range sentences {
		sl := utf8.RuneCountInString(s)
		if len(current) > 0 && joinedLen(length, sl) > c.maxChars && length >= c.minChars {
			out = append(out, strings.Join(current, " "))
			current = c.seed(current, sl)
			length = sentencesLen(current)
		}
		length = joinedLen(length, sl)
		current = append(current, s)
	}

	if len(current) > 0 && length >= c.minChars {
		out = append(out, strings.Join(current, " "))
	}
	return out
}

// seed returns the overlap carried into the next chunk. It never carries the
// whole closed chunk, and it sheds leading sentences until the incoming
// sentence fits under MaxChars.
func (c *Chunker) seed(closed []string, incoming int) []string {
	n := min(c.overlap, len(closed)-1)
	if n <= 0 {
		return nil
	}
	seed := closed[len(closed)-n:]
	for len(seed) > 0 && joinedLen(sentencesLen(seed), incoming) > c.maxChars {
		seed = seed[1:]
	}
	return append([]string(nil), seed...)
}

// joinedLen is the length of a running chunk of length cur after appending
// a sentence of length add with a single separating space.
func joinedLen(cur, add int) int {
	if cur == 0 {
		return add
	}
	return cur + 1 + add
}

func sentencesLen(sentences []string) int {
	total := 0
	for _, s := range sentences {
		total = joinedLen(total, utf8.RuneCountInString(s))
	}
	return total
}

// SplitSentences breaks text at sentence-ending punctuation followed by
// whitespace and an uppercase letter. Inner whitespace is collapsed to single
// spaces and empty sentences are dropped.
func SplitSentences(text string) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}

	var sentences []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		// loc[0] is the punctuation; the capital letter is the last rune of the match.
		_, size := utf8.DecodeLastRuneInString(text[loc[0]:loc[1]])
		next := loc[1] - size
		if s := strings.TrimSpace(text[start : loc[0]+1]); s != "" {
			sentences = append(sentences, s)
		}
		start = next
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
