package chunking

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/poiesic/kbsearch/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pricingSentences = []string{
	"Our Starter plan costs $19 per month and covers a single workspace.",
	"The Growth plan pricing is $49 per month for up to ten seats.",
	"Enterprise pricing is quoted annually with volume discounts for larger teams.",
	"Every plan includes a fourteen day free trial with no credit card required.",
	"Annual billing lowers the monthly price by twenty percent on every tier.",
	"You can upgrade or downgrade plans at any time from the billing page.",
	"Extra seats on the Growth plan cost $8 per month per additional user.",
	"Nonprofits receive special pricing after a short verification process.",
	"All prices are listed in US dollars and exclude applicable sales tax.",
	"Refunds are prorated when you cancel an annual subscription early.",
	"Invoices are emailed on the first business day of each billing cycle.",
	"Contact our sales team to compare pricing options for your organization.",
	"Payment by bank transfer is available for annual plans over $1000.",
	"Quarterly billing is offered to customers on the Enterprise plan.",
	"Pricing tiers are reviewed once a year and existing customers keep their rate.",
	"Seat counts are synced nightly so the monthly price always matches usage.",
	"Price changes are announced by email at least thirty days in advance.",
}

// numberedSentences returns n sentences of exactly 70 characters each.
func numberedSentences(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Sentence number %02d talks about the weather in a calm and steady voice.", i)
	}
	return out
}

func newTestChunker(t *testing.T, opts ...Option) *Chunker {
	t.Helper()
	c, err := NewChunker(opts...)
	require.NoError(t, err)
	return c
}

func TestChunker_PricingDocument(t *testing.T) {
	doc := strings.Join(pricingSentences, " ")
	require.InDelta(t, 1200, utf8.RuneCountInString(doc), 10)

	chunks := newTestChunker(t).Chunk(doc)

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, core.ChunkTypePricing, chunks[0].Type)
	assert.Contains(t, chunks[0].Keywords, "pricing")
}

func TestChunker_EmptyAndShortInput(t *testing.T) {
	c := newTestChunker(t)

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t  "},
		{"single sentence", "This is short."},
		{"just under minimum", strings.Repeat("a", DefaultMinChars-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, c.Chunk(tt.text))
		})
	}
}

func TestChunker_MinimumLengthYieldsChunk(t *testing.T) {
	c := newTestChunker(t)

	chunks := c.Chunk(strings.Repeat("a", DefaultMinChars))
	require.Len(t, chunks, 1)
	assert.Equal(t, DefaultMinChars, utf8.RuneCountInString(chunks[0].Text))
}

func TestChunker_OverlapAndBounds(t *testing.T) {
	sentences := numberedSentences(30)
	chunks := newTestChunker(t).Chunk(strings.Join(sentences, " "))

	require.Len(t, chunks, 2)

	// 14 sentences fit under 1000 characters.
	assert.True(t, strings.HasPrefix(chunks[0].Text, sentences[0]))
	assert.True(t, strings.HasSuffix(chunks[0].Text, sentences[13]))

	// The next chunk is seeded with the last two sentences of the previous one.
	assert.True(t, strings.HasPrefix(chunks[1].Text, sentences[12]+" "+sentences[13]))

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		n := utf8.RuneCountInString(chunk.Text)
		assert.GreaterOrEqual(t, n, DefaultMinChars)
		assert.LessOrEqual(t, n, DefaultMaxChars)
	}
}

func TestChunker_TrailingFragmentDropped(t *testing.T) {
	sentences := numberedSentences(30)
	chunks := newTestChunker(t).Chunk(strings.Join(sentences, " "))

	for _, chunk := range chunks {
		assert.NotContains(t, chunk.Text, sentences[29])
	}
}

func TestChunker_LongSentenceEmittedWhole(t *testing.T) {
	long := strings.Repeat("word ", 300) + "end."
	text := long + " " + strings.Join(numberedSentences(10), " ")

	chunks := newTestChunker(t).Chunk(text)

	require.NotEmpty(t, chunks)
	assert.Equal(t, strings.TrimSpace(long), chunks[0].Text)
	assert.Greater(t, utf8.RuneCountInString(chunks[0].Text), DefaultMaxChars)
}

func TestChunker_ContiguousIndices(t *testing.T) {
	c := newTestChunker(t, WithMinChars(100), WithMaxChars(200))
	chunks := c.Chunk(strings.Join(numberedSentences(40), " "))

	require.Greater(t, len(chunks), 3)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
	}
}

func TestChunker_ZeroOverlap(t *testing.T) {
	sentences := numberedSentences(30)
	c := newTestChunker(t, WithOverlapSentences(0))

	chunks := c.Chunk(strings.Join(sentences, " "))

	require.Len(t, chunks, 2)
	assert.True(t, strings.HasPrefix(chunks[1].Text, sentences[14]))
}

func TestChunker_OverlapNeverRepeatsWholeChunk(t *testing.T) {
	// Each sentence alone meets the minimum, so every chunk is one sentence.
	sentences := make([]string, 4)
	for i := range sentences {
		sentences[i] = fmt.Sprintf("Item %d. ", i) + strings.Repeat("x", 120) + "."
	}
	c := newTestChunker(t, WithMinChars(100), WithMaxChars(150), WithOverlapSentences(5))

	chunks := c.Chunk(strings.Join(sentences, " "))

	require.NotEmpty(t, chunks)
	for i := 1; i < len(chunks); i++ {
		assert.NotEqual(t, chunks[i-1].Text, chunks[i].Text)
	}
}

func TestNewChunker_InvalidOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr error
	}{
		{"zero min", []Option{WithMinChars(0)}, ErrInvalidBounds},
		{"max below min", []Option{WithMinChars(500), WithMaxChars(100)}, ErrInvalidBounds},
		{"negative overlap", []Option{WithOverlapSentences(-1)}, ErrInvalidOverlap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.opts...)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"single", "Just one sentence here", []string{"Just one sentence here"}},
		{
			name: "mixed punctuation",
			text: "First one. Second one! Third one? Fourth.",
			want: []string{"First one.", "Second one!", "Third one?", "Fourth."},
		},
		{
			name: "lowercase continuation is not a boundary",
			text: "Version 2.5 is out. it ships today. Enjoy.",
			want: []string{"Version 2.5 is out. it ships today.", "Enjoy."},
		},
		{
			name: "collapses whitespace",
			text: "Line one.\n\n   Line   two.",
			want: []string{"Line one.", "Line two."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSentences(tt.text))
		})
	}
}
