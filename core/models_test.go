package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name string
		a    []string
		b    []string
		same bool
	}{
		{"identical", []string{"pricing plans", "t=all"}, []string{"pricing plans", "t=all"}, true},
		{"empty", nil, nil, true},
		{"different content", []string{"content1"}, []string{"content2"}, false},
		{"separator boundary", []string{"ab", "c"}, []string{"a", "bc"}, false},
		{"extra empty part", []string{"a"}, []string{"a", ""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa, fb := Fingerprint(tt.a...), Fingerprint(tt.b...)
			if len(fa) != 32 {
				t.Fatalf("Fingerprint() length = %d, want 32", len(fa))
			}
			if (fa == fb) != tt.same {
				t.Errorf("Fingerprint(%q) = %s, Fingerprint(%q) = %s, same = %v", tt.a, fa, tt.b, fb, tt.same)
			}
		})
	}
}

func TestTypedErrors(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name    string
		err     error
		matches error
		other   error
	}{
		{"provider", NewProviderError("embed", cause), ErrProvider, ErrIndex},
		{"index", NewIndexError("query", cause), ErrIndex, ErrProvider},
		{"cache", &CacheError{Op: "get", Err: cause}, ErrCache, ErrIndex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.matches) {
				t.Errorf("expected %v to match %v", tt.err, tt.matches)
			}
			if errors.Is(tt.err, tt.other) {
				t.Errorf("expected %v not to match %v", tt.err, tt.other)
			}
			if !errors.Is(tt.err, cause) {
				t.Errorf("expected %v to wrap its cause", tt.err)
			}
		})
	}
}

func TestNewProviderError_NoDoubleWrap(t *testing.T) {
	first := NewProviderError("embed", errors.New("boom"))
	second := NewProviderError("search", fmt.Errorf("outer: %w", first))

	var pe *ProviderError
	if !errors.As(second, &pe) {
		t.Fatalf("expected ProviderError in chain")
	}
	if pe.Op != "embed" {
		t.Errorf("expected original op to survive, got %q", pe.Op)
	}
	if NewProviderError("noop", nil) != nil {
		t.Errorf("expected nil for nil cause")
	}
	if NewIndexError("noop", nil) != nil {
		t.Errorf("expected nil for nil cause")
	}
}
