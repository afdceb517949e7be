package chunking

import (
	"regexp"
	"strings"

	"github.com/poiesic/kbsearch/core"
)

// Rule tags text with Type when Match reports true.
type Rule struct {
	Type  core.ChunkType
	Match func(text string) bool
}

// KeywordRule matches when any of words appears in the text as a whole word
// or phrase, ignoring case.
func KeywordRule(t core.ChunkType, words ...string) Rule {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(w)))
	}
	re := regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	return PatternRule(t, re)
}

// PatternRule matches when re finds a match anywhere in the text.
func PatternRule(t core.ChunkType, re *regexp.Regexp) Rule {
	return Rule{Type: t, Match: re.MatchString}
}

// AnyRule matches when any of rules matches. The rules' own types are ignored.
func AnyRule(t core.ChunkType, rules ...Rule) Rule {
	return Rule{
		Type: t,
		Match: func(text string) bool {
			for _, r := range rules {
				if r.Match(text) {
					return true
				}
			}
			return false
		},
	}
}

// DefaultRules returns the built-in rule set in priority order:
// pricing, feature, benefit, use_case, technical, testimonial.
func DefaultRules() []Rule {
	return []Rule{
		AnyRule(core.ChunkTypePricing,
			PatternRule("", regexp.MustCompile(`[$€£¥]\s?\d`)),
			KeywordRule("", "pricing", "price", "prices", "plans", "per month", "per year",
				"per user", "monthly", "annually", "subscription", "billing", "free trial", "cost", "costs"),
		),
		KeywordRule(core.ChunkTypeFeature,
			"feature", "features", "includes", "including", "built-in", "dashboard",
			"capability", "capabilities", "functionality", "tool", "tools"),
		KeywordRule(core.ChunkTypeBenefit,
			"benefit", "benefits", "save time", "saves time", "increase", "improve", "improves",
			"boost", "reduce", "reduces", "faster", "easier", "productivity", "roi"),
		KeywordRule(core.ChunkTypeUseCase,
			"use case", "use cases", "ideal for", "perfect for", "designed for", "built for",
			"whether you", "teams that", "for agencies", "for startups", "for enterprises"),
		KeywordRule(core.ChunkTypeTechnical,
			"api", "apis", "sdk", "integration", "integrations", "webhook", "webhooks",
			"encryption", "architecture", "latency", "oauth", "json", "endpoint", "endpoints"),
		AnyRule(core.ChunkTypeTestimonial,
			PatternRule("", regexp.MustCompile(`["“][^"”]{10,}["”]\s*[-–—]`)),
			KeywordRule("", "testimonial", "testimonials", "customer says", "our customers say",
				"review", "reviews", "rated", "stars"),
		),
	}
}

// Classifier assigns a ChunkType to text using an ordered rule list.
// The first matching rule wins; text no rule matches is general.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a Classifier that evaluates rules in the given order.
func NewClassifier(rules ...Rule) *Classifier {
	return &Classifier{rules: append([]Rule(nil), rules...)}
}

// Rules returns a copy of the classifier's rules in evaluation order.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Classify returns the type of the first rule matching text.
func (c *Classifier) Classify(text string) core.ChunkType {
	for _, r := range c.rules {
		if r.Match != nil && r.Match(text) {
			return r.Type
		}
	}
	return core.ChunkTypeGeneral
}
