// Package keyword provides a rule-based [nlu.Classifier] driven by regular
// expressions. It needs no network or model and serves as the degraded-mode
// fallback behind remote classifiers, and as a fast local classifier for
// closed-domain deployments.
//
// Each rule pairs an intent tag with one or more patterns; named capture
// groups become intent slots. Rules are evaluated in registration order and
// the first match wins.
package keyword

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cadenza-ai/cadenza/pkg/provider/nlu"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Compile-time assertion.
var _ nlu.Classifier = (*Classifier)(nil)

// matchConfidence is the confidence assigned to a rule match. Rule matches
// are exact by construction, but they see only the surface text, so the
// score stays below a model-backed classifier's ceiling.
const matchConfidence = 0.85

// unknownConfidence is the confidence assigned when no rule matches.
const unknownConfidence = 0.1

// Rule binds an intent tag to a set of patterns.
type Rule struct {
	// Tag is the intent tag produced when any pattern matches.
	Tag string

	// Patterns are regular expressions matched against the normalised
	// (lower-cased, whitespace-collapsed) transcript. Named capture groups
	// are extracted as slots.
	Patterns []string
}

// Classifier implements [nlu.Classifier] over a fixed rule set.
type Classifier struct {
	rules []compiledRule
}

type compiledRule struct {
	tag      string
	patterns []*regexp.Regexp
}

// New compiles the given rules into a Classifier. Rules are matched in the
// order given.
func New(rules []Rule) (*Classifier, error) {
	if len(rules) == 0 {
		return nil, errors.New("keyword: at least one rule is required")
	}

	c := &Classifier{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		if r.Tag == "" {
			return nil, errors.New("keyword: rule tag must not be empty")
		}
		cr := compiledRule{tag: r.Tag}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("keyword: compile pattern %q for %q: %w", p, r.Tag, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		if len(cr.patterns) == 0 {
			return nil, fmt.Errorf("keyword: rule %q has no patterns", r.Tag)
		}
		c.rules = append(c.rules, cr)
	}
	return c, nil
}

// Classify implements [nlu.Classifier]. It never fails; unmatched text maps
// to [nlu.UnknownTag].
func (c *Classifier) Classify(ctx context.Context, text string) (types.Intent, error) {
	if err := ctx.Err(); err != nil {
		return types.Intent{}, err
	}

	norm := Normalize(text)
	for _, rule := range c.rules {
		for _, re := range rule.patterns {
			m := re.FindStringSubmatch(norm)
			if m == nil {
				continue
			}
			return types.Intent{
				Tag:        rule.tag,
				Slots:      extractSlots(re, m),
				Confidence: matchConfidence,
			}, nil
		}
	}

	return types.Intent{
		Tag:        nlu.UnknownTag,
		Confidence: unknownConfidence,
	}, nil
}

// extractSlots pulls named capture groups out of a regexp match.
func extractSlots(re *regexp.Regexp, match []string) map[string]string {
	var slots map[string]string
	for i, name := range re.SubexpNames() {
		if name == "" || i >= len(match) || match[i] == "" {
			continue
		}
		if slots == nil {
			slots = make(map[string]string)
		}
		slots[name] = match[i]
	}
	return slots
}

// Normalize lower-cases text and collapses runs of whitespace so rule
// patterns can assume a canonical surface form.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
