// Package router classifies free-text chat messages as personal-journey or
// organizational-knowledge questions. The matcher is a single ordered table
// of (pattern, destination) pairs so the rule set can be inspected and
// tested as data; it is a best-effort heuristic, not a guarantee.
package router

import (
	"fmt"
	"regexp"
	"strings"
)

// Destination names the backing subsystem that should answer a message.
type Destination string

const (
	// DestJourney routes to the customer journey store.
	DestJourney Destination = "journey"
	// DestKnowledge routes to the knowledge query engine.
	DestKnowledge Destination = "knowledge"
)

// Rule binds one pattern to a destination.
type Rule struct {
	Pattern     *regexp.Regexp
	Destination Destination
}

// Router evaluates its rule table in order; first match wins, and anything
// unmatched falls back to organizational knowledge.
type Router struct {
	rules []Rule
}

// DefaultPersonalPatterns matches journey/assessment/"my progress" language.
// Deployments may override these; the set was never fixed upstream.
func DefaultPersonalPatterns() []string {
	return []string{
		`\bmy\s+(progress|status|journey|implementation|onboarding|milestones?|stage)\b`,
		`\bour\s+(progress|implementation|rollout|onboarding|go[- ]?live|milestones?)\b`,
		`\bwhere\s+(am\s+i|are\s+we)\b`,
		`\bhow\s+(far|close)\s+(am\s+i|are\s+we)\b`,
		`\bwhat('?s| is)\s+(left|next|remaining)\b`,
		`\bam\s+i\s+on\s+track\b`,
		`\bcurrent\s+stage\b`,
		`\bmilestone\b`,
	}
}

// DefaultOrganizationalPatterns matches policy/procedure/company-knowledge
// language. They exist for inspectability; unmatched text lands on
// knowledge anyway.
func DefaultOrganizationalPatterns() []string {
	return []string{
		`\b(policy|policies|procedure|guideline|handbook|compliance)\b`,
		`\bhow\s+do\s+(i|we|you)\b`,
		`\bwhat\s+is\s+the\s+(company|organization|org)\b`,
		`\bdocumentation\b`,
	}
}

// New compiles a router from pattern sets. Personal rules are evaluated
// first; ordering within each set is preserved. Patterns are matched
// case-insensitively.
func New(personal, organizational []string) (*Router, error) {
	if len(personal) == 0 {
		personal = DefaultPersonalPatterns()
	}
	if len(organizational) == 0 {
		organizational = DefaultOrganizationalPatterns()
	}
	rules := make([]Rule, 0, len(personal)+len(organizational))
	for _, p := range personal {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("compile personal pattern %q: %w", p, err)
		}
		rules = append(rules, Rule{Pattern: re, Destination: DestJourney})
	}
	for _, p := range organizational {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("compile organizational pattern %q: %w", p, err)
		}
		rules = append(rules, Rule{Pattern: re, Destination: DestKnowledge})
	}
	return &Router{rules: rules}, nil
}

// Classify returns the destination for a message. Stateless per call; no
// memory of prior turns.
func (r *Router) Classify(message string) Destination {
	message = strings.TrimSpace(message)
	for _, rule := range r.rules {
		if rule.Pattern.MatchString(message) {
			return rule.Destination
		}
	}
	return DestKnowledge
}

// Rules exposes the ordered rule table for inspection and testing.
func (r *Router) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}
