// Package faq answers visitor questions from a fixed table of keyword rules.
package faq

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

const (
	minInputLength     = 2
	minFuzzyWordLength = 4
	maxWordDistance    = 2
	minStringThreshold = 2
)

// Rule maps a set of trigger keywords to a single response.
type Rule struct {
	Keywords []string `yaml:"keywords" json:"keywords"`
	Response string   `yaml:"response" json:"response"`
}

// Table is the complete static configuration of the matcher.
type Table struct {
	Greeting   string `yaml:"greeting"`
	ShortInput string `yaml:"short_input"`
	Fallback   string `yaml:"fallback"`
	Rules      []Rule `yaml:"rules"`
}

// ParseTable decodes and validates a YAML rule table.
func ParseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("decode faq table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// DefaultTable returns the embedded INSTRROL rule table.
func DefaultTable() (Table, error) {
	return ParseTable(defaultRulesYAML)
}

// Validate checks that every rule can be matched and answered.
func (t Table) Validate() error {
	if t.ShortInput == "" {
		return errors.New("faq table: short_input message is empty")
	}
	if t.Fallback == "" {
		return errors.New("faq table: fallback message is empty")
	}
	if len(t.Rules) == 0 {
		return errors.New("faq table: no rules")
	}
	for i, r := range t.Rules {
		if r.Response == "" {
			return fmt.Errorf("faq table: rule %d has an empty response", i)
		}
		if len(r.Keywords) == 0 {
			return fmt.Errorf("faq table: rule %d has no keywords", i)
		}
		for _, kw := range r.Keywords {
			if kw == "" {
				return fmt.Errorf("faq table: rule %d has an empty keyword", i)
			}
			if kw != strings.ToLower(kw) {
				return fmt.Errorf("faq table: rule %d keyword %q is not lowercase", i, kw)
			}
		}
	}
	return nil
}

// Matcher resolves free text to a canned response. It is immutable and safe
// for concurrent use.
type Matcher struct {
	table Table
}

// NewMatcher returns a Matcher over a copy of t.
func NewMatcher(t Table) *Matcher {
	rules := make([]Rule, len(t.Rules))
	for i, r := range t.Rules {
		rules[i] = Rule{
			Keywords: append([]string(nil), r.Keywords...),
			Response: r.Response,
		}
	}
	t.Rules = rules
	return &Matcher{table: t}
}

// Greeting is the bot's opening line for a new conversation.
func (m *Matcher) Greeting() string {
	return m.table.Greeting
}

// Rules returns a copy of the rule table in priority order.
func (m *Matcher) Rules() []Rule {
	return NewMatcher(m.table).table.Rules
}

// Respond returns the response for userText. Passes run in strict priority
// order and the first pass to match decides the answer.
func (m *Matcher) Respond(userText string) string {
	input := strings.ToLower(strings.TrimSpace(userText))
	if utf8.RuneCountInString(input) < minInputLength {
		return m.table.ShortInput
	}

	if resp, ok := m.matchSubstring(input); ok {
		return resp
	}
	if resp, ok := m.matchWords(input); ok {
		return resp
	}
	if resp, ok := m.matchWhole(input); ok {
		return resp
	}
	return m.table.Fallback
}

func (m *Matcher) matchSubstring(input string) (string, bool) {
	for _, r := range m.table.Rules {
		for _, kw := range r.Keywords {
			if strings.Contains(input, kw) {
				return r.Response, true
			}
		}
	}
	return "", false
}

func (m *Matcher) matchWords(input string) (string, bool) {
	var words []string
	for _, w := range strings.Fields(input) {
		if utf8.RuneCountInString(w) >= minFuzzyWordLength {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return "", false
	}

	for _, r := range m.table.Rules {
		for _, kw := range r.Keywords {
			for _, w := range words {
				if Distance(w, kw) <= maxWordDistance {
					return r.Response, true
				}
			}
		}
	}
	return "", false
}

func (m *Matcher) matchWhole(input string) (string, bool) {
	best := -1
	var resp string
	for _, r := range m.table.Rules {
		for _, kw := range r.Keywords {
			threshold := max(minStringThreshold, utf8.RuneCountInString(kw)*3/10)
			d := Distance(input, kw)
			if d > threshold {
				continue
			}
			if best < 0 || d < best {
				best = d
				resp = r.Response
			}
		}
	}
	return resp, best >= 0
}
