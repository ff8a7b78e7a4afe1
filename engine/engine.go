// Package engine matches incoming private messages against keyword rules
// and renders the reply template of the winning rule.
package engine

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"bilireply/models"
)

// MaxPatternLength bounds a regex token. Longer tokens are treated as malformed.
const MaxPatternLength = 256

// TimeLayout is what {time} expands to.
const TimeLayout = "2006-01-02 15:04"

// MatchResult is the winning rule and the rendered reply.
type MatchResult struct {
	Rule  models.Rule `json:"rule"`
	Reply string      `json:"reply"`
}

type tokenKind int

const (
	tokenSubstring tokenKind = iota
	tokenRegex
	tokenInvalid
)

type token struct {
	kind  tokenKind
	raw   string
	lower string
	re    *regexp.Regexp
}

func (t token) match(lowerMessage, message string) bool {
	switch t.kind {
	case tokenRegex:
		return t.re.MatchString(message)
	case tokenSubstring:
		return strings.Contains(lowerMessage, t.lower)
	}
	return false
}

func isRegexToken(s string) bool {
	return strings.HasPrefix(s, "^") && strings.HasSuffix(s, "$")
}

func compilePattern(s string) (*regexp.Regexp, error) {
	if len(s) > MaxPatternLength {
		return nil, fmt.Errorf("pattern longer than %d bytes", MaxPatternLength)
	}
	return regexp.Compile("(?i)" + s)
}

// splitKeywords splits on comma, trims and drops empty tokens.
func splitKeywords(keywords string) []string {
	var out []string
	for _, k := range strings.Split(keywords, ",") {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, k)
	}
	return out
}

func compileTokens(rule models.Rule) []token {
	parts := splitKeywords(rule.Keywords)
	out := make([]token, 0, len(parts))
	for _, k := range parts {
		if !isRegexToken(k) {
			out = append(out, token{kind: tokenSubstring, raw: k, lower: strings.ToLower(k)})
			continue
		}
		re, err := compilePattern(k)
		if err != nil {
			log.Printf("rule engine: invalid regex %q (rule %d): %v", k, rule.ID, err)
			out = append(out, token{kind: tokenInvalid, raw: k})
			continue
		}
		out = append(out, token{kind: tokenRegex, raw: k, re: re})
	}
	return out
}

func matchTokens(tokens []token, message string) bool {
	lower := strings.ToLower(message)
	for _, t := range tokens {
		if t.match(lower, message) {
			return true
		}
	}
	return false
}

// MatchRule reports whether any keyword token of rule matches message.
// Malformed regex tokens never match.
func MatchRule(message string, rule models.Rule) bool {
	return matchTokens(compileTokens(rule), message)
}

// GenerateReply renders rule's template for message using the local clock.
func GenerateReply(message string, rule models.Rule) string {
	return GenerateReplyAt(message, rule, time.Now())
}

// GenerateReplyAt replaces every {message} with the raw message, then every {time}.
// Other placeholders are left as they are.
func GenerateReplyAt(message string, rule models.Rule, now time.Time) string {
	reply := strings.ReplaceAll(rule.ResponseTemplate, "{message}", message)
	return strings.ReplaceAll(reply, "{time}", now.Format(TimeLayout))
}

// Normalize returns a copy of rule with read-time defaults applied.
func Normalize(rule models.Rule) models.Rule {
	if strings.TrimSpace(rule.Type) == "" {
		rule.Type = models.RULE_TYPE_GENERAL
	}
	return rule
}

// ProcessMessage picks the first active rule, by priority descending, whose keywords
// match message.Content. Nil when nothing matches.
func ProcessMessage(message models.Message, rules []models.Rule) *MatchResult {
	return Compile(rules).Process(message)
}

type compiledRule struct {
	rule   models.Rule
	tokens []token
}

// RuleSet is a rule list filtered, ordered and compiled once, ready to be applied
// to many messages.
type RuleSet struct {
	rules []compiledRule
	now   func() time.Time
}

// Compile keeps the active rules, sorts them by priority (stable, so ties keep
// input order) and compiles their tokens. The input slice is not modified.
func Compile(rules []models.Rule) *RuleSet {
	active := make([]models.Rule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			active = append(active, Normalize(r))
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority > active[j].Priority })

	rs := &RuleSet{now: time.Now}
	for _, r := range active {
		rs.rules = append(rs.rules, compiledRule{rule: r, tokens: compileTokens(r)})
	}
	return rs
}

// WithClock replaces the clock used for {time}.
func (rs *RuleSet) WithClock(now func() time.Time) *RuleSet {
	rs.now = now
	return rs
}

// Len is the number of active rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Rules returns the active rules in evaluation order.
func (rs *RuleSet) Rules() []models.Rule {
	out := make([]models.Rule, 0, len(rs.rules))
	for _, cr := range rs.rules {
		out = append(out, cr.rule)
	}
	return out
}

// Process applies the set to message. A panic while evaluating one rule is logged
// and the next rule is tried.
func (rs *RuleSet) Process(message models.Message) *MatchResult {
	for _, cr := range rs.rules {
		res, ok := rs.evaluate(cr, message)
		if ok {
			return res
		}
	}
	return nil
}

func (rs *RuleSet) evaluate(cr compiledRule, message models.Message) (res *MatchResult, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("rule engine: rule %q (id %d) failed: %v", cr.rule.Name, cr.rule.ID, r)
			res, ok = nil, false
		}
	}()
	if !matchTokens(cr.tokens, message.Content) {
		return nil, false
	}
	return &MatchResult{
		Rule:  cr.rule,
		Reply: GenerateReplyAt(message.Content, cr.rule, rs.now()),
	}, true
}

var ErrNoKeywords = errors.New("keywords vazio")

// ValidateKeywords is the write-time check: at least one token, and every regex
// token must compile.
func ValidateKeywords(keywords string) error {
	parts := splitKeywords(keywords)
	if len(parts) == 0 {
		return ErrNoKeywords
	}
	for _, k := range parts {
		if !isRegexToken(k) {
			continue
		}
		if _, err := compilePattern(k); err != nil {
			return fmt.Errorf("regex inválida %q: %w", k, err)
		}
	}
	return nil
}
