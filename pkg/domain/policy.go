package domain

import "strings"

// Action defines the outcome of a policy rule.
type Action string

const (
	// ActionAllow permits the connection, optionally redirecting it.
	ActionAllow Action = "allow"
	// ActionDeny rejects the connection.
	ActionDeny Action = "deny"
)

// Matcher tokens and prefixes as they appear in policy files.
const (
	TokenAnyVM   = "$anyvm"
	TokenDefault = "$default"
	PrefixTag    = "$tag:"
	PrefixType   = "$type:"
)

// MatchKind enumerates the closed matcher vocabulary.
type MatchKind int

const (
	// MatchExact matches a single VM by name.
	MatchExact MatchKind = iota
	// MatchAnyVM matches every VM.
	MatchAnyVM
	// MatchTag matches VMs carrying a given tag.
	MatchTag
	// MatchType matches VMs with a given type label.
	MatchType
	// MatchDefault is the destination fallback. It matches like MatchAnyVM
	// but signals that the rule is a fallback route rather than an explicit
	// wildcard; it is only legal in destination position.
	MatchDefault
)

// Matcher is one side (source or destination) of a policy rule.
type Matcher struct {
	Kind  MatchKind
	Label string // VM name for Exact, label for Tag/Type, empty otherwise
}

// ParseMatcher parses a single matcher token. It accepts the destination-only
// $default token; callers validating source position must reject
// MatchDefault themselves.
func ParseMatcher(token string) (Matcher, bool) {
	switch {
	case token == TokenAnyVM:
		return Matcher{Kind: MatchAnyVM}, true
	case token == TokenDefault:
		return Matcher{Kind: MatchDefault}, true
	case strings.HasPrefix(token, PrefixTag):
		label := token[len(PrefixTag):]
		if label == "" {
			return Matcher{}, false
		}
		return Matcher{Kind: MatchTag, Label: label}, true
	case strings.HasPrefix(token, PrefixType):
		label := token[len(PrefixType):]
		if label == "" {
			return Matcher{}, false
		}
		return Matcher{Kind: MatchType, Label: label}, true
	case token == "" || strings.HasPrefix(token, "$"):
		// Unknown $-keyword, never a VM name.
		return Matcher{}, false
	default:
		return Matcher{Kind: MatchExact, Label: token}, true
	}
}

// Matches reports whether the matcher accepts the given VM identity, using
// inv for tag and type facts. An identity unknown to the inventory has no
// tags and an empty type, so attribute matchers simply fail for it.
func (m Matcher) Matches(identity string, inv Inventory) bool {
	switch m.Kind {
	case MatchAnyVM, MatchDefault:
		return true
	case MatchExact:
		return m.Label == identity
	case MatchTag:
		for _, tag := range inv.Tags(identity) {
			if tag == m.Label {
				return true
			}
		}
		return false
	case MatchType:
		return inv.Type(identity) == m.Label
	default:
		return false
	}
}

// String renders the matcher in policy file syntax.
func (m Matcher) String() string {
	switch m.Kind {
	case MatchAnyVM:
		return TokenAnyVM
	case MatchDefault:
		return TokenDefault
	case MatchTag:
		return PrefixTag + m.Label
	case MatchType:
		return PrefixType + m.Label
	default:
		return m.Label
	}
}

// Rule is one ordered entry of a policy file. Rules are immutable once
// loaded; their relative order is significant and never re-sorted.
type Rule struct {
	Source Matcher
	Dest   Matcher
	Action Action
	// Target redirects the connection on allow. Empty means no override.
	// Never set on deny rules; the parser rejects that combination.
	Target string
	// Line is the 1-based line number in the source file, zero for rules
	// constructed in code.
	Line int
}

// RuleSet is an ordered sequence of rules, evaluated first-match-wins.
type RuleSet []Rule

// Clone returns a copy whose backing array is independent of the receiver.
func (rs RuleSet) Clone() RuleSet {
	if rs == nil {
		return nil
	}
	return append(RuleSet(nil), rs...)
}

// Request describes one proposed update-proxy connection. Dest carries
// TokenDefault when the dispatcher could not resolve a concrete destination.
type Request struct {
	Source string
	Dest   string
}

// Verdict is the result of evaluating a request against a rule set.
type Verdict struct {
	Action Action
	// Target is the override destination, non-empty only on allow rules
	// that carry one.
	Target string
	// Matched is the rule that produced the verdict.
	Matched Rule
}
