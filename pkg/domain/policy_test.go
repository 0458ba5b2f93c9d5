package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInventory struct {
	tags  map[string][]string
	types map[string]string
}

func (f *fakeInventory) Tags(identity string) []string { return f.tags[identity] }
func (f *fakeInventory) Type(identity string) string   { return f.types[identity] }

func TestParseMatcher(t *testing.T) {
	tests := []struct {
		token string
		want  Matcher
		ok    bool
	}{
		{"$anyvm", Matcher{Kind: MatchAnyVM}, true},
		{"$default", Matcher{Kind: MatchDefault}, true},
		{"$tag:whonix-updatevm", Matcher{Kind: MatchTag, Label: "whonix-updatevm"}, true},
		{"$type:TemplateVM", Matcher{Kind: MatchType, Label: "TemplateVM"}, true},
		{"work-vm", Matcher{Kind: MatchExact, Label: "work-vm"}, true},
		{"$tag:", Matcher{}, false},
		{"$type:", Matcher{}, false},
		{"$bogus", Matcher{}, false},
		{"$", Matcher{}, false},
		{"", Matcher{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, ok := ParseMatcher(tt.token)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatcherStringRoundTrip(t *testing.T) {
	for _, token := range []string{"$anyvm", "$default", "$tag:audited", "$type:StandaloneVM", "sys-net"} {
		m, ok := ParseMatcher(token)
		require.True(t, ok, token)
		assert.Equal(t, token, m.String())
	}
}

func TestMatcherMatches(t *testing.T) {
	inv := &fakeInventory{
		tags:  map[string][]string{"whonix-ws-1": {"whonix-updatevm", "audited"}},
		types: map[string]string{"fedora-template": "TemplateVM"},
	}

	tests := []struct {
		name     string
		matcher  Matcher
		identity string
		want     bool
	}{
		{"anyvm matches anything", Matcher{Kind: MatchAnyVM}, "whatever", true},
		{"default matches anything", Matcher{Kind: MatchDefault}, "whatever", true},
		{"default matches the unresolved dest token", Matcher{Kind: MatchDefault}, TokenDefault, true},
		{"exact hit", Matcher{Kind: MatchExact, Label: "sys-net"}, "sys-net", true},
		{"exact miss", Matcher{Kind: MatchExact, Label: "sys-net"}, "sys-firewall", false},
		{"exact never matches the default token", Matcher{Kind: MatchExact, Label: "sys-net"}, TokenDefault, false},
		{"tag hit", Matcher{Kind: MatchTag, Label: "whonix-updatevm"}, "whonix-ws-1", true},
		{"tag miss", Matcher{Kind: MatchTag, Label: "whonix-updatevm"}, "fedora-template", false},
		{"tag unknown identity", Matcher{Kind: MatchTag, Label: "audited"}, "ghost-vm", false},
		{"type hit", Matcher{Kind: MatchType, Label: "TemplateVM"}, "fedora-template", true},
		{"type miss", Matcher{Kind: MatchType, Label: "TemplateVM"}, "whonix-ws-1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.matcher.Matches(tt.identity, inv))
		})
	}
}

func TestRuleSetClone(t *testing.T) {
	rs := RuleSet{
		{Source: Matcher{Kind: MatchAnyVM}, Dest: Matcher{Kind: MatchAnyVM}, Action: ActionDeny},
	}
	clone := rs.Clone()
	require.Equal(t, rs, clone)

	clone[0].Action = ActionAllow
	assert.Equal(t, ActionDeny, rs[0].Action, "clone must not share backing array")

	assert.Nil(t, RuleSet(nil).Clone())
}
