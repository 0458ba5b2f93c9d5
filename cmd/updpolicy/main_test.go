package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vmgridlabs/updpolicy/pkg/domain"
)

func TestVerdictExitCode(t *testing.T) {
	tests := []struct {
		name    string
		verdict domain.Verdict
		err     error
		want    int
	}{
		{"allow", domain.Verdict{Action: domain.ActionAllow}, nil, exitAllow},
		{"allow with target", domain.Verdict{Action: domain.ActionAllow, Target: "sys-net"}, nil, exitAllow},
		{"deny", domain.Verdict{Action: domain.ActionDeny}, nil, exitDeny},
		{"no match is deny", domain.Verdict{}, fmt.Errorf("wrapped: %w", domain.ErrNoMatch), exitDeny},
		{"other error", domain.Verdict{}, errors.New("boom"), exitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, verdictExitCode(tt.verdict, tt.err))
		})
	}
}

func TestFormatVerdict(t *testing.T) {
	assert.Equal(t, "deny",
		formatVerdict(domain.Verdict{Action: domain.ActionDeny}))
	assert.Equal(t, "allow target=sys-whonix (rule line 2)",
		formatVerdict(domain.Verdict{
			Action:  domain.ActionAllow,
			Target:  "sys-whonix",
			Matched: domain.Rule{Line: 2},
		}))
}

func TestIsCatchAll(t *testing.T) {
	assert.True(t, isCatchAll(domain.Rule{
		Source: domain.Matcher{Kind: domain.MatchAnyVM},
		Dest:   domain.Matcher{Kind: domain.MatchAnyVM},
		Action: domain.ActionDeny,
	}))
	assert.False(t, isCatchAll(domain.Rule{
		Source: domain.Matcher{Kind: domain.MatchAnyVM},
		Dest:   domain.Matcher{Kind: domain.MatchAnyVM},
		Action: domain.ActionAllow,
	}))
	assert.False(t, isCatchAll(domain.Rule{
		Source: domain.Matcher{Kind: domain.MatchTag, Label: "audited"},
		Dest:   domain.Matcher{Kind: domain.MatchAnyVM},
		Action: domain.ActionDeny,
	}))
}
