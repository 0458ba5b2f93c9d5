package policy

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vmgridlabs/updpolicy/pkg/domain"
)

const optionTarget = "target="

// Parse reads a policy file from r. The name is used in error messages only.
//
// Grammar, line oriented: blank lines and lines starting with '#' are
// ignored; every other line is
//
//	<sourceMatcher> <destMatcher> <verdict>[,target=<vmname>]
//
// Matchers are exact VM names, $anyvm, $tag:<label>, $type:<label>, and (in
// destination position only) $default. The verdict is literally allow or
// deny; target= is only valid with allow.
func Parse(r io.Reader, name string) (domain.RuleSet, error) {
	var rules domain.RuleSet

	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule, err := parseLine(line, name, lineno)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read policy %s: %w", name, err)
	}

	return rules, nil
}

// ParseFile loads and parses the policy file at path.
func ParseFile(path string) (domain.RuleSet, error) {
	// #nosec G304 -- policy path is operator supplied at startup
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()

	return Parse(f, path)
}

func parseLine(line, file string, lineno int) (domain.Rule, error) {
	fail := func(format string, args ...any) (domain.Rule, error) {
		return domain.Rule{}, &domain.ParseError{
			File: file,
			Line: lineno,
			Msg:  fmt.Sprintf(format, args...),
		}
	}

	tokens := strings.Fields(line)
	if len(tokens) != 3 {
		return fail("expected 3 fields (source dest verdict), got %d", len(tokens))
	}

	source, ok := domain.ParseMatcher(tokens[0])
	if !ok {
		return fail("invalid source matcher %q", tokens[0])
	}
	if source.Kind == domain.MatchDefault {
		return fail("%s is not valid in source position", domain.TokenDefault)
	}

	dest, ok := domain.ParseMatcher(tokens[1])
	if !ok {
		return fail("invalid destination matcher %q", tokens[1])
	}

	verdict := tokens[2]
	action, opts, _ := strings.Cut(verdict, ",")
	rule := domain.Rule{Source: source, Dest: dest, Line: lineno}
	switch domain.Action(action) {
	case domain.ActionAllow:
		rule.Action = domain.ActionAllow
	case domain.ActionDeny:
		rule.Action = domain.ActionDeny
	default:
		return fail("invalid verdict %q", action)
	}

	if opts == "" {
		if strings.Contains(verdict, ",") {
			return fail("trailing comma after verdict")
		}
		return rule, nil
	}

	for _, opt := range strings.Split(opts, ",") {
		switch {
		case strings.HasPrefix(opt, optionTarget):
			if rule.Action != domain.ActionAllow {
				return fail("target= is only valid with allow")
			}
			if rule.Target != "" {
				return fail("duplicate target= option")
			}
			target := opt[len(optionTarget):]
			if target == "" || strings.HasPrefix(target, "$") {
				return fail("invalid target VM name %q", target)
			}
			rule.Target = target
		default:
			return fail("unknown option %q", opt)
		}
	}

	return rule, nil
}

// Serialize writes the rule set back out in policy file syntax. The output
// is semantically equivalent to the input the rules were parsed from, not
// byte identical: comments and blank lines are not preserved.
func Serialize(w io.Writer, rules domain.RuleSet) error {
	for _, rule := range rules {
		verdict := string(rule.Action)
		if rule.Target != "" {
			verdict += "," + optionTarget + rule.Target
		}
		if _, err := fmt.Fprintf(w, "%s %s %s\n", rule.Source, rule.Dest, verdict); err != nil {
			return fmt.Errorf("serialize policy: %w", err)
		}
	}
	return nil
}
