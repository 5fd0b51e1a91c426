// Package permission implements the allowed-tools grammar that scopes which
// external commands a sandbox may run.
//
// A permission specification is a comma-separated (primary) or
// space-separated (fallback) list of grants such as:
//
//	Bash(python:*),Bash(git status:*),Read,Write
//
// Rules only grant, never deny: an empty specification denies every command.
package permission

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrBadGrammar reports a malformed permission specification. It is only
// raised at parse time — a bad spec is a configuration defect, not a
// runtime condition to recover from.
var ErrBadGrammar = errors.New("malformed permission spec")

// executableTool is the only tool name whose rules grant command execution.
// Every other tool name (Read, Write, ...) is a bare capability flag.
const executableTool = "Bash"

// Rule is a single grant parsed from one spec token.
type Rule struct {
	// Tool is the capability name, e.g. "Bash" or "Read".
	Tool string

	// Scope is the command pattern inside Tool(...), with any trailing
	// ":*" removed. Empty for bare tools.
	Scope string

	// Wildcard is true when the scope carried a ":*" suffix, permitting
	// arguments beyond the matched command words.
	Wildcard bool
}

// RuleSet is an ordered set of grants. Evaluation is first-match-wins,
// which is semantically an OR of all rules since rules never deny.
// A RuleSet is immutable after Parse and safe for concurrent use.
type RuleSet []Rule

// spaceTokenRe recognizes "word" or "word(inner)" as one token in the
// space-separated fallback format. This format cannot disambiguate tokens
// whose inner scope itself contains spaces; comma-separated specs can.
var spaceTokenRe = regexp.MustCompile(`\w+(?:\([^)]*\))?`)

// Parse builds a RuleSet from a raw allowed-tools specification.
//
// An empty spec yields an empty, deny-all RuleSet. When the spec contains
// any comma it is split on commas; otherwise tokens are recognized by the
// space-separated fallback pattern. Malformed tokens (unbalanced
// parentheses, empty tool name, empty scope) fail with ErrBadGrammar.
func Parse(spec string) (RuleSet, error) {
	spec = strings.TrimSpace(spec)
	spec = strings.Trim(spec, `"'`)
	if spec == "" {
		return RuleSet{}, nil
	}

	tokens, err := tokenize(spec)
	if err != nil {
		return nil, err
	}

	rules := make(RuleSet, 0, len(tokens))
	for _, tok := range tokens {
		rule, err := parseToken(tok)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// tokenize splits a non-empty spec into grammar tokens. Comma-separated is
// the primary format and always wins when any comma is present.
func tokenize(spec string) ([]string, error) {
	if strings.Contains(spec, ",") {
		var tokens []string
		for _, tok := range strings.Split(spec, ",") {
			tok = strings.TrimSpace(tok)
			tok = strings.Trim(tok, `"'`)
			if tok != "" {
				tokens = append(tokens, tok)
			}
		}
		return tokens, nil
	}

	// Space-separated fallback. Any text the token pattern cannot account
	// for (stray parentheses, punctuation) is a grammar defect, not
	// something to silently skip.
	matches := spaceTokenRe.FindAllStringIndex(spec, -1)
	var tokens []string
	last := 0
	for _, m := range matches {
		if residue := strings.TrimSpace(spec[last:m[0]]); residue != "" {
			return nil, fmt.Errorf("%w: unrecognized text %q", ErrBadGrammar, residue)
		}
		tokens = append(tokens, spec[m[0]:m[1]])
		last = m[1]
	}
	if residue := strings.TrimSpace(spec[last:]); residue != "" {
		return nil, fmt.Errorf("%w: unrecognized text %q", ErrBadGrammar, residue)
	}
	return tokens, nil
}

// parseToken parses one "Tool" or "Tool(scope)" token.
func parseToken(tok string) (Rule, error) {
	open := strings.IndexByte(tok, '(')
	if open < 0 {
		if strings.ContainsRune(tok, ')') {
			return Rule{}, fmt.Errorf("%w: unbalanced parentheses in token %q", ErrBadGrammar, tok)
		}
		return Rule{Tool: tok}, nil
	}
	if open == 0 {
		return Rule{}, fmt.Errorf("%w: empty tool name in token %q", ErrBadGrammar, tok)
	}
	if !strings.HasSuffix(tok, ")") {
		return Rule{}, fmt.Errorf("%w: unbalanced parentheses in token %q", ErrBadGrammar, tok)
	}

	tool := tok[:open]
	scope := tok[open+1 : len(tok)-1]
	if scope == "" {
		// Bash() would otherwise degrade into an unrestricted grant.
		return Rule{}, fmt.Errorf("%w: empty scope in token %q", ErrBadGrammar, tok)
	}

	rule := Rule{Tool: tool, Scope: scope}
	if trimmed, ok := strings.CutSuffix(scope, ":*"); ok {
		rule.Wildcard = true
		rule.Scope = trimmed
	}
	return rule, nil
}
