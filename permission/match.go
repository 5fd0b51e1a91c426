package permission

import (
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// Allows reports whether command is granted by the rule set.
//
// The command is tokenized with quote-aware shell-word splitting; commands
// that fail to tokenize (unbalanced quotes) are never allowed. Only Bash
// rules participate — bare capability rules (Read, Write) never grant
// command execution. Allows is a pure function of (rules, command): no side
// effects, fully deterministic, safe for concurrent use.
func (rs RuleSet) Allows(command string) bool {
	words, err := shellwords.Parse(command)
	if err != nil || len(words) == 0 {
		return false
	}

	for _, rule := range rs {
		if !strings.EqualFold(rule.Tool, executableTool) {
			continue
		}
		if rule.matches(words) {
			return true
		}
	}
	return false
}

// matches applies one executable rule to a tokenized command.
func (r Rule) matches(words []string) bool {
	if r.Scope == "" {
		// Bare Bash grant: unrestricted.
		return true
	}

	scopeWords := strings.Fields(r.Scope)
	if len(scopeWords) == 0 {
		return false
	}

	if r.Wildcard {
		if len(scopeWords) == 1 {
			return matchWord(words[0], scopeWords[0])
		}
		// Scoped subcommand: the command must start with exactly the
		// scope words, in order. Arguments beyond them are unrestricted.
		return hasWordPrefix(words, scopeWords)
	}

	// Exact grant: the command must consist of exactly the scope words,
	// with no further arguments.
	return len(words) == len(scopeWords) && hasWordPrefix(words, scopeWords)
}

// hasWordPrefix reports whether words begins with all of prefix, in order.
func hasWordPrefix(words, prefix []string) bool {
	if len(words) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if words[i] != p {
			return false
		}
	}
	return true
}

// matchWord compares a command word against a scope word, honoring a
// trailing "*" as a prefix match (e.g. "python*" matches "python3").
func matchWord(word, scope string) bool {
	if stem, ok := strings.CutSuffix(scope, "*"); ok {
		return strings.HasPrefix(word, stem)
	}
	return word == scope
}
