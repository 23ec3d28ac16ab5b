// Package approval implements the Approval Gate and Dangerous-Pattern
// Filter that sit between the agent loop and the tool registry: every tool
// call is classified as auto-approved, requires-prompt, or forbidden before
// it reaches an executor.
package approval

import (
	"regexp"
	"strings"
)

// Verdict is the outcome of running a command string through the filter.
type Verdict string

const (
	VerdictClear  Verdict = "clear"
	VerdictWarn   Verdict = "warn"
	VerdictForbid Verdict = "forbidden"
)

// PatternMatch describes why the filter flagged a command.
type PatternMatch struct {
	Verdict Verdict
	Pattern string
	Reason  string
}

// hardForbidden patterns can never be overridden at the default safety
// level, regardless of auto-approve configuration.
var hardForbidden = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-\w*r\w*f\w*|-\w*f\w*r\w*)\s+/(\s|$)`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`\bdd\s+.*\bif=/dev/`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`>\s*/dev/nvme\d+`),
}

// warnAndPrompt patterns are allowed but require an explicit typed
// confirmation, never a single-key yes.
var warnAndPrompt = []*regexp.Regexp{
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bcurl\b[^|]*\|\s*sh\b`),
	regexp.MustCompile(`\bwget\b[^|]*\|\s*sh\b`),
	regexp.MustCompile(`\bchmod\s+777\b`),
	regexp.MustCompile(`\bgit\s+push\s+.*--force\b`),
	regexp.MustCompile(`\bgit\s+reset\s+--hard\b`),
	regexp.MustCompile(`\bdocker\s+run\s+.*--privileged\b`),
}

// Filter is the Dangerous-Pattern Filter: a layered rule set evaluated
// against a shell command string. Detection is acknowledged to be
// bypassable by obfuscation; the filter exists to catch the common case,
// not to be a sandbox.
type Filter struct {
	hardForbidden []*regexp.Regexp
	warnAndPrompt []*regexp.Regexp
	configured    []*regexp.Regexp
	configuredRaw []string
}

// NewFilter creates a Filter seeded with the built-in hard-forbidden and
// warn-and-prompt tiers, plus a user-supplied list of regex patterns merged
// in at startup (the "configurable" tier). Patterns that fail to compile are
// recorded but never dropped silently: Check treats an uncompilable
// configured pattern as matched at warn level, per the filter's fail-safe
// contract.
func NewFilter(configuredPatterns []string) *Filter {
	f := &Filter{
		hardForbidden: hardForbidden,
		warnAndPrompt: warnAndPrompt,
		configuredRaw: configuredPatterns,
	}
	for _, pat := range configuredPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			// Uncompilable pattern: keep nil placeholder so Check's
			// fail-safe path still sees it below.
			f.configured = append(f.configured, nil)
			continue
		}
		f.configured = append(f.configured, re)
	}
	return f
}

// Check runs command through all three tiers and returns the most severe
// verdict reached, tokenizing shell-word boundaries implicitly via regex
// word anchors rather than a full shell parser.
func (f *Filter) Check(command string) PatternMatch {
	normalized := strings.TrimSpace(command)

	for _, re := range f.hardForbidden {
		if re.MatchString(normalized) {
			return PatternMatch{Verdict: VerdictForbid, Pattern: re.String(), Reason: "matches a hard-forbidden pattern"}
		}
	}

	for i, re := range f.configured {
		if re == nil {
			// Fail-safe: a pattern that didn't compile is treated as
			// matched at warn level rather than silently skipped.
			return PatternMatch{
				Verdict: VerdictWarn,
				Pattern: f.configuredRaw[i],
				Reason:  "configured pattern failed to compile; treated as matched",
			}
		}
		if re.MatchString(normalized) {
			return PatternMatch{Verdict: VerdictWarn, Pattern: re.String(), Reason: "matches a configured pattern"}
		}
	}

	for _, re := range f.warnAndPrompt {
		if re.MatchString(normalized) {
			return PatternMatch{Verdict: VerdictWarn, Pattern: re.String(), Reason: "matches a warn-and-prompt pattern"}
		}
	}

	return PatternMatch{Verdict: VerdictClear}
}
