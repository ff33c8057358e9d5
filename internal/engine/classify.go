package engine

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

type classifierPattern struct {
	regex *regexp.Regexp
	kind  FailureKind
}

// Patterns are tried in order; the first match wins. They cover the
// diagnostics of both Soufflé and Mangle.
var classifierPatterns = []classifierPattern{
	{
		regex: regexp.MustCompile(`(?i)stratification|cyclic.*negation|cannot.*stratif|negative.*cycle|unable to stratify`),
		kind:  KindStratification,
	},
	{
		regex: regexp.MustCompile(`(?i)ungrounded variable|unsafe.*variable|variable.*not.*bound|unbound.*variable|not range.?restricted`),
		kind:  KindUngroundedVariable,
	},
	{
		regex: regexp.MustCompile(`(?i)undefined relation|undeclared.*predicate|unknown.*predicate|predicate.*not.*declared|no.*declaration.*for|could not find.*declaration`),
		kind:  KindUndeclaredRelation,
	},
	{
		regex: regexp.MustCompile(`(?i)cannot open fact file|cannot open file|no such file`),
		kind:  KindMissingInput,
	},
	{
		regex: regexp.MustCompile(`(?i)type.*mismatch|incompatible.*types|expected.*type.*got|unable to deduce type`),
		kind:  KindTypeMismatch,
	},
	{
		regex: regexp.MustCompile(`(?i)syntax error|parse error|no viable alternative|mismatched input|token recognition error|unexpected`),
		kind:  KindSyntax,
	},
}

// Classify maps engine diagnostics to a failure kind.
func Classify(stderr string) FailureKind {
	for _, p := range classifierPatterns {
		if p.regex.MatchString(stderr) {
			return p.kind
		}
	}
	return KindUnknown
}

var (
	lineColPattern = regexp.MustCompile(`(?:^|[\s:(])(\d+):(\d+)`)
	linePattern    = regexp.MustCompile(`(?i)line\s+(\d+)`)
)

// extractLine finds the first program line number mentioned in stderr.
func extractLine(stderr string) int {
	if m := lineColPattern.FindStringSubmatch(stderr); len(m) >= 3 {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	if m := linePattern.FindStringSubmatch(stderr); len(m) >= 2 {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func asFailure(err error, target **Failure) bool {
	return err != nil && errors.As(err, target)
}
