package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint canonicalizes rules (stable ordering, trimmed whitespace,
// normalized booleans/numbers) and returns the hex-encoded SHA-256 of the
// canonical form. The evaluator keys its compiled rules and decision
// cache by it, and it is stored and reported with each policy version.
// Log entries record only the version label, not the fingerprint.
func Fingerprint(rules []Rule, defaultAction Action, defaultReason string) string {
	var b strings.Builder
	for _, r := range rules {
		b.WriteString(canonicalRule(r))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "default_action=%s\n", strings.TrimSpace(string(defaultAction)))
	fmt.Fprintf(&b, "default_reason=%s\n", strings.TrimSpace(defaultReason))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func canonicalRule(r Rule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "name=%s;action=%s;reason=%s;", strings.TrimSpace(r.Name), r.Action, strings.TrimSpace(r.Reason))
	b.WriteString(canonicalPredicate(r.Predicate))
	return b.String()
}

func canonicalPredicate(p Predicate) string {
	var b strings.Builder

	if p.ToolName != nil {
		switch p.ToolName.Kind {
		case ToolMatchWildcard:
			b.WriteString("tool=*;")
		case ToolMatchLiteralSet:
			lits := append([]string(nil), p.ToolName.Literal...)
			sort.Strings(lits)
			fmt.Fprintf(&b, "tool=[%s];", strings.Join(lits, ","))
		case ToolMatchRegex:
			fmt.Fprintf(&b, "tool=/%s/;", strings.TrimSpace(p.ToolName.Pattern))
		}
	}

	writeStringMap(&b, "arg_contains", p.ArgContains)
	writeStringMap(&b, "arg_not_contains", p.ArgNotContains)
	writeValueMatchMap(&b, "session_context", p.SessionContext)
	writeValueMatchMap(&b, "metadata", p.Metadata)

	return b.String()
}

func writeStringMap(b *strings.Builder, label string, m map[string]string) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(b, "%s={", label)
	for _, k := range keys {
		fmt.Fprintf(b, "%s:%s,", k, strings.TrimSpace(m[k]))
	}
	b.WriteString("};")
}

func writeValueMatchMap(b *strings.Builder, label string, m map[string]ValueMatch) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(b, "%s={", label)
	for _, k := range keys {
		v := m[k]
		switch v.Kind {
		case ValueMatchLiteral:
			fmt.Fprintf(b, "%s:%s,", k, strings.TrimSpace(v.Literal))
		case ValueMatchList:
			lits := append([]string(nil), v.List...)
			sort.Strings(lits)
			fmt.Fprintf(b, "%s:[%s],", k, strings.Join(lits, "|"))
		case ValueMatchNumericGT:
			fmt.Fprintf(b, "%s:>%g,", k, v.Number)
		case ValueMatchNumericLT:
			fmt.Fprintf(b, "%s:<%g,", k, v.Number)
		case ValueMatchTimeRange:
			fmt.Fprintf(b, "%s:%s-%s,", k, v.RangeLo, v.RangeHi)
		}
	}
	b.WriteString("};")
}
