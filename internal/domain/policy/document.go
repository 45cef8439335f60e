package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// rawDocument mirrors the canonical YAML policy document shape from §6.
type rawDocument struct {
	Version        string    `yaml:"version"`
	Description    string    `yaml:"description"`
	Rules          []rawRule `yaml:"rules"`
	DefaultAction  string    `yaml:"default_action"`
	DefaultReason  string    `yaml:"default_reason"`
}

type rawRule struct {
	Name        string         `yaml:"name"`
	Action      string         `yaml:"action"`
	Tools       []string       `yaml:"tools"`
	Conditions  map[string]any `yaml:"conditions"`
	Reason      string         `yaml:"reason"`
	Description string         `yaml:"description"`
}

// allowedConditionKeys is the closed set of clause keywords. Any other
// key nested under "conditions" (including the source's "cascade"/"AND"
// sub-structures) is a VALIDATION error — see DESIGN.md Open Questions.
var allowedConditionKeys = map[string]bool{
	"arg_contains":     true,
	"arg_not_contains": true,
	"session_context":  true,
	"metadata":         true,
}

var timeRangePattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)-([01]\d|2[0-3]):([0-5]\d)$`)

// ParseDocument parses the declarative source into an ordered rule list
// plus defaults, performing the checks described by Validate in §4.1:
// unknown action keyword; missing rule name; unparseable predicate
// expression; duplicate rule names (an error only when strict, otherwise
// accepted without any report); empty rule set.
func ParseDocument(source string, strict bool) (*PolicyVersion, []string, error) {
	var doc rawDocument
	if err := yaml.Unmarshal([]byte(source), &doc); err != nil {
		return nil, nil, fmt.Errorf("unparseable policy document: %w", err)
	}

	var errs []string
	if len(doc.Rules) == 0 {
		errs = append(errs, "policy document has an empty rule set")
	}

	defaultAction := Action(strings.ToLower(strings.TrimSpace(doc.DefaultAction)))
	if defaultAction == "" {
		defaultAction = ActionDeny
	} else if !defaultAction.Valid() {
		errs = append(errs, fmt.Sprintf("unknown default_action keyword %q", doc.DefaultAction))
	}

	seenNames := make(map[string]int)
	rules := make([]Rule, 0, len(doc.Rules))

	for i, rr := range doc.Rules {
		if strings.TrimSpace(rr.Name) == "" {
			errs = append(errs, fmt.Sprintf("rule at index %d is missing a name", i))
			continue
		}
		seenNames[rr.Name]++
		if seenNames[rr.Name] > 1 {
			msg := fmt.Sprintf("duplicate rule name %q", rr.Name)
			if strict {
				errs = append(errs, msg)
			}
		}

		action := Action(strings.ToLower(strings.TrimSpace(rr.Action)))
		if !action.Valid() {
			errs = append(errs, fmt.Sprintf("rule %q has unknown action keyword %q", rr.Name, rr.Action))
			continue
		}

		predicate, perrs := parsePredicate(rr.Name, rr.Tools, rr.Conditions)
		if len(perrs) > 0 {
			errs = append(errs, perrs...)
			continue
		}

		rules = append(rules, Rule{
			Index:       i,
			Name:        rr.Name,
			Description: rr.Description,
			Predicate:   predicate,
			Action:      action,
			Reason:      rr.Reason,
		})
	}

	if len(errs) > 0 {
		return nil, errs, nil
	}

	pv := &PolicyVersion{
		VersionLabel:  doc.Version,
		Source:        source,
		Description:   doc.Description,
		Rules:         rules,
		DefaultAction: defaultAction,
		DefaultReason: doc.DefaultReason,
	}
	pv.Fingerprint = Fingerprint(pv.Rules, pv.DefaultAction, pv.DefaultReason)
	return pv, nil, nil
}

func parsePredicate(ruleName string, tools []string, conditions map[string]any) (Predicate, []string) {
	var errs []string
	var p Predicate

	if len(tools) > 0 {
		tm, err := parseToolMatch(tools)
		if err != nil {
			errs = append(errs, fmt.Sprintf("rule %q: %v", ruleName, err))
		} else {
			p.ToolName = tm
		}
	}

	for key := range conditions {
		if !allowedConditionKeys[key] {
			errs = append(errs, fmt.Sprintf("rule %q: unknown clause keyword %q under conditions", ruleName, key))
		}
	}
	if len(errs) > 0 {
		return p, errs
	}

	if raw, ok := conditions["arg_contains"]; ok {
		m, err := toStringMap(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("rule %q: arg_contains: %v", ruleName, err))
		} else {
			p.ArgContains = m
		}
	}
	if raw, ok := conditions["arg_not_contains"]; ok {
		m, err := toStringMap(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("rule %q: arg_not_contains: %v", ruleName, err))
		} else {
			p.ArgNotContains = m
		}
	}
	if raw, ok := conditions["session_context"]; ok {
		m, err := toValueMatchMap(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("rule %q: session_context: %v", ruleName, err))
		} else {
			p.SessionContext = m
		}
	}
	if raw, ok := conditions["metadata"]; ok {
		m, err := toValueMatchMap(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("rule %q: metadata: %v", ruleName, err))
		} else {
			p.Metadata = m
		}
	}

	return p, errs
}

// parseToolMatch resolves the spec's conflated tool_name shapes into the
// canonical ToolMatch. A single "*" entry is the wildcard. A single entry
// wrapped in "/.../ " is a regex. Anything else is a literal set. Mixing a
// "/regex/" entry with literal entries in the same list is rejected —
// the spec calls that combination's semantics unspecified.
func parseToolMatch(tools []string) (*ToolMatch, error) {
	hasRegex := false
	hasLiteral := false
	for _, t := range tools {
		if isRegexLiteral(t) {
			hasRegex = true
		} else if t != "*" {
			hasLiteral = true
		}
	}
	if hasRegex && hasLiteral {
		return nil, fmt.Errorf("tool_name list may not mix literals and a regex entry")
	}

	if len(tools) == 1 && tools[0] == "*" {
		return &ToolMatch{Kind: ToolMatchWildcard}, nil
	}
	for _, t := range tools {
		if t == "*" && len(tools) > 1 {
			return &ToolMatch{Kind: ToolMatchWildcard}, nil
		}
	}
	if hasRegex {
		if len(tools) != 1 {
			return nil, fmt.Errorf("tool_name list may not mix literals and a regex entry")
		}
		pattern := strings.TrimSuffix(strings.TrimPrefix(tools[0], "/"), "/")
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("unparseable tool_name regex %q: %w", tools[0], err)
		}
		return &ToolMatch{Kind: ToolMatchRegex, Pattern: pattern}, nil
	}
	return &ToolMatch{Kind: ToolMatchLiteralSet, Literal: append([]string(nil), tools...)}, nil
}

func isRegexLiteral(s string) bool {
	return len(s) >= 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/")
}

func toStringMap(raw any) (map[string]string, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a mapping of path to pattern")
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("value for %q must be a string pattern", k)
		}
		out[k] = s
	}
	return out, nil
}

// toValueMatchMap parses the session_context/metadata shorthand: a list
// becomes ValueMatchList, a numeric-comparison token becomes
// ValueMatchNumericGT/LT, a time-range token becomes ValueMatchTimeRange,
// otherwise it's literal equality.
func toValueMatchMap(raw any) (map[string]ValueMatch, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a mapping of key to expected value")
	}
	out := make(map[string]ValueMatch, len(m))
	for k, v := range m {
		vm, err := parseValueMatch(v)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		out[k] = vm
	}
	return out, nil
}

func parseValueMatch(v any) (ValueMatch, error) {
	switch val := v.(type) {
	case []any:
		list := make([]string, 0, len(val))
		for _, item := range val {
			list = append(list, fmt.Sprintf("%v", item))
		}
		sort.Strings(list)
		return ValueMatch{Kind: ValueMatchList, List: list}, nil
	case string:
		if timeRangePattern.MatchString(val) {
			parts := strings.SplitN(val, "-", 2)
			return ValueMatch{Kind: ValueMatchTimeRange, RangeLo: parts[0], RangeHi: parts[1]}, nil
		}
		if strings.HasPrefix(val, ">") {
			n, err := strconv.ParseFloat(strings.TrimSpace(val[1:]), 64)
			if err != nil {
				return ValueMatch{}, fmt.Errorf("invalid numeric comparison %q", val)
			}
			return ValueMatch{Kind: ValueMatchNumericGT, Number: n}, nil
		}
		if strings.HasPrefix(val, "<") {
			n, err := strconv.ParseFloat(strings.TrimSpace(val[1:]), 64)
			if err != nil {
				return ValueMatch{}, fmt.Errorf("invalid numeric comparison %q", val)
			}
			return ValueMatch{Kind: ValueMatchNumericLT, Number: n}, nil
		}
		return ValueMatch{Kind: ValueMatchLiteral, Literal: val}, nil
	default:
		return ValueMatch{Kind: ValueMatchLiteral, Literal: fmt.Sprintf("%v", val)}, nil
	}
}

// RenderDocument serializes a PolicyVersion back to the canonical YAML
// document shape, the inverse of ParseDocument, used for round-trip
// testing and for Export-adjacent tooling.
func RenderDocument(pv *PolicyVersion) (string, error) {
	doc := rawDocument{
		Version:       pv.VersionLabel,
		Description:   pv.Description,
		DefaultAction: string(pv.DefaultAction),
		DefaultReason: pv.DefaultReason,
	}
	for _, r := range pv.Rules {
		rr := rawRule{
			Name:        r.Name,
			Action:      string(r.Action),
			Description: r.Description,
			Reason:      r.Reason,
		}
		if r.Predicate.ToolName != nil {
			switch r.Predicate.ToolName.Kind {
			case ToolMatchWildcard:
				rr.Tools = []string{"*"}
			case ToolMatchLiteralSet:
				rr.Tools = append([]string(nil), r.Predicate.ToolName.Literal...)
			case ToolMatchRegex:
				rr.Tools = []string{"/" + r.Predicate.ToolName.Pattern + "/"}
			}
		}
		conditions := map[string]any{}
		if len(r.Predicate.ArgContains) > 0 {
			conditions["arg_contains"] = toAnyMap(r.Predicate.ArgContains)
		}
		if len(r.Predicate.ArgNotContains) > 0 {
			conditions["arg_not_contains"] = toAnyMap(r.Predicate.ArgNotContains)
		}
		if len(r.Predicate.SessionContext) > 0 {
			conditions["session_context"] = valueMatchMapToAny(r.Predicate.SessionContext)
		}
		if len(r.Predicate.Metadata) > 0 {
			conditions["metadata"] = valueMatchMapToAny(r.Predicate.Metadata)
		}
		if len(conditions) > 0 {
			rr.Conditions = conditions
		}
		doc.Rules = append(doc.Rules, rr)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("render policy document: %w", err)
	}
	return string(out), nil
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func valueMatchMapToAny(m map[string]ValueMatch) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch v.Kind {
		case ValueMatchLiteral:
			out[k] = v.Literal
		case ValueMatchList:
			out[k] = v.List
		case ValueMatchNumericGT:
			out[k] = fmt.Sprintf(">%g", v.Number)
		case ValueMatchNumericLT:
			out[k] = fmt.Sprintf("<%g", v.Number)
		case ValueMatchTimeRange:
			out[k] = v.RangeLo + "-" + v.RangeHi
		}
	}
	return out
}
