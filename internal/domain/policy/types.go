// Package policy defines the rule language, match predicates, and policy
// version lifecycle for the decision engine.
package policy

import "time"

// Action is the evaluator's verdict for a tool call.
type Action string

const (
	// ActionAllow permits the call.
	ActionAllow Action = "allow"
	// ActionDeny refuses the call.
	ActionDeny Action = "deny"
	// ActionApprove marks the call as requiring a human gate.
	ActionApprove Action = "approve"
)

// Valid reports whether a is one of the three closed action values.
func (a Action) Valid() bool {
	switch a {
	case ActionAllow, ActionDeny, ActionApprove:
		return true
	default:
		return false
	}
}

// ToolMatchKind distinguishes the canonical representations a tool_name
// clause may take on storage. See DESIGN.md "Open Questions — resolved"
// for why a single overloaded string is not used here.
type ToolMatchKind string

const (
	// ToolMatchWildcard matches any tool name.
	ToolMatchWildcard ToolMatchKind = "wildcard"
	// ToolMatchLiteralSet matches if the tool name equals any listed literal.
	ToolMatchLiteralSet ToolMatchKind = "literal_set"
	// ToolMatchRegex matches the tool name against a compiled regular expression.
	ToolMatchRegex ToolMatchKind = "regex"
)

// ToolMatch is the canonical, storage-side representation of a tool_name
// clause.
type ToolMatch struct {
	Kind    ToolMatchKind
	Literal []string // populated when Kind == ToolMatchLiteralSet
	Pattern string   // populated when Kind == ToolMatchRegex (without the enclosing slashes)
}

// ValueMatchKind distinguishes the shorthand forms a session_context or
// metadata clause value may take in the declarative document.
type ValueMatchKind string

const (
	ValueMatchLiteral   ValueMatchKind = "literal"
	ValueMatchList      ValueMatchKind = "list"
	ValueMatchNumericGT ValueMatchKind = "numeric_gt"
	ValueMatchNumericLT ValueMatchKind = "numeric_lt"
	ValueMatchTimeRange ValueMatchKind = "time_range"
)

// ValueMatch describes how to interpret a declared condition value, after
// parsing the shorthand forms: literal equality, list membership, numeric
// comparison ("<N"/">N"), or a time range ("HH:MM-HH:MM").
type ValueMatch struct {
	Kind    ValueMatchKind
	Literal string   // ValueMatchLiteral
	List    []string // ValueMatchList
	Number  float64  // ValueMatchNumericGT / ValueMatchNumericLT
	RangeLo string   // ValueMatchTimeRange, "HH:MM"
	RangeHi string   // ValueMatchTimeRange, "HH:MM"
}

// Predicate is the conjunction of clauses that make up a rule's match
// condition. Any clause left nil/empty is treated as "true" (absent
// clauses match unconditionally); an entirely empty Predicate matches
// unconditionally.
type Predicate struct {
	ToolName       *ToolMatch
	ArgContains    map[string]string // arg path -> "pattern|alt|alt2"
	ArgNotContains map[string]string
	SessionContext map[string]ValueMatch
	Metadata       map[string]ValueMatch
}

// Rule is one ordered element of a policy version. Rules are strictly
// ordered; the first rule whose predicate matches wins.
type Rule struct {
	// Index is the rule's position in its policy's ordered rule list,
	// used as a deterministic tie-break.
	Index       int
	Name        string
	Description string
	Predicate   Predicate
	Action      Action
	Reason      string
}

// PolicyVersion is an immutable, labeled rule document. Exactly one
// version per store is ever active.
type PolicyVersion struct {
	ID            string
	VersionLabel  string
	Source        string // original declarative document text
	Fingerprint   string // SHA-256 over the canonicalized rule list
	Description   string
	Rules         []Rule
	DefaultAction Action
	DefaultReason string
	CreatedAt     time.Time
	Active        bool
}

// Decision is the evaluator's verdict for a single call.
type Decision struct {
	Action        Action
	RuleName      string // empty when the default action applied
	Reason        string
	PolicyVersion string // the version label tagging this decision
}
