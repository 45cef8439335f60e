package policy

import "testing"

const validDoc = `
version: "2026-07-31.1"
description: "baseline policy"
rules:
  - name: deny-admin-tools
    action: deny
    tools: ["/^admin\\..*/"]
    reason: "admin tools require a break-glass session"
  - name: allow-read-tools
    action: allow
    tools: ["fs.read", "fs.stat"]
    conditions:
      arg_not_contains:
        path: "secrets|credentials"
  - name: approve-high-risk
    action: approve
    tools: ["*"]
    conditions:
      session_context:
        risk_score: ">0.8"
default_action: deny
default_reason: "no matching rule"
`

func TestParseDocument_Valid(t *testing.T) {
	pv, errs, err := ParseDocument(validDoc, true)
	if err != nil {
		t.Fatalf("ParseDocument returned error: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected validation errors: %v", errs)
	}
	if len(pv.Rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(pv.Rules))
	}
	if pv.Rules[0].Predicate.ToolName.Kind != ToolMatchRegex {
		t.Fatalf("expected regex tool match, got %v", pv.Rules[0].Predicate.ToolName.Kind)
	}
	if pv.Rules[2].Predicate.SessionContext["risk_score"].Kind != ValueMatchNumericGT {
		t.Fatalf("expected numeric_gt value match")
	}
	if pv.Fingerprint == "" {
		t.Fatalf("expected a non-empty fingerprint")
	}
}

func TestParseDocument_UnknownAction(t *testing.T) {
	doc := `
rules:
  - name: bogus
    action: maybe
    tools: ["*"]
default_action: deny
`
	_, errs, err := ParseDocument(doc, true)
	if err != nil {
		t.Fatalf("ParseDocument returned error: %v", err)
	}
	if len(errs) == 0 {
		t.Fatalf("expected a validation error for unknown action keyword")
	}
}

func TestParseDocument_MissingRuleName(t *testing.T) {
	doc := `
rules:
  - action: allow
    tools: ["*"]
default_action: deny
`
	_, errs, err := ParseDocument(doc, true)
	if err != nil {
		t.Fatalf("ParseDocument returned error: %v", err)
	}
	if len(errs) == 0 {
		t.Fatalf("expected a validation error for missing rule name")
	}
}

func TestParseDocument_EmptyRuleSet(t *testing.T) {
	doc := `
default_action: deny
`
	_, errs, err := ParseDocument(doc, true)
	if err != nil {
		t.Fatalf("ParseDocument returned error: %v", err)
	}
	if len(errs) == 0 {
		t.Fatalf("expected a validation error for an empty rule set")
	}
}

func TestParseDocument_UnknownClauseKeyword(t *testing.T) {
	doc := `
rules:
  - name: sneaky
    action: deny
    tools: ["*"]
    conditions:
      cascade:
        - arg_contains: {path: "x"}
default_action: allow
`
	_, errs, err := ParseDocument(doc, true)
	if err != nil {
		t.Fatalf("ParseDocument returned error: %v", err)
	}
	if len(errs) == 0 {
		t.Fatalf("expected a validation error for the unrecognized 'cascade' clause keyword")
	}
}

func TestParseDocument_MixedToolNameLiteralAndRegexRejected(t *testing.T) {
	doc := `
rules:
  - name: mixed
    action: deny
    tools: ["fs.read", "/^admin\\..*/"]
default_action: allow
`
	_, errs, err := ParseDocument(doc, true)
	if err != nil {
		t.Fatalf("ParseDocument returned error: %v", err)
	}
	if len(errs) == 0 {
		t.Fatalf("expected a validation error for mixing literal and regex tool_name entries")
	}
}

func TestParseDocument_DuplicateRuleNameStrict(t *testing.T) {
	doc := `
rules:
  - name: dup
    action: allow
    tools: ["*"]
  - name: dup
    action: deny
    tools: ["admin.reset"]
default_action: deny
`
	_, errs, err := ParseDocument(doc, true)
	if err != nil {
		t.Fatalf("ParseDocument returned error: %v", err)
	}
	if len(errs) == 0 {
		t.Fatalf("expected a validation error for duplicate rule names in strict mode")
	}

	pv, errs, err := ParseDocument(doc, false)
	if err != nil {
		t.Fatalf("ParseDocument returned error: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("expected duplicate names to be tolerated outside strict mode, got %v", errs)
	}
	if len(pv.Rules) != 2 {
		t.Fatalf("expected both duplicate rules retained, got %d", len(pv.Rules))
	}
}

func TestParseDocument_RoundTrip(t *testing.T) {
	pv, errs, err := ParseDocument(validDoc, true)
	if err != nil || len(errs) != 0 {
		t.Fatalf("ParseDocument: err=%v errs=%v", err, errs)
	}

	rendered, err := RenderDocument(pv)
	if err != nil {
		t.Fatalf("RenderDocument: %v", err)
	}

	reparsed, errs, err := ParseDocument(rendered, true)
	if err != nil || len(errs) != 0 {
		t.Fatalf("re-parsing rendered document: err=%v errs=%v", err, errs)
	}
	if reparsed.Fingerprint != pv.Fingerprint {
		t.Fatalf("round-trip fingerprint mismatch: %s vs %s", reparsed.Fingerprint, pv.Fingerprint)
	}
}
