package clause

import (
	"testing"
	"time"

	"github.com/donbool/tame/internal/domain/policy"
)

func versionWithRules(rules []policy.Rule) *policy.PolicyVersion {
	pv := &policy.PolicyVersion{
		VersionLabel:  "v1",
		Rules:         rules,
		DefaultAction: policy.ActionDeny,
		DefaultReason: "no rule matched",
	}
	pv.Fingerprint = policy.Fingerprint(pv.Rules, pv.DefaultAction, pv.DefaultReason)
	return pv
}

func TestEvaluate_LiteralSetMatch(t *testing.T) {
	pv := versionWithRules([]policy.Rule{
		{
			Name:   "allow-read",
			Action: policy.ActionAllow,
			Predicate: policy.Predicate{
				ToolName: &policy.ToolMatch{Kind: policy.ToolMatchLiteralSet, Literal: []string{"fs.read"}},
			},
		},
	})

	e := New()
	d, err := e.Evaluate(pv, policy.Call{ToolName: "fs.read"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != policy.ActionAllow || d.RuleName != "allow-read" {
		t.Fatalf("got %+v", d)
	}

	d, err = e.Evaluate(pv, policy.Call{ToolName: "fs.write"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != policy.ActionDeny {
		t.Fatalf("expected default deny, got %+v", d)
	}
}

func TestEvaluate_RegexToolName(t *testing.T) {
	pv := versionWithRules([]policy.Rule{
		{
			Name:   "deny-admin",
			Action: policy.ActionDeny,
			Predicate: policy.Predicate{
				ToolName: &policy.ToolMatch{Kind: policy.ToolMatchRegex, Pattern: `^admin\..*`},
			},
		},
	})

	e := New()
	d, err := e.Evaluate(pv, policy.Call{ToolName: "admin.deleteUser"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != policy.ActionDeny {
		t.Fatalf("expected deny, got %+v", d)
	}
}

func TestEvaluate_ArgContainsAlternation(t *testing.T) {
	pv := versionWithRules([]policy.Rule{
		{
			Name:   "deny-secrets",
			Action: policy.ActionDeny,
			Predicate: policy.Predicate{
				ToolName:    &policy.ToolMatch{Kind: policy.ToolMatchWildcard},
				ArgContains: map[string]string{"path": "secrets|credentials"},
			},
		},
	})

	e := New()
	d, err := e.Evaluate(pv, policy.Call{
		ToolName: "fs.read",
		ToolArgs: map[string]any{"path": "/etc/credentials/db"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != policy.ActionDeny {
		t.Fatalf("expected deny, got %+v", d)
	}

	d, err = e.Evaluate(pv, policy.Call{
		ToolName: "fs.read",
		ToolArgs: map[string]any{"path": "/etc/hostname"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != policy.ActionDeny {
		t.Fatalf("wildcard tool with no matching arg should fall through to default deny, got %+v", d)
	}
}

func TestEvaluate_ArgContainsDoesNotInterpretRegexMetacharacters(t *testing.T) {
	pv := versionWithRules([]policy.Rule{
		{
			Name:   "deny-dotstar",
			Action: policy.ActionDeny,
			Predicate: policy.Predicate{
				ToolName:    &policy.ToolMatch{Kind: policy.ToolMatchWildcard},
				ArgContains: map[string]string{"path": "a.b"},
			},
		},
	})

	e := New()
	d, err := e.Evaluate(pv, policy.Call{
		ToolName: "fs.read",
		ToolArgs: map[string]any{"path": "axb"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != policy.ActionDeny {
		t.Fatalf("literal dot must not match arbitrary character, expected fallthrough to default deny, got %+v", d)
	}
}

func TestEvaluate_SessionContextNumericAndList(t *testing.T) {
	pv := versionWithRules([]policy.Rule{
		{
			Name:   "deny-high-risk",
			Action: policy.ActionDeny,
			Predicate: policy.Predicate{
				ToolName: &policy.ToolMatch{Kind: policy.ToolMatchWildcard},
				SessionContext: map[string]policy.ValueMatch{
					"risk_score": {Kind: policy.ValueMatchNumericGT, Number: 0.8},
					"role":       {Kind: policy.ValueMatchList, List: []string{"admin", "operator"}},
				},
			},
		},
	})

	e := New()
	d, err := e.Evaluate(pv, policy.Call{
		ToolName:       "anything",
		SessionContext: map[string]any{"risk_score": 0.95, "role": "operator"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != policy.ActionDeny {
		t.Fatalf("expected deny, got %+v", d)
	}

	d, err = e.Evaluate(pv, policy.Call{
		ToolName:       "anything",
		SessionContext: map[string]any{"risk_score": 0.1, "role": "operator"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != policy.ActionDeny {
		t.Fatalf("expected fallthrough to default deny, got %+v", d)
	}
}

func TestEvaluate_TimeRangeWrapsMidnight(t *testing.T) {
	pv := versionWithRules([]policy.Rule{
		{
			Name:   "approve-off-hours",
			Action: policy.ActionApprove,
			Predicate: policy.Predicate{
				ToolName: &policy.ToolMatch{Kind: policy.ToolMatchWildcard},
				SessionContext: map[string]policy.ValueMatch{
					policy.NowKey: {Kind: policy.ValueMatchTimeRange, RangeLo: "22:00", RangeHi: "06:00"},
				},
			},
		},
	})

	e := New()
	night := time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC)
	d, err := e.Evaluate(pv, policy.Call{
		ToolName:       "anything",
		SessionContext: map[string]any{policy.NowKey: night},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != policy.ActionApprove {
		t.Fatalf("expected approve during wrapped night range, got %+v", d)
	}

	noon := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	d, err = e.Evaluate(pv, policy.Call{
		ToolName:       "anything",
		SessionContext: map[string]any{policy.NowKey: noon},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != policy.ActionDeny {
		t.Fatalf("expected default deny at noon, got %+v", d)
	}
}

func TestEvaluate_DeterministicAndCached(t *testing.T) {
	pv := versionWithRules([]policy.Rule{
		{
			Name:   "allow-all",
			Action: policy.ActionAllow,
			Predicate: policy.Predicate{
				ToolName: &policy.ToolMatch{Kind: policy.ToolMatchWildcard},
			},
		},
	})

	e := New(WithCacheSize(8))
	call := policy.Call{ToolName: "fs.read", ToolArgs: map[string]any{"path": "/tmp"}}

	first, err := e.Evaluate(pv, call)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	second, err := e.Evaluate(pv, call)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical decisions for identical calls, got %+v vs %+v", first, second)
	}
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	pv := versionWithRules([]policy.Rule{
		{
			Name:   "deny-first",
			Action: policy.ActionDeny,
			Predicate: policy.Predicate{
				ToolName: &policy.ToolMatch{Kind: policy.ToolMatchLiteralSet, Literal: []string{"fs.read"}},
			},
		},
		{
			Name:   "allow-second",
			Action: policy.ActionAllow,
			Predicate: policy.Predicate{
				ToolName: &policy.ToolMatch{Kind: policy.ToolMatchWildcard},
			},
		},
	})

	e := New()
	d, err := e.Evaluate(pv, policy.Call{ToolName: "fs.read"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != policy.ActionDeny || d.RuleName != "deny-first" {
		t.Fatalf("expected first matching rule to win, got %+v", d)
	}
}
