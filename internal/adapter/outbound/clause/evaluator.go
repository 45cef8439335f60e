// Package clause implements the closed predicate language: a small,
// non-Turing-complete matcher standing in for the free-form expression
// evaluator the rule language used to delegate to. Every clause kind is
// enumerated up front, compiled once per policy version, and evaluated
// against a Call without any further parsing on the hot path.
package clause

import (
	"container/list"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/donbool/tame/internal/domain/policy"
)

// compiledRule mirrors policy.Rule but with any regex tool_name clause
// pre-compiled, so Evaluate never compiles a pattern on the hot path.
type compiledRule struct {
	rule    policy.Rule
	toolRe  *regexp.Regexp
	argRe   map[string]*regexp.Regexp
	nargRe  map[string]*regexp.Regexp
}

// compiledVersion caches the compiled form of a *policy.PolicyVersion,
// keyed by its Fingerprint so re-activating an identical document is free.
type compiledVersion struct {
	fingerprint string
	rules       []compiledRule
}

// Evaluator is the closed-clause implementation of policy.Evaluator. It
// compiles each policy version on first use and caches decisions for
// repeated identical calls, grounded on the teacher's compile-once CEL
// evaluator and its xxhash-keyed result cache.
type Evaluator struct {
	mu      sync.Mutex
	current *compiledVersion

	cache   *resultCache
	maxArgs int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCacheSize bounds the number of cached decisions. A size of 0
// disables caching.
func WithCacheSize(n int) Option {
	return func(e *Evaluator) { e.cache = newResultCache(n) }
}

// WithMaxArgDepth bounds how many dotted path segments arg_contains /
// arg_not_contains will descend, guarding against pathological nested
// payloads.
func WithMaxArgDepth(n int) Option {
	return func(e *Evaluator) { e.maxArgs = n }
}

// New constructs an Evaluator with sane defaults (1024-entry cache,
// 16-level argument path depth).
func New(opts ...Option) *Evaluator {
	e := &Evaluator{cache: newResultCache(1024), maxArgs: 16}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate implements policy.Evaluator. It is safe for concurrent use.
func (e *Evaluator) Evaluate(snapshot *policy.PolicyVersion, call policy.Call) (policy.Decision, error) {
	if snapshot == nil {
		return policy.Decision{}, fmt.Errorf("clause: nil policy snapshot")
	}

	cv, err := e.compiled(snapshot)
	if err != nil {
		return policy.Decision{}, err
	}

	var cacheKey uint64
	if e.cache != nil {
		cacheKey = computeCacheKey(snapshot.Fingerprint, call)
		if d, ok := e.cache.get(cacheKey); ok {
			d.PolicyVersion = snapshot.VersionLabel
			return d, nil
		}
	}

	decision := evaluateRules(cv.rules, call, e.maxArgs)
	decision.PolicyVersion = snapshot.VersionLabel
	if decision.Action == "" {
		decision.Action = snapshot.DefaultAction
		decision.Reason = snapshot.DefaultReason
	}

	if e.cache != nil {
		e.cache.put(cacheKey, decision)
	}
	return decision, nil
}

func (e *Evaluator) compiled(snapshot *policy.PolicyVersion) (*compiledVersion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil && e.current.fingerprint == snapshot.Fingerprint {
		return e.current, nil
	}

	rules := make([]compiledRule, 0, len(snapshot.Rules))
	for _, r := range snapshot.Rules {
		cr := compiledRule{rule: r}
		if r.Predicate.ToolName != nil && r.Predicate.ToolName.Kind == policy.ToolMatchRegex {
			re, err := regexp.Compile(r.Predicate.ToolName.Pattern)
			if err != nil {
				return nil, fmt.Errorf("clause: rule %q: compile tool_name regex: %w", r.Name, err)
			}
			cr.toolRe = re
		}
		if len(r.Predicate.ArgContains) > 0 {
			cr.argRe = make(map[string]*regexp.Regexp, len(r.Predicate.ArgContains))
			for path, pattern := range r.Predicate.ArgContains {
				re, err := compileAlternation(pattern)
				if err != nil {
					return nil, fmt.Errorf("clause: rule %q: arg_contains[%s]: %w", r.Name, path, err)
				}
				cr.argRe[path] = re
			}
		}
		if len(r.Predicate.ArgNotContains) > 0 {
			cr.nargRe = make(map[string]*regexp.Regexp, len(r.Predicate.ArgNotContains))
			for path, pattern := range r.Predicate.ArgNotContains {
				re, err := compileAlternation(pattern)
				if err != nil {
					return nil, fmt.Errorf("clause: rule %q: arg_not_contains[%s]: %w", r.Name, path, err)
				}
				cr.nargRe[path] = re
			}
		}
		rules = append(rules, cr)
	}

	cv := &compiledVersion{fingerprint: snapshot.Fingerprint, rules: rules}
	e.current = cv
	return cv, nil
}

// compileAlternation turns the narrowed "pattern|alt|alt2" substring
// language into a regex of literal, escaped alternatives — never raw
// regex metacharacters, per the narrowed arg_contains/arg_not_contains
// grammar.
func compileAlternation(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "|")
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile(strings.Join(escaped, "|"))
}

func evaluateRules(rules []compiledRule, call policy.Call, maxArgDepth int) policy.Decision {
	for _, cr := range rules {
		if matches(cr, call, maxArgDepth) {
			reason := cr.rule.Reason
			if reason == "" {
				reason = fmt.Sprintf("Matched rule '%s'", cr.rule.Name)
			}
			return policy.Decision{
				Action:   cr.rule.Action,
				RuleName: cr.rule.Name,
				Reason:   reason,
			}
		}
	}
	return policy.Decision{}
}

func matches(cr compiledRule, call policy.Call, maxArgDepth int) bool {
	p := cr.rule.Predicate

	if p.ToolName != nil && !matchToolName(p.ToolName, cr.toolRe, call.ToolName) {
		return false
	}
	for path, re := range cr.argRe {
		if !re.MatchString(flattenToString(call.ToolArgs, path, maxArgDepth)) {
			return false
		}
	}
	for path, re := range cr.nargRe {
		if re.MatchString(flattenToString(call.ToolArgs, path, maxArgDepth)) {
			return false
		}
	}
	for key, vm := range p.SessionContext {
		if !matchValue(vm, call.SessionContext[key]) {
			return false
		}
	}
	for key, vm := range p.Metadata {
		if !matchValue(vm, call.Metadata[key]) {
			return false
		}
	}
	return true
}

func matchToolName(tm *policy.ToolMatch, re *regexp.Regexp, toolName string) bool {
	switch tm.Kind {
	case policy.ToolMatchWildcard:
		return true
	case policy.ToolMatchLiteralSet:
		for _, lit := range tm.Literal {
			if lit == toolName {
				return true
			}
		}
		return false
	case policy.ToolMatchRegex:
		return re != nil && re.MatchString(toolName)
	default:
		return false
	}
}

// flattenToString resolves a dotted path ("a.b.c") into call arguments
// and renders the leaf value as a string for substring matching. Missing
// paths render as the empty string, which no non-empty pattern matches.
func flattenToString(args map[string]any, path string, maxDepth int) string {
	segments := strings.Split(path, ".")
	if len(segments) > maxDepth {
		segments = segments[:maxDepth]
	}

	var cur any = args
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[seg]
		if !ok {
			return ""
		}
	}
	return fmt.Sprintf("%v", cur)
}

func matchValue(vm policy.ValueMatch, actual any) bool {
	switch vm.Kind {
	case policy.ValueMatchLiteral:
		return fmt.Sprintf("%v", actual) == vm.Literal
	case policy.ValueMatchList:
		s := fmt.Sprintf("%v", actual)
		for _, v := range vm.List {
			if v == s {
				return true
			}
		}
		return false
	case policy.ValueMatchNumericGT, policy.ValueMatchNumericLT:
		n, ok := toFloat(actual)
		if !ok {
			return false
		}
		if vm.Kind == policy.ValueMatchNumericGT {
			return n > vm.Number
		}
		return n < vm.Number
	case policy.ValueMatchTimeRange:
		return matchTimeRange(vm, actual)
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func matchTimeRange(vm policy.ValueMatch, actual any) bool {
	t, ok := actual.(time.Time)
	if !ok {
		s, ok2 := actual.(string)
		if !ok2 {
			return false
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return false
		}
		t = parsed
	}
	t = t.UTC()
	clock := t.Hour()*60 + t.Minute()

	lo, loOK := parseHHMM(vm.RangeLo)
	hi, hiOK := parseHHMM(vm.RangeHi)
	if !loOK || !hiOK {
		return false
	}
	if lo <= hi {
		return clock >= lo && clock <= hi
	}
	// Range wraps past midnight, e.g. "22:00-06:00".
	return clock >= lo || clock <= hi
}

func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return h*60 + m, true
}

// computeCacheKey hashes the fingerprint plus the call's identifying
// fields with xxhash, grounded on the teacher's computeCacheKey.
func computeCacheKey(fingerprint string, call policy.Call) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(fingerprint)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(call.ToolName)
	_, _ = h.WriteString("\x00")
	writeCanonicalAny(h, call.ToolArgs)
	_, _ = h.WriteString("\x00")
	writeCanonicalAny(h, call.SessionContext)
	_, _ = h.WriteString("\x00")
	writeCanonicalAny(h, call.Metadata)
	return h.Sum64()
}

func writeCanonicalAny(h *xxhash.Digest, m map[string]any) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		_, _ = h.WriteString(k)
		_, _ = h.WriteString("=")
		_, _ = h.WriteString(fmt.Sprintf("%v", m[k]))
		_, _ = h.WriteString(";")
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// resultCache is a small fixed-capacity LRU of decisions keyed by the
// xxhash digest computed above, grounded on the teacher's ResultCache.
type resultCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[uint64]*list.Element
}

type cacheEntry struct {
	key      uint64
	decision policy.Decision
}

func newResultCache(capacity int) *resultCache {
	if capacity <= 0 {
		return nil
	}
	return &resultCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[uint64]*list.Element, capacity),
	}
}

func (c *resultCache) get(key uint64) (policy.Decision, bool) {
	if c == nil {
		return policy.Decision{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return policy.Decision{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).decision, true
}

func (c *resultCache) put(key uint64, decision policy.Decision) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).decision = decision
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&cacheEntry{key: key, decision: decision})
	c.items[key] = el

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
}
