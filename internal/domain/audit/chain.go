package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// CanonicalCreationFields serializes exactly the fields frozen at Append
// time — never the outcome block, per the invariant that sealing an
// outcome must not disturb the chain already committed to storage.
func CanonicalCreationFields(e LogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "session_id=%s;", e.SessionID)
	fmt.Fprintf(&b, "seq_index=%d;", e.SeqIndex)
	fmt.Fprintf(&b, "timestamp=%s;", e.Timestamp.UTC().Format(timeLayout))
	fmt.Fprintf(&b, "tool_name=%s;", e.ToolName)
	b.WriteString("tool_args=")
	writeCanonicalValue(&b, e.ToolArgs)
	b.WriteByte(';')
	fmt.Fprintf(&b, "policy_version=%s;", e.PolicyVersionLabel)
	fmt.Fprintf(&b, "decision=%s;", e.Decision)
	fmt.Fprintf(&b, "rule_name=%s;", e.RuleName)
	fmt.Fprintf(&b, "reason=%s;", e.Reason)
	fmt.Fprintf(&b, "bypass=%t;", e.Bypass)
	return b.String()
}

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ComputeOwnHash returns the hex-encoded HMAC-SHA256 own-hash for entry,
// keyed by secret, binding it to prevHash as required by invariant (ii):
// own_hash(N) = HMAC(secret, canonical(N-fields || prevHash).
func ComputeOwnHash(secret []byte, e LogEntry, prevHash string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(CanonicalCreationFields(e)))
	mac.Write([]byte("|prev="))
	mac.Write([]byte(prevHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyOwnHash recomputes e's own-hash from its stored creation fields
// and prevHash and reports whether it matches e.OwnHash.
func VerifyOwnHash(secret []byte, e LogEntry, prevHash string) bool {
	want := ComputeOwnHash(secret, e, prevHash)
	return hmac.Equal([]byte(want), []byte(e.OwnHash))
}

func writeCanonicalValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for _, k := range keys {
			fmt.Fprintf(b, "%s:", k)
			writeCanonicalValue(b, val[k])
			b.WriteByte(',')
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for _, item := range val {
			writeCanonicalValue(b, item)
			b.WriteByte(',')
		}
		b.WriteByte(']')
	case string:
		b.WriteString(strings.TrimSpace(val))
	default:
		fmt.Fprintf(b, "%v", val)
	}
}
