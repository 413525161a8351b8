package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/schedulekit/constraints/constraint"
)

// Key derives the cache lookup key for a (constraint, context) pair. The
// context is deep-normalized first so structurally identical contexts hash
// identically regardless of map key ordering.
func Key(constraintID string, sc constraint.Context) string {
	return constraintID + ":" + ContextHash(sc)
}

// ContextHash returns the hex SHA-256 of the canonical form of a context.
func ContextHash(sc constraint.Context) string {
	var b strings.Builder
	writeCanonical(&b, map[string]any(sc))
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// writeCanonical serializes v deterministically: map keys are visited in
// sorted order, slices keep their order, scalars go through encoding/json.
func writeCanonical(b *strings.Builder, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(quoted(k))
			b.WriteByte(':')
			writeCanonical(b, t[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, e)
		}
		b.WriteByte(']')
	default:
		enc, err := json.Marshal(v)
		if err != nil {
			// Unserializable values still need a stable representation.
			b.WriteString(fmt.Sprintf("%v", v))
			return
		}
		b.Write(enc)
	}
}

func quoted(s string) string {
	enc, _ := json.Marshal(s)
	return string(enc)
}
