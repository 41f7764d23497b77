/*
canonical.go - Deterministic payload normalization and hashing

PURPOSE:
  Policy payloads arrive as arbitrary JSON-like structures. Before
  hashing they are normalized into a canonical form so that logically
  identical payloads always hash identically:
    - map keys serialized in sorted order
    - array elements sorted after recursive normalization
    - a fixed denylist of volatile fields dropped (ids, timestamps)

TWO HASHES:
  HashPayload:    payload only. Compare this for true content-based
                  dedup that ignores actor and time.
  IdempotencyKey: payload + actor + minute-coarse timestamp. Same
                  logical request from the same actor in the same
                  minute always derives the same key, which is what
                  makes retries duplicate-safe.

DETERMINISM:
  Numbers are carried as json.Number so 1.50 re-serializes as 1.50,
  not 1.5. encoding/json already emits map keys sorted.

SEE ALSO:
  - publish.go: Derives keys at the top of every publish call
*/
package engine

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// volatileFields are dropped during canonicalization. They vary between
// logically identical submissions and must not influence hashing.
var volatileFields = map[string]bool{
	"created_at":    true,
	"updated_at":    true,
	"id":            true,
	"timestamp":     true,
	"correlationId": true,
	"eventId":       true,
}

// =============================================================================
// CANONICALIZATION
// =============================================================================

// Canonicalize returns the normalized form of any JSON-like value:
// volatile fields removed, nested structures normalized, arrays sorted
// by their canonical serialization. Values that cannot be represented
// as JSON are an error, never a silent null.
func Canonicalize(v any) (any, error) {
	jv, err := toJSONValue(v)
	if err != nil {
		return nil, err
	}
	return normalize(jv), nil
}

// CanonicalJSON serializes the canonical form of v. Identical logical
// inputs always produce byte-identical output.
func CanonicalJSON(v any) ([]byte, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(canonical)
}

// toJSONValue round-trips v through JSON so that structs, maps and
// slices all land in the same generic representation. Numbers decode as
// json.Number to preserve their source text.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("payload is not representable as JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return out, nil
}

func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if volatileFields[k] {
				continue
			}
			out[k] = normalize(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalize(child)
		}
		sort.SliceStable(out, func(i, j int) bool {
			a, _ := json.Marshal(out[i])
			b, _ := json.Marshal(out[j])
			return bytes.Compare(a, b) < 0
		})
		return out
	default:
		return v
	}
}

// =============================================================================
// HASHING
// =============================================================================

// HashPayload computes the content hash of a payload: SHA-256 over the
// canonical serialization. Actor and time never influence this value.
func HashPayload(v any) string {
	raw, err := CanonicalJSON(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// IdempotencyKey derives the dedup key for a logical request:
// SHA-256 over canonical payload, actor, and the minute-truncated
// timestamp. Callers wanting actor/time-insensitive comparison should
// use HashPayload instead.
func IdempotencyKey(v any, actorID string, at time.Time) string {
	raw, err := CanonicalJSON(v)
	if err != nil {
		return ""
	}
	h := sha256.New()
	h.Write(raw)
	h.Write([]byte{'|'})
	h.Write([]byte(actorID))
	h.Write([]byte{'|'})
	h.Write([]byte(at.UTC().Truncate(time.Minute).Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil))
}
