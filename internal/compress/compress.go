// Package compress shrinks large tool results before they reach the LLM
// context window. Long sequences are elided to a count plus a three-item
// sample; everything else passes through unchanged.
package compress

import "encoding/json"

const sampleLen = 3

// Encode recursively traverses decoded JSON values. Sequences longer than
// threshold are replaced with a marker object; shorter ones keep their
// (recursively encoded) elements. Primitives and nil pass through. A
// non-positive threshold is a programmer error.
func Encode(v any, threshold int) any {
	if threshold <= 0 {
		panic("compress: threshold must be positive")
	}
	return encode(v, threshold)
}

func encode(v any, threshold int) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = encode(item, threshold)
		}
		return out

	case []any:
		if len(val) > threshold {
			n := sampleLen
			if len(val) < n {
				n = len(val)
			}
			sample := make([]any, n)
			for i := 0; i < n; i++ {
				sample[i] = encode(val[i], threshold)
			}
			return map[string]any{
				"__toon": true,
				"count":  len(val),
				"sample": sample,
			}
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = encode(item, threshold)
		}
		return out

	default:
		return v
	}
}

// EncodeRaw applies Encode to raw JSON. Any decode or re-encode failure
// returns the input unchanged: compression is never allowed to break a
// response.
func EncodeRaw(raw json.RawMessage, threshold int) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(Encode(v, threshold))
	if err != nil {
		return raw
	}
	return out
}
