package vericert

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// Canonicalize returns the deterministic JSON serialization of v: object
// keys sorted lexicographically, no insignificant whitespace, no HTML
// escaping. Two semantically identical documents canonicalize to identical
// bytes, which makes hashes and signatures over the result reproducible by
// independent verifiers.
//
// The field order of the hash input is fixed by the sort, not by struct or
// map ordering, so chain verification cannot silently break when a runtime
// changes its map iteration or insertion order.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "canonicalize: marshal failed")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	// Preserve the exact number representation instead of round-tripping
	// through float64.
	dec.UseNumber()
	var tree any
	if err = dec.Decode(&tree); err != nil {
		return nil, errors.Wrap(err, "canonicalize: decode failed")
	}
	var buf bytes.Buffer
	if err = writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		return writeCanonicalString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return errors.Errorf("canonicalize: unsupported type %T", v)
	}
	return nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return errors.Wrap(err, "canonicalize: string encode failed")
	}
	// Encode appends a newline; strip it.
	buf.Truncate(buf.Len() - 1)
	return nil
}
