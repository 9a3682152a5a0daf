package audit

import (
	"bytes"
	"encoding/json"
)

// EncodeJSON encodes v the way audit payloads are stored: '&', '<' and '>'
// stay literal so text search over the stored payload sees what was written,
// and escaped NUL characters are dropped because PostgreSQL rejects them in
// jsonb.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return stripNUL(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// stripNUL removes \u0000 escapes from encoded JSON. Backslashes only occur
// inside strings, so walking escape pairs is enough to tell a real \u0000
// from an escaped backslash followed by "u0000".
func stripNUL(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u0000`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if bytes.HasPrefix(b[i:], []byte(`\u0000`)) {
			i += len(`\u0000`) - 1
			continue
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}
