package fleet

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"unicode/utf16"
)

// CanonicalJSON re-serializes a JSON document with sorted object keys, no
// insignificant whitespace, ASCII-only string escaping and number literals
// kept as sent. The output matches json.dumps(v, sort_keys=True,
// separators=(",", ":")) used by the agents for integer payloads.
func CanonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: payload is not valid JSON: %v", ErrInvalidArgument, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON payload", ErrInvalidArgument)
	}
	var buf bytes.Buffer
	writeCanonical(&buf, v)
	return buf.Bytes(), nil
}

// PayloadHash returns the canonical form of an object payload and its
// sha256 hex digest. Non-object payloads are rejected.
func PayloadHash(raw []byte) (canonical []byte, sum string, err error) {
	if t := bytes.TrimSpace(raw); len(t) == 0 || t[0] != '{' {
		return nil, "", fmt.Errorf("%w: package_json must be a JSON object", ErrInvalidArgument)
	}
	canonical, err = CanonicalJSON(raw)
	if err != nil {
		return nil, "", err
	}
	h := sha256.Sum256(canonical)
	return canonical, hex.EncodeToString(h[:]), nil
}

func writeCanonical(buf *bytes.Buffer, v any) {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(x.String())
	case string:
		writeString(buf, x)
	case []any:
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, e)
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		// порядок байтов UTF-8 совпадает с порядком кодовых точек
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			writeCanonical(buf, x[k])
		}
		buf.WriteByte('}')
	}
}

const hexDigits = "0123456789abcdef"

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			switch {
			case r < 0x20 || r >= 0x7f:
				for _, u := range utf16.Encode([]rune{r}) {
					writeU16(buf, u)
				}
			default:
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

func writeU16(buf *bytes.Buffer, u uint16) {
	buf.WriteString(`\u`)
	buf.WriteByte(hexDigits[u>>12&0xf])
	buf.WriteByte(hexDigits[u>>8&0xf])
	buf.WriteByte(hexDigits[u>>4&0xf])
	buf.WriteByte(hexDigits[u&0xf])
}
