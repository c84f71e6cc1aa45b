package query

import (
	"net/url"
	"strconv"
	"strings"
)

// ArrayFormat selects how arrays are written to and read from a query.
type ArrayFormat string

const (
	// ArrayComma writes a=1,2,3. It is the default.
	ArrayComma ArrayFormat = "comma"
	// ArrayRepeat writes a=1&a=2&a=3.
	ArrayRepeat ArrayFormat = "none"
	// ArrayBracket writes a[]=1&a[]=2.
	ArrayBracket ArrayFormat = "bracket"
)

// StringifyOptions controls serialization. The zero value means encoded
// comma arrays.
type StringifyOptions struct {
	Encode      *bool       `json:"encode,omitempty"`
	ArrayFormat ArrayFormat `json:"arrayFormat,omitempty"`
}

func (o StringifyOptions) encode() bool {
	return o.Encode == nil || *o.Encode
}

func (o StringifyOptions) format() ArrayFormat {
	if o.ArrayFormat == "" {
		return ArrayComma
	}
	return o.ArrayFormat
}

// Raw returns options that leave values unencoded.
func Raw() StringifyOptions {
	f := false
	return StringifyOptions{Encode: &f}
}

// Parse reads a query string in the comma-array format. A leading "?" is
// ignored, "+" decodes to a space, a raw comma splits a value into an array
// (an encoded %2C does not), a parameter without "=" reads as "", and a
// repeated key keeps its last occurrence.
func Parse(raw string) Query {
	return ParseWith(raw, ArrayComma)
}

// ParseWith reads a query string using the given array format.
func ParseWith(raw string, format ArrayFormat) Query {
	q := make(Query)
	raw = strings.TrimLeft(raw, "?#&")
	if raw == "" {
		return q
	}

	for _, param := range strings.Split(raw, "&") {
		if param == "" {
			continue
		}
		key, value, hasValue := strings.Cut(strings.ReplaceAll(param, "+", " "), "=")
		key = decode(key)

		switch format {
		case ArrayRepeat, ArrayBracket:
			isBracket := strings.HasSuffix(key, "[]")
			if format == ArrayBracket && isBracket {
				key = strings.TrimSuffix(key, "[]")
			}
			item := ""
			if hasValue {
				item = decode(value)
			}
			if prev, ok := q[key]; ok {
				q[key] = Value{Items: append(prev.Items, item), Array: true}
			} else if format == ArrayBracket && isBracket {
				q[key] = A(item)
			} else {
				q[key] = S(item)
			}
		default:
			if !hasValue {
				q[key] = S("")
				continue
			}
			if strings.Contains(value, ",") {
				parts := strings.Split(value, ",")
				items := make([]string, len(parts))
				for i, p := range parts {
					items[i] = decode(p)
				}
				q[key] = Value{Items: items, Array: true}
				continue
			}
			q[key] = S(decode(value))
		}
	}
	return q
}

// Stringify serializes q with keys in sorted order. Empty arrays are
// omitted entirely.
func Stringify(q Query, opts StringifyOptions) string {
	enc := func(s string) string { return s }
	if opts.encode() {
		enc = Encode
	}

	var parts []string
	for _, key := range q.Keys() {
		v := q[key]
		if !v.Array {
			parts = append(parts, enc(key)+"="+enc(v.First()))
			continue
		}
		if len(v.Items) == 0 {
			continue
		}
		switch opts.format() {
		case ArrayRepeat:
			for _, item := range v.Items {
				parts = append(parts, enc(key)+"="+enc(item))
			}
		case ArrayBracket:
			for _, item := range v.Items {
				parts = append(parts, enc(key)+"[]="+enc(item))
			}
		default:
			items := make([]string, len(v.Items))
			for i, item := range v.Items {
				items[i] = enc(item)
			}
			parts = append(parts, enc(key)+"="+strings.Join(items, ","))
		}
	}
	return strings.Join(parts, "&")
}

// Encode percent-encodes everything outside the RFC 3986 unreserved set,
// so spaces become %20 and commas become %2C.
func Encode(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&15])
	}
	return b.String()
}

// EscapeURL makes a URL built with raw stringify options safe to send:
// bytes in the query that may not appear there (spaces, quotes, non-ASCII)
// are percent-encoded the way a browser does before fetching. Reserved
// characters, commas and existing %XX escapes are kept, so the server
// decodes the same query the raw URL describes. The fragment, which is
// never sent, is dropped.
func EscapeURL(raw string) string {
	i := strings.IndexByte(raw, '?')
	if i < 0 {
		return raw
	}
	q := raw[i+1:]
	if j := strings.IndexByte(q, '#'); j >= 0 {
		q = q[:j]
	}

	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(raw))
	b.WriteString(raw[:i+1])
	for k := 0; k < len(q); k++ {
		c := q[k]
		switch {
		case c == '%' && k+2 < len(q) && isHex(q[k+1]) && isHex(q[k+2]):
			b.WriteByte(c)
		case isUnreserved(c) || strings.IndexByte("!$&'()*+,;=:@/?", c) >= 0:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&15])
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}
	return false
}

// decode is lenient: malformed escapes are kept as written.
func decode(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	if d, err := url.PathUnescape(s); err == nil {
		return d
	}
	return s
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
