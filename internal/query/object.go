package query

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// QueryTag maps one field of an object onto a query parameter.
type QueryTag struct {
	Name      string `json:"name"`
	JSONName  string `json:"json_name"`
	OmitEmpty bool   `json:"omitempty"`
	// Encoder, when set, writes the parameter itself by appending raw
	// "k=v" pairs to queries.
	Encoder func(value any, queries *[]string, tag QueryTag) `json:"-"`
}

// EncodeObjectToQuery serializes the tagged fields of obj in tag order.
// Arrays are joined with ",", objects become their values in key order
// joined with "_", and nil writes an empty value.
func EncodeObjectToQuery(obj map[string]any, tags []QueryTag) (string, error) {
	var queries []string

	for _, tag := range tags {
		value, ok := obj[tag.JSONName]
		if !ok {
			continue
		}
		if tag.Encoder != nil {
			tag.Encoder(value, &queries, tag)
			continue
		}

		key := EncodeComponent(tag.Name)
		if tag.OmitEmpty && isFalsy(value) {
			continue
		}

		switch x := value.(type) {
		case nil:
			queries = append(queries, key+"=")
		case map[string]any:
			s, err := encodeQueryObject(x)
			if err != nil {
				return "", err
			}
			queries = append(queries, key+"="+s)
		default:
			rv := reflect.ValueOf(value)
			if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
				queries = append(queries, key+"="+EncodeComponent(scalarString(value)))
				continue
			}
			if tag.OmitEmpty && rv.Len() == 0 {
				continue
			}
			items := make([]string, rv.Len())
			for i := range items {
				item := rv.Index(i).Interface()
				if m, ok := item.(map[string]any); ok {
					s, err := encodeQueryObject(m)
					if err != nil {
						return "", err
					}
					items[i] = s
					continue
				}
				items[i] = EncodeComponent(scalarString(item))
			}
			queries = append(queries, key+"="+strings.Join(items, ","))
		}
	}

	return strings.Join(queries, "&"), nil
}

func encodeQueryObject(m map[string]any) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		v := EncodeComponent(scalarString(m[k]))
		if strings.Contains(v, "_") {
			return "", fmt.Errorf("value contains underscore (_) which is not allowed: %s", v)
		}
		parts[i] = v
	}
	return strings.Join(parts, "_"), nil
}

// isFalsy follows script truthiness: nil, "", 0, and false are empty;
// arrays and objects never are.
func isFalsy(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.Len() == 0
	case reflect.Bool:
		return !rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f == 0 || f != f
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// EncodeComponent escapes like Encode but leaves the sub-delimiters
// ! ' ( ) * as written.
func EncodeComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || strings.IndexByte("!'()*", c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&15])
	}
	return b.String()
}
