// Package lineprotocol renders telemetry points in the InfluxDB line
// protocol: measurement,tag=value field=value timestamp.
package lineprotocol

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	measurementEscapes = ", "
	tagEscapes         = ",= "
)

// AppendPoint appends the encoding of a single point to dst, without a
// trailing newline. Tags and fields are written in key order so the same
// point always encodes to the same bytes. On error dst is returned unchanged.
func AppendPoint(dst []byte, measurement string, tags map[string]string, fields map[string]any, ts time.Time) ([]byte, error) {
	orig := dst

	if measurement == "" {
		return orig, fmt.Errorf("empty measurement")
	}
	if len(fields) == 0 {
		return orig, fmt.Errorf("point %q has no fields", measurement)
	}

	dst = appendEscaped(dst, measurement, measurementEscapes)

	for _, k := range sortedKeys(tags) {
		v := tags[k]
		if k == "" || v == "" {
			continue // InfluxDB treats an empty tag value as no tag at all
		}
		dst = append(dst, ',')
		dst = appendEscaped(dst, k, tagEscapes)
		dst = append(dst, '=')
		dst = appendEscaped(dst, v, tagEscapes)
	}

	for i, k := range sortedKeys(fields) {
		if k == "" {
			return orig, fmt.Errorf("point %q has an empty field key", measurement)
		}
		if i == 0 {
			dst = append(dst, ' ')
		} else {
			dst = append(dst, ',')
		}
		dst = appendEscaped(dst, k, tagEscapes)
		dst = append(dst, '=')
		var err error
		dst, err = appendFieldValue(dst, fields[k])
		if err != nil {
			return orig, fmt.Errorf("point %q, field %q: %w", measurement, k, err)
		}
	}

	if !ts.IsZero() {
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, ts.UnixNano(), 10)
	}
	return dst, nil
}

func appendFieldValue(dst []byte, v any) ([]byte, error) {
	switch v := v.(type) {
	case float64:
		return appendFloatField(dst, v)
	case float32:
		return appendFloatField(dst, float64(v))
	case int:
		return appendIntField(dst, int64(v)), nil
	case int64:
		return appendIntField(dst, v), nil
	case int32:
		return appendIntField(dst, int64(v)), nil
	case int16:
		return appendIntField(dst, int64(v)), nil
	case int8:
		return appendIntField(dst, int64(v)), nil
	case uint:
		return appendFieldValue(dst, uint64(v))
	case uint64:
		if v > math.MaxInt64 {
			return dst, fmt.Errorf("uint value %d overflows the integer field range", v)
		}
		return appendIntField(dst, int64(v)), nil
	case uint32:
		return appendIntField(dst, int64(v)), nil
	case uint16:
		return appendIntField(dst, int64(v)), nil
	case uint8:
		return appendIntField(dst, int64(v)), nil
	case bool:
		return strconv.AppendBool(dst, v), nil
	case string:
		return appendStringField(dst, v), nil
	default:
		return dst, fmt.Errorf("unsupported field type %T", v)
	}
}

func appendFloatField(dst []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return dst, fmt.Errorf("non-finite float value %v", f)
	}
	return strconv.AppendFloat(dst, f, 'f', -1, 64), nil
}

func appendIntField(dst []byte, i int64) []byte {
	dst = strconv.AppendInt(dst, i, 10)
	return append(dst, 'i')
}

// appendStringField writes a quoted string value, escaping quotes and
// backslashes.
func appendStringField(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			dst = append(dst, '\\')
		}
		dst = append(dst, s[i])
	}
	return append(dst, '"')
}

func appendEscaped(dst []byte, s, escapes string) []byte {
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(escapes, s[i]) >= 0 {
			dst = append(dst, '\\')
		}
		dst = append(dst, s[i])
	}
	return dst
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
