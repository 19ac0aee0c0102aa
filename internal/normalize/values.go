package normalize

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
}

// unix values above this are taken as milliseconds (year 5138 in seconds).
const unixMillisThreshold = 1e11

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := stringValue(obj[key]); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstNumber(obj map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if n, ok := numberValue(obj[key]); ok {
			return n, true
		}
	}
	return 0, false
}

func firstTime(obj map[string]any, keys ...string) *time.Time {
	for _, key := range keys {
		if t, ok := timeValue(obj[key]); ok {
			return &t
		}
	}
	return nil
}

func firstObject(obj map[string]any, keys ...string) map[string]any {
	for _, key := range keys {
		if m, ok := obj[key].(map[string]any); ok {
			return m
		}
	}
	return nil
}

func stringValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	}
	return "", false
}

func numberValue(v any) (float64, bool) {
	var (
		n   float64
		err error
	)
	switch x := v.(type) {
	case json.Number:
		n, err = x.Float64()
	case float64:
		n = x
	case string:
		n, err = strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func timeValue(v any) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return unixTime(n)
		}
	case json.Number, float64:
		if n, ok := numberValue(x); ok {
			return unixTime(n)
		}
	}
	return time.Time{}, false
}

func unixTime(n float64) (time.Time, bool) {
	if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return time.Time{}, false
	}
	if n >= unixMillisThreshold {
		return time.UnixMilli(int64(n)).UTC(), true
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
