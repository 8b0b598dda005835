package secure

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var (
	jsScheme     = regexp.MustCompile(`(?i)javascript\s*:`)
	eventHandler = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
	angle        = strings.NewReplacer("<", "", ">", "")
)

// SanitizeString strips markup delimiters, javascript: schemes, inline event
// handlers and control characters, then trims surrounding space. Removal is
// repeated until nothing changes so nested payloads cannot reassemble.
func SanitizeString(s string) string {
	for {
		next := strings.Map(func(r rune) rune {
			if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
				return -1
			}
			return r
		}, s)
		next = angle.Replace(next)
		next = jsScheme.ReplaceAllString(next, "")
		next = eventHandler.ReplaceAllString(next, "")
		if next == s {
			return strings.TrimSpace(next)
		}
		s = next
	}
}

// SanitizeValue walks a decoded JSON value and sanitizes every string and
// every object key. Numbers, booleans and null are returned unchanged.
// No field is dropped: a key that cleans to a name already in use gets a
// numeric suffix, e.g. "<a>" next to "a" becomes "a_2".
func SanitizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return SanitizeString(t)
	case map[string]interface{}:
		return sanitizeObject(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = SanitizeValue(val)
		}
		return out
	default:
		return v
	}
}

func sanitizeObject(obj map[string]interface{}) map[string]interface{} {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]interface{}, len(obj))
	// Keys that are already clean keep their names.
	for _, k := range keys {
		if SanitizeString(k) == k {
			out[k] = SanitizeValue(obj[k])
		}
	}
	for _, k := range keys {
		clean := SanitizeString(k)
		if clean == k {
			continue
		}
		name := clean
		for n := 2; ; n++ {
			if _, taken := out[name]; !taken {
				break
			}
			name = clean + "_" + strconv.Itoa(n)
		}
		out[name] = SanitizeValue(obj[k])
	}
	return out
}

// SanitizeBody sanitizes a request body. JSON documents are sanitized field
// by field (numbers keep their exact text); anything else is treated as a
// single string.
func SanitizeBody(body []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil || dec.More() {
		return []byte(SanitizeString(string(body)))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(SanitizeValue(doc)); err != nil {
		return []byte(SanitizeString(string(body)))
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}
