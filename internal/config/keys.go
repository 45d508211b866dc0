package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Leaf names that hold credentials, wherever they appear in the tree.
var secretFields = map[string]bool{
	"api_key":      true,
	"token":        true,
	"access_token": true,
	"password":     true,
}

const (
	masked = "****"
	// Secrets shorter than this are hidden entirely; longer ones keep
	// their last four characters so operators can tell tokens apart.
	minTailSecret = 12
	shownTail     = 4
)

// IsSecretKey reports whether a dot-separated key holds a credential.
func IsSecretKey(key string) bool {
	return secretFields[key[strings.LastIndexByte(key, '.')+1:]]
}

// Mask hides a secret value. Empty values stay empty so an unset token is
// still visible as unset.
func Mask(v any) any {
	s, ok := v.(string)
	switch {
	case v == nil || (ok && s == ""):
		return v
	case !ok || utf8.RuneCountInString(s) < minTailSecret:
		return masked
	}
	r := []rune(s)
	return masked + string(r[len(r)-shownTail:])
}

// MaskSecrets returns a copy of flat with every secret value masked.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if IsSecretKey(k) {
			v = Mask(v)
		}
		out[k] = v
	}
	return out
}

// Flatten turns nested JSON objects into dot-separated keys:
// {"session": {"backend": "file"}} becomes {"session.backend": "file"}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Keys lists every settable key in sorted order.
func Keys() []string {
	m, err := ToMap(Defaults())
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range Flatten(m) {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// defaultValue returns the default for key, which also tells the JSON
// type the field expects.
func defaultValue(key string) (any, bool) {
	m, err := ToMap(Defaults())
	if err != nil {
		return nil, false
	}
	v, ok := Flatten(m)[key]
	return v, ok
}

// parseValue converts command-line text into the JSON type of the field
// behind key, so "30" is stored as a number for session.window and kept
// as a string for llm.model.
func parseValue(key, s string) (any, error) {
	def, ok := defaultValue(key)
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	switch def.(type) {
	case string:
		return s, nil
	case bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%s expects true or false, got %q", key, s)
		}
		return b, nil
	case float64:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%s expects a number, got %q", key, s)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%s cannot be set from the command line", key)
	}
}

// setPath stores v at the dot-separated key inside m, creating objects on
// the way.
func setPath(m map[string]any, key string, v any) error {
	parts := strings.Split(key, ".")
	cur := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p]
		if !ok || next == nil {
			child := make(map[string]any)
			cur[p] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: %q is not a section", key, p)
		}
		cur = child
	}
	cur[parts[len(parts)-1]] = v
	return nil
}
