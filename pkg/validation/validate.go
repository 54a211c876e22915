// Package validation checks decoded JSON arguments against path-based rules.
package validation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"assetdesk/pkg/apperr"
)

// Rules describe constraints on a decoded JSON object. Paths are dot
// separated; "*" selects the first array element and digits index arrays.
type Rules struct {
	Required []string
	Types    map[string]string
	// Nullable paths accept an explicit JSON null in place of their type.
	Nullable map[string]bool
	// NonBlank paths must be strings with content after trimming.
	NonBlank []string
	MaxLen   map[string]int
	Enums    map[string][]string
	// AtLeastOne requires at least one of the listed paths to be present.
	AtLeastOne []string
	WhenThen   []WhenThenRule
}

type WhenThenRule struct {
	WhenPath string
	Equals   interface{}
	ThenReq  []string
}

// Validate returns a validation error for the first violated rule, naming
// the offending field. Checks run in a fixed order so the reported field is
// deterministic.
func (r Rules) Validate(root map[string]interface{}) error {
	for _, p := range r.Required {
		if v, ok := valueAt(root, p); !ok || (v == nil && !r.Nullable[p]) {
			return apperr.Invalid(p, "%s is required", p)
		}
	}
	for _, p := range sortedKeys(r.Types) {
		v, ok := valueAt(root, p)
		if !ok {
			continue
		}
		if v == nil && r.Nullable[p] {
			continue
		}
		if !typeMatches(v, r.Types[p]) {
			return apperr.Invalid(p, "%s must be a %s", p, r.Types[p])
		}
	}
	for _, p := range r.NonBlank {
		v, ok := valueAt(root, p)
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return apperr.Invalid(p, "%s must not be empty", p)
		}
	}
	for _, p := range sortedKeys(r.MaxLen) {
		max := r.MaxLen[p]
		v, ok := valueAt(root, p)
		if !ok {
			continue
		}
		switch vv := v.(type) {
		case string:
			if len(vv) > max {
				return apperr.Invalid(p, "%s exceeds max length %d", p, max)
			}
		case []interface{}:
			if len(vv) > max {
				return apperr.Invalid(p, "%s exceeds max length %d", p, max)
			}
		}
	}
	for _, p := range sortedKeys(r.Enums) {
		v, ok := valueAt(root, p)
		if !ok || v == nil {
			continue
		}
		vals := r.Enums[p]
		if items, isArr := v.([]interface{}); isArr {
			for i, it := range items {
				s, _ := it.(string)
				if !contains(vals, s) {
					return apperr.Invalid(fmt.Sprintf("%s.%d", p, i), "invalid value %v for %s; expected one of %s", it, p, strings.Join(vals, ", "))
				}
			}
			continue
		}
		s, _ := v.(string)
		if !contains(vals, s) {
			return apperr.Invalid(p, "invalid value %v for %s; expected one of %s", v, p, strings.Join(vals, ", "))
		}
	}
	if len(r.AtLeastOne) > 0 {
		found := false
		for _, p := range r.AtLeastOne {
			if existsAt(root, p) {
				found = true
				break
			}
		}
		if !found {
			return apperr.Invalid("", "at least one of %s must be provided", strings.Join(r.AtLeastOne, ", "))
		}
	}
	for _, w := range r.WhenThen {
		if v, ok := valueAt(root, w.WhenPath); ok && equalsJSONValue(v, w.Equals) {
			for _, p := range w.ThenReq {
				if !existsAt(root, p) {
					return apperr.Invalid(p, "%s is required when %s is %v", p, w.WhenPath, w.Equals)
				}
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func existsAt(root interface{}, path string) bool {
	_, ok := valueAt(root, path)
	return ok
}

// ValueAt resolves a dotted path in decoded JSON.
func ValueAt(root interface{}, path string) (interface{}, bool) {
	return valueAt(root, path)
}

func valueAt(root interface{}, path string) (interface{}, bool) {
	cur := root
	for _, s := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[s]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			if s == "*" {
				if len(node) == 0 {
					return nil, false
				}
				cur = node[0]
			} else if idx, err := strconv.Atoi(s); err == nil {
				if idx < 0 || idx >= len(node) {
					return nil, false
				}
				cur = node[idx]
			} else {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return cur, true
}

func typeMatches(v interface{}, t string) bool {
	switch strings.ToLower(t) {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	case "array":
		_, ok := v.([]interface{})
		return ok
	case "string[]":
		arr, ok := v.([]interface{})
		if !ok {
			return false
		}
		for _, it := range arr {
			if _, isStr := it.(string); !isStr {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func equalsJSONValue(a interface{}, b interface{}) bool {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return av == bv
		}
	case float64:
		switch bv := b.(type) {
		case float64:
			return av == bv
		case int:
			return av == float64(bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return av == bv
		}
	case map[string]interface{}, []interface{}:
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
