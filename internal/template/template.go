// Package template renders {{ name }} placeholders in command code, paths
// and plan line conditions.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	apperrors "flightplan/internal/errors"
)

// placeholderRe matches {{ name }} and {{ name.key.subkey }} with optional inner spaces.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)((?:\.[A-Za-z0-9_]+)*)\s*\}\}`)

// ExtractNames returns the sorted, de-duplicated root names referenced by text.
func ExtractNames(text string) []string {
	matches := placeholderRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	sort.Strings(names)
	return names
}

// HasPlaceholders reports whether text contains at least one placeholder.
func HasPlaceholders(text string) bool {
	return placeholderRe.MatchString(text)
}

// Render substitutes every placeholder in text with its binding. A name
// with no binding fails with a TEMPLATE_ERROR. In literal mode values are
// written as expression literals: strings and numbers quoted, booleans and
// nil bare, maps quoted key by key.
func Render(text string, bindings map[string]interface{}, literal bool) (string, error) {
	var renderErr error
	out := placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		if renderErr != nil {
			return match
		}
		m := placeholderRe.FindStringSubmatch(match)
		value, err := lookup(bindings, m[1], m[2])
		if err != nil {
			renderErr = err
			return match
		}
		if literal {
			return Literal(value)
		}
		return plain(value)
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}

func lookup(bindings map[string]interface{}, root, path string) (interface{}, error) {
	value, ok := bindings[root]
	if !ok {
		return nil, apperrors.TemplateError(root)
	}
	if path == "" {
		return value, nil
	}
	full := root
	for _, key := range strings.Split(strings.TrimPrefix(path, "."), ".") {
		full += "." + key
		switch m := value.(type) {
		case map[string]interface{}:
			if value, ok = m[key]; !ok {
				return nil, apperrors.TemplateError(full)
			}
		case map[string]string:
			s, found := m[key]
			if !found {
				return nil, apperrors.TemplateError(full)
			}
			value = s
		default:
			return nil, apperrors.TemplateError(full)
		}
	}
	return value, nil
}

func plain(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case *string:
		if val == nil {
			return ""
		}
		return *val
	default:
		return fmt.Sprint(val)
	}
}

// Literal formats v as an expression literal.
func Literal(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(val)
	case string:
		return strconv.Quote(val)
	case *string:
		if val == nil {
			return "nil"
		}
		return strconv.Quote(*val)
	case map[string]string:
		m := make(map[string]interface{}, len(val))
		for k, s := range val {
			m[k] = s
		}
		return literalMap(m)
	case map[string]interface{}:
		return literalMap(val)
	default:
		return strconv.Quote(fmt.Sprint(val))
	}
}

func literalMap(m map[string]interface{}) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, strconv.Quote(k)+": "+Literal(m[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
