// Package variables resolves template variables for servers with fallback
// to global values.
package variables

import (
	"fmt"

	apperrors "flightplan/internal/errors"
	"flightplan/internal/template"
	"flightplan/internal/types"
)

// DefaultMaxDepth bounds how many levels of nested {{ }} references are expanded.
const DefaultMaxDepth = 5

// ValueSource loads the stored values of names that are global (server id 0)
// or bound to one of serverIDs.
type ValueSource interface {
	ValuesFor(serverIDs []int64, names []string) ([]types.VariableValue, error)
}

type Resolver struct {
	source   ValueSource
	maxDepth int
}

func NewResolver(source ValueSource, maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{source: source, maxDepth: maxDepth}
}

// ResolveMany resolves names for every server in one lookup. Each result map
// has an entry for every requested name; nil means no server or global value.
func (r *Resolver) ResolveMany(serverIDs []int64, names []string) (map[int64]map[string]*string, error) {
	out := make(map[int64]map[string]*string, len(serverIDs))
	for _, id := range serverIDs {
		m := make(map[string]*string, len(names))
		for _, n := range names {
			m[n] = nil
		}
		out[id] = m
	}
	if len(names) == 0 {
		return out, nil
	}

	values, err := r.source.ValuesFor(serverIDs, names)
	if err != nil {
		return nil, err
	}

	global := map[string]string{}
	scoped := map[int64]map[string]string{}
	for _, vv := range values {
		if vv.ServerID == 0 {
			global[vv.Name] = vv.Value
			continue
		}
		if scoped[vv.ServerID] == nil {
			scoped[vv.ServerID] = map[string]string{}
		}
		scoped[vv.ServerID][vv.Name] = vv.Value
	}

	for _, id := range serverIDs {
		for _, n := range names {
			if v, ok := scoped[id][n]; ok {
				out[id][n] = stringPtr(v)
			} else if v, ok := global[n]; ok {
				out[id][n] = stringPtr(v)
			}
		}
	}
	return out, nil
}

// Resolve resolves names for a single server (0 for global values only).
func (r *Resolver) Resolve(serverID int64, names []string) (map[string]*string, error) {
	all, err := r.ResolveMany([]int64{serverID}, names)
	if err != nil {
		return nil, err
	}
	return all[serverID], nil
}

// ResolveRecursive resolves names and then expands {{ }} references inside
// the resolved values, one level per pass. A value still holding references
// after the maximum depth fails with a TEMPLATE_ERROR, which also covers cycles.
func (r *Resolver) ResolveRecursive(serverID int64, names []string) (map[string]*string, error) {
	values, err := r.Resolve(serverID, names)
	if err != nil {
		return nil, err
	}
	known := make(map[string]*string, len(values))
	for k, v := range values {
		known[k] = v
	}

	for depth := 0; ; depth++ {
		var pending []string
		for _, n := range names {
			if v := values[n]; v != nil && template.HasPlaceholders(*v) {
				pending = append(pending, n)
			}
		}
		if len(pending) == 0 {
			return values, nil
		}
		if depth >= r.maxDepth {
			return nil, apperrors.New(apperrors.ErrCodeTemplate,
				fmt.Sprintf("variable '%s' exceeds the maximum nesting depth of %d", pending[0], r.maxDepth)).
				WithDetail("variable", pending[0])
		}

		var missing []string
		for _, n := range pending {
			for _, ref := range template.ExtractNames(*values[n]) {
				if _, ok := known[ref]; !ok {
					known[ref] = nil
					missing = append(missing, ref)
				}
			}
		}
		if len(missing) > 0 {
			fetched, err := r.Resolve(serverID, missing)
			if err != nil {
				return nil, err
			}
			for k, v := range fetched {
				known[k] = v
			}
		}

		bindings := Bindings(known)
		for _, n := range pending {
			rendered, err := template.Render(*values[n], bindings, false)
			if err != nil {
				return nil, err
			}
			values[n] = stringPtr(rendered)
		}
	}
}

// Bindings converts resolved values into renderer bindings, leaving out
// names without a value so rendering them fails instead of going blank.
func Bindings(values map[string]*string) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

func stringPtr(s string) *string { return &s }
