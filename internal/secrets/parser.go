// Package secrets substitutes inline #!cxtower.<type>.<ref>!# placeholders
// with stored credentials just before code is sent to a server.
package secrets

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"flightplan/internal/logging"
	"flightplan/internal/metrics"
)

const (
	Marker     = "#!cxtower"
	Terminator = "!#"
	Spoiler    = "*****"
)

// Resolver looks up the value of one reference for a given execution context.
// found is false when nothing matches; err is reserved for lookup failures.
type Resolver interface {
	Resolve(ctx context.Context, sc *Context, ref string) (value string, found bool, err error)
}

type ResolverFunc func(ctx context.Context, sc *Context, ref string) (string, bool, error)

func (f ResolverFunc) Resolve(ctx context.Context, sc *Context, ref string) (string, bool, error) {
	return f(ctx, sc, ref)
}

type cacheKey struct {
	typ string
	ref string
}

type cacheEntry struct {
	value string
	found bool
}

// Context scopes resolution to one execution: the server and partner used
// for precedence plus a cache of lookups and the values substituted so far.
type Context struct {
	ServerID int64
	Partner  string

	mu       sync.Mutex
	cache    map[cacheKey]cacheEntry
	resolved map[string]bool
}

func NewContext(serverID int64, partner string) *Context {
	return &Context{
		ServerID: serverID,
		Partner:  partner,
		cache:    map[cacheKey]cacheEntry{},
		resolved: map[string]bool{},
	}
}

// Values returns every secret value substituted through this context.
func (c *Context) Values() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.resolved))
	for v := range c.resolved {
		out = append(out, v)
	}
	return out
}

// Spoil masks every value substituted through this context.
func (c *Context) Spoil(text string) string {
	return Spoil(text, c.Values())
}

// Parser dispatches placeholders to resolvers registered by type.
type Parser struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

func NewParser() *Parser {
	return &Parser{resolvers: map[string]Resolver{}}
}

func (p *Parser) Register(secretType string, r Resolver) {
	p.mu.Lock()
	p.resolvers[secretType] = r
	p.mu.Unlock()
}

func (p *Parser) resolver(secretType string) (Resolver, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.resolvers[secretType]
	return r, ok
}

// Parse replaces every resolvable placeholder in text. Malformed and
// unresolved placeholders are left exactly as they were.
func (p *Parser) Parse(ctx context.Context, text string, sc *Context) string {
	if !strings.Contains(text, Marker) {
		return text
	}
	if sc == nil {
		sc = NewContext(0, "")
	}

	var out strings.Builder
	pos := 0
	for {
		idx := strings.Index(text[pos:], Marker)
		if idx < 0 {
			break
		}
		start := pos + idx
		end, consumed := placeholderEnd(text, start)
		candidate := text[start:end]

		out.WriteString(text[pos:start])
		if value, ok := p.resolve(ctx, candidate, sc); ok {
			out.WriteString(value)
		} else {
			out.WriteString(text[start:consumed])
		}
		pos = consumed
	}
	out.WriteString(text[pos:])
	return out.String()
}

// placeholderEnd returns where the candidate text ends and where scanning
// resumes, which is past the terminator when one is present.
func placeholderEnd(text string, start int) (end, consumed int) {
	i := start + len(Marker)
	for i < len(text) {
		if strings.HasPrefix(text[i:], Terminator) {
			return i, i + len(Terminator)
		}
		if unicode.IsSpace(rune(text[i])) {
			return i, i
		}
		i++
	}
	return len(text), len(text)
}

func (p *Parser) resolve(ctx context.Context, candidate string, sc *Context) (string, bool) {
	parts := strings.Split(candidate, ".")
	if len(parts) != 3 || parts[0] != Marker || parts[1] == "" || parts[2] == "" {
		return "", false
	}
	secretType, ref := parts[1], parts[2]
	key := cacheKey{secretType, ref}

	sc.mu.Lock()
	entry, cached := sc.cache[key]
	sc.mu.Unlock()

	if !cached {
		r, ok := p.resolver(secretType)
		if !ok {
			logging.Warn("no resolver for secret type", map[string]interface{}{"type": secretType, "reference": ref})
			metrics.RecordSecretMiss(secretType)
			return "", false
		}
		value, found, err := r.Resolve(ctx, sc, ref)
		if err != nil {
			logging.Warn("secret lookup failed", map[string]interface{}{"type": secretType, "reference": ref, "error": err.Error()})
			metrics.RecordSecretMiss(secretType)
			return "", false
		}
		entry = cacheEntry{value: value, found: found}
		sc.mu.Lock()
		sc.cache[key] = entry
		sc.mu.Unlock()
	}

	if !entry.found {
		logging.Warn("secret reference left unresolved", map[string]interface{}{"type": secretType, "reference": ref})
		metrics.RecordSecretMiss(secretType)
		return "", false
	}
	sc.mu.Lock()
	if entry.value != "" {
		sc.resolved[entry.value] = true
	}
	sc.mu.Unlock()
	return entry.value, true
}

// Spoil replaces every occurrence of each value in text with the spoiler.
// Longer values are replaced first so overlapping secrets are fully masked.
func Spoil(text string, values []string) string {
	if text == "" || len(values) == 0 {
		return text
	}
	sorted := append([]string(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	for _, v := range sorted {
		if v == "" {
			continue
		}
		text = strings.ReplaceAll(text, v, Spoiler)
	}
	return text
}
