// Package templating implements the shared {{var}} substitution and
// dotted/indexed path extraction used to render fixture responses (C1) and
// to template and extract values during chain execution (C4).
package templating

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// Context holds the named values available for {{var}} substitution. Vars
// may hold strings, numbers, bools, or arbitrary JSON-decoded values (map,
// slice) for path navigation.
type Context struct {
	Vars map[string]any
}

// New returns an empty templating context.
func New() *Context {
	return &Context{Vars: make(map[string]any)}
}

// WithEnv returns a context seeded from a flat string map, mirroring
// TemplatingContext::with_env.
func WithEnv(env map[string]string) *Context {
	ctx := New()
	for k, v := range env {
		ctx.Vars[k] = v
	}
	return ctx
}

// Set stores a named value, overwriting any existing value for that name.
func (c *Context) Set(name string, value any) {
	c.Vars[name] = value
}

// Get returns the named value and whether it was present.
func (c *Context) Get(name string) (any, bool) {
	v, ok := c.Vars[name]
	return v, ok
}

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// ExpandString replaces every {{path}} placeholder in s with the stringified
// result of resolving path against the context. A placeholder whose path
// cannot be resolved is left untouched (literal-on-miss semantics).
func (c *Context) ExpandString(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		path := strings.TrimSpace(placeholder.FindStringSubmatch(match)[1])
		value, ok := c.Extract(path)
		if !ok {
			return match
		}
		return stringify(value)
	})
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		// json.Marshal renders numbers and bools without quotes, so
		// "{{count}}" expands to 3, not "3".
		s := string(b)
		return s
	}
}

// Extract resolves a dotted/indexed path such as "response1.body.user.id" or
// "items[0].name" against the context. The first path segment names a stored
// variable in Vars (chain responses are reachable only when stored under a
// variable, as the chain executor does with "chain"); remaining segments
// navigate object fields and [N] array indices.
func (c *Context) Extract(path string) (any, bool) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, false
	}

	root, ok := c.Vars[parts[0]]
	if !ok {
		return nil, false
	}

	return navigate(root, parts[1:])
}

// splitPath splits "a.b[0].c" into ["a", "b", "[0]", "c"].
func splitPath(path string) []string {
	var parts []string
	for _, dotPart := range strings.Split(path, ".") {
		rest := dotPart
		for {
			start := strings.IndexByte(rest, '[')
			if start < 0 {
				if rest != "" {
					parts = append(parts, rest)
				}
				break
			}
			if start > 0 {
				parts = append(parts, rest[:start])
			}
			end := strings.IndexByte(rest[start:], ']')
			if end < 0 {
				parts = append(parts, rest[start:])
				break
			}
			parts = append(parts, rest[start:start+end+1])
			rest = rest[start+end+1:]
			if rest == "" {
				break
			}
		}
	}
	return parts
}

func navigate(value any, path []string) (any, bool) {
	if len(path) == 0 {
		return value, true
	}

	seg := path[0]
	if strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]") {
		idx, err := strconv.Atoi(seg[1 : len(seg)-1])
		if err != nil {
			return nil, false
		}
		arr, ok := value.([]any)
		if !ok || idx < 0 || idx >= len(arr) {
			return nil, false
		}
		return navigate(arr[idx], path[1:])
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	next, ok := obj[seg]
	if !ok {
		return nil, false
	}
	return navigate(next, path[1:])
}

// Query runs a general JSONPath expression (as supported by ojg/jp) against
// an arbitrary decoded JSON value, used for extraction rules that need more
// than the dotted/indexed subset ExpandString/Extract support.
func Query(root any, expr string) ([]any, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, err
	}
	return x.Get(root), nil
}
