package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholder matches ${name}; name is an identifier.
var placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// MissingAction specifies how an undefined placeholder is rendered.
type MissingAction int

const (
	// MissingKeep leaves the placeholder in the output. This is the default.
	MissingKeep MissingAction = iota

	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty

	// MissingError fails the expansion with an UndefinedVariableError.
	MissingError
)

// Option configures an Expander.
type Option func(*Expander)

// WithMissingAction sets how undefined placeholders are handled.
func WithMissingAction(action MissingAction) Option {
	return func(e *Expander) {
		e.missing = action
	}
}

// WithLookup consults fn for names that are not in the vars map.
func WithLookup(fn func(name string) (string, bool)) Option {
	return func(e *Expander) {
		e.lookup = fn
	}
}

// Expander renders ${name} placeholders.
// It is safe for concurrent use after construction.
type Expander struct {
	missing MissingAction
	lookup  func(string) (string, bool)
}

// NewExpander creates an Expander. By default undefined placeholders are
// kept as-is and no lookup function is consulted.
func NewExpander(opts ...Option) *Expander {
	e := &Expander{missing: MissingKeep}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand renders s. An error is returned only with MissingError.
func (e *Expander) Expand(s string, vars map[string]string) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	var undefined []string
	out := placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := e.resolve(name, vars); ok {
			return v
		}
		switch e.missing {
		case MissingEmpty:
			return ""
		case MissingError:
			undefined = append(undefined, name)
		}
		return match
	})

	if len(undefined) > 0 {
		return out, &UndefinedVariableError{Names: undefined}
	}
	return out, nil
}

func (e *Expander) resolve(name string, vars map[string]string) (string, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	if e.lookup != nil {
		return e.lookup(name)
	}
	return "", false
}

// MustExpand is Expand that panics on error.
func (e *Expander) MustExpand(s string, vars map[string]string) string {
	out, err := e.Expand(s, vars)
	if err != nil {
		panic(fmt.Sprintf("template: %v", err))
	}
	return out
}

// ExpandAll renders every string of ss. A nil slice stays nil.
func (e *Expander) ExpandAll(ss []string, vars map[string]string) ([]string, error) {
	if ss == nil {
		return nil, nil
	}
	out := make([]string, len(ss))
	for i, s := range ss {
		expanded, err := e.Expand(s, vars)
		if err != nil {
			return nil, err
		}
		out[i] = expanded
	}
	return out, nil
}

// ExpandMap renders every value of m. Keys are not expanded.
func (e *Expander) ExpandMap(m map[string]string, vars map[string]string) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		expanded, err := e.Expand(v, vars)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = expanded
	}
	return out, nil
}

// Placeholders returns the distinct placeholder names in s, sorted.
func Placeholders(s string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	sort.Strings(names)
	return names
}

// UndefinedVariableError lists placeholders that had no value.
type UndefinedVariableError struct {
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

var defaultExpander = NewExpander()

// Expand renders s with the default expander, keeping undefined
// placeholders.
func Expand(s string, vars map[string]string) string {
	out, _ := defaultExpander.Expand(s, vars)
	return out
}
