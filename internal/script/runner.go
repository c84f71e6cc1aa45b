// Package script executes the snippets servers send in runScript and the
// handlers written in view attributes.
package script

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/qor5/web/internal/errors"
)

// Env maps binding names to values. Every name becomes a parameter of the
// executed snippet.
type Env map[string]any

// Names returns the binding names in sorted order.
func (e Env) Names() []string {
	names := make([]string, 0, len(e))
	for k := range e {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// With returns a copy of e extended with extra. extra wins on conflicts.
func (e Env) With(extra Env) Env {
	out := make(Env, len(e)+len(extra))
	for k, v := range e {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Runner executes code against an environment.
type Runner interface {
	// Run executes statements with this bound to the receiver.
	Run(ctx context.Context, code string, this any, env Env) error
	// Eval evaluates a single expression and returns its Go value.
	Eval(ctx context.Context, expr string, env Env) (any, error)
}

// Converter turns a script function value into a Go callable. ok is false
// for anything that is not a script function.
type Converter func(v any) (fn func(arg any) any, ok bool)

// Binder is implemented by values that accept script functions where Go
// code expects deferred values. Runners call BindScript on every binding
// and on the receiver before exposing them.
type Binder interface {
	BindScript(convert Converter) any
}

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

func validateEnv(env Env) error {
	for name := range env {
		if !identifier.MatchString(name) {
			return errors.NewScriptError(errors.ErrCodeScriptFailed, "invalid binding name", nil).
				WithContext("name", name)
		}
	}
	return nil
}

// trimExpr strips whitespace and trailing semicolons so an attribute value
// like "locals.open = true;" can be wrapped in a return statement.
func trimExpr(expr string) string {
	return strings.TrimRight(strings.TrimSpace(expr), "; \t\n")
}
