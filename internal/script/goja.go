package script

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/dop251/goja"

	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/form"
	"github.com/qor5/web/internal/logging"
	"github.com/qor5/web/internal/scope"
)

// DefaultTimeout bounds a single Run or Eval.
const DefaultTimeout = 5 * time.Second

// Goja runs scripts in a fresh goja runtime per call. The runtime has no
// access to the host beyond the bindings it is given and a console that
// writes to the logger.
type Goja struct {
	timeout time.Duration
	logger  logging.Logger
}

// NewGoja creates a runner. A non-positive timeout uses DefaultTimeout.
func NewGoja(timeout time.Duration, logger logging.Logger) *Goja {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Goja{timeout: timeout, logger: logger.WithComponent("script")}
}

func (g *Goja) Run(ctx context.Context, code string, this any, env Env) error {
	_, err := g.call(ctx, code, this, env)
	return err
}

func (g *Goja) Eval(ctx context.Context, expr string, env Env) (any, error) {
	return g.call(ctx, "return ("+trimExpr(expr)+");", nil, env)
}

func (g *Goja) call(ctx context.Context, body string, this any, env Env) (result any, err error) {
	if err := validateEnv(env); err != nil {
		return nil, err
	}

	vm := goja.New()
	vm.SetFieldNameMapper(fieldNameMapper{})
	b := &bridge{vm: vm}
	g.installConsole(ctx, vm)

	timer := time.AfterFunc(g.timeout, func() { vm.Interrupt(errTimeout) })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	names := env.Names()
	src := "(function(" + strings.Join(names, ", ") + ") {\n" + body + "\n})"
	compiled, err := vm.RunString(src)
	if err != nil {
		return nil, g.wrap(err)
	}
	fn, ok := goja.AssertFunction(compiled)
	if !ok {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "compiled script is not callable", nil)
	}

	args := make([]goja.Value, len(names))
	for i, name := range names {
		args[i] = b.toValue(b.bind(env[name]))
	}
	thisValue := goja.Undefined()
	if this != nil {
		thisValue = b.toValue(b.bind(this))
	}

	res, err := fn(thisValue, args...)
	vm.ClearInterrupt()
	if err != nil {
		return nil, g.wrap(err)
	}
	return exportValue(res), nil
}

type timeoutSignal struct{}

func (timeoutSignal) String() string { return "script timeout" }

var errTimeout = timeoutSignal{}

func (g *Goja) wrap(err error) error {
	if ie, ok := err.(*goja.InterruptedError); ok {
		if _, timeout := ie.Value().(timeoutSignal); timeout {
			return errors.NewScriptError(errors.ErrCodeScriptTimeout,
				fmt.Sprintf("script exceeded %s", g.timeout), err)
		}
		if cause, isErr := ie.Value().(error); isErr {
			return errors.NewScriptError(errors.ErrCodeScriptFailed, "script interrupted", cause)
		}
	}
	return errors.NewScriptError(errors.ErrCodeScriptFailed, "script failed", err)
}

func (g *Goja) installConsole(ctx context.Context, vm *goja.Runtime) {
	log := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		g.logger.Debug(ctx, "console", "message", strings.Join(parts, " "))
		return goja.Undefined()
	}
	console := vm.NewObject()
	_ = console.Set("log", log)
	_ = console.Set("warn", log)
	_ = console.Set("error", log)
	_ = vm.Set("console", console)
}

// bridge converts between Go values and values of one runtime.
type bridge struct {
	vm *goja.Runtime
}

func (b *bridge) bind(v any) any {
	if binder, ok := v.(Binder); ok {
		return binder.BindScript(b.convert)
	}
	return v
}

// convert wraps a script function so Go code can call it with one
// argument. A throw inside the function yields nil.
func (b *bridge) convert(v any) (func(any) any, bool) {
	fn, ok := v.(func(goja.FunctionCall) goja.Value)
	if !ok {
		return nil, false
	}
	return func(arg any) (out any) {
		defer func() {
			if r := recover(); r != nil {
				if _, isException := r.(*goja.Exception); !isException {
					panic(r)
				}
				out = nil
			}
		}()
		res := fn(goja.FunctionCall{This: goja.Undefined(), Arguments: []goja.Value{b.toValue(b.bind(arg))}})
		return exportValue(res)
	}, true
}

func (b *bridge) toValue(v any) goja.Value {
	switch x := v.(type) {
	case nil:
		return goja.Null()
	case goja.Value:
		return x
	case *scope.State:
		if x == nil {
			return goja.Null()
		}
		return b.vm.NewDynamicObject(&stateObject{bridge: b, state: x})
	case *form.Data:
		if x == nil {
			return goja.Null()
		}
		return b.vm.NewDynamicObject(&formObject{bridge: b, data: x})
	}
	return b.vm.ToValue(v)
}

// exportValue converts a script value to Go. Proxies of reactive objects
// come back as the *scope.State or *form.Data they wrap.
func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return unwrap(v.Export())
}

func unwrap(v any) any {
	switch x := v.(type) {
	case *stateObject:
		return x.state
	case *formObject:
		return x.data
	case []any:
		for i := range x {
			x[i] = unwrap(x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = unwrap(x[k])
		}
	}
	return v
}

// stateObject exposes a *scope.State as a live script object: property
// writes go straight to the state and notify its watchers.
type stateObject struct {
	bridge *bridge
	state  *scope.State
}

func (o *stateObject) StateRef() *scope.State { return o.state }

func (o *stateObject) Snapshot() map[string]any { return o.state.Snapshot() }

func (o *stateObject) Get(key string) goja.Value {
	v, ok := o.state.Get(key)
	if !ok {
		return nil
	}
	return o.bridge.toValue(v)
}

func (o *stateObject) Set(key string, val goja.Value) bool {
	o.state.Set(key, exportValue(val))
	return true
}

func (o *stateObject) Has(key string) bool { return o.state.Has(key) }

func (o *stateObject) Delete(key string) bool {
	o.state.Delete(key)
	return true
}

func (o *stateObject) Keys() []string { return o.state.Keys() }

// formObject exposes a form as a script object whose properties are field
// values. Writes go through the form encoder.
type formObject struct {
	bridge *bridge
	data   *form.Data
}

func (o *formObject) Get(key string) goja.Value {
	values := o.data.GetAll(key)
	switch len(values) {
	case 0:
		return nil
	case 1:
		return o.bridge.vm.ToValue(values[0])
	default:
		return o.bridge.vm.ToValue(values)
	}
}

func (o *formObject) Set(key string, val goja.Value) bool {
	form.SetValue(o.data, key, exportValue(val))
	return true
}

func (o *formObject) Has(key string) bool { return o.data.Has(key) }

func (o *formObject) Delete(key string) bool {
	o.data.Delete(key)
	return true
}

func (o *formObject) Keys() []string { return o.data.Names() }

// fieldNameMapper lower-cases the first letter of Go names and exposes
// Submit as go, the name scripts use to send a request. Methods that need a
// Go caller are hidden.
type fieldNameMapper struct{}

func (fieldNameMapper) FieldName(_ reflect.Type, f reflect.StructField) string {
	return uncap(f.Name)
}

func (fieldNameMapper) MethodName(_ reflect.Type, m reflect.Method) string {
	switch m.Name {
	case "Submit":
		return "go"
	case "Go", "OnPopState", "LoadPortal", "BindScript":
		return ""
	}
	return uncap(m.Name)
}

// uncap lower-cases the first letter, or the whole name when it is an
// initialism such as URL.
func uncap(s string) string {
	if s == "" {
		return s
	}
	if strings.ToUpper(s) == s {
		return strings.ToLower(s)
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
