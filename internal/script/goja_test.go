package script

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/form"
	"github.com/qor5/web/internal/scope"
)

func TestGoja_RunMutatesStateInPlace(t *testing.T) {
	runner := NewGoja(time.Second, nil)
	locals := scope.NewState(map[string]any{"count": 1})
	vars := scope.NewState()

	err := runner.Run(context.Background(), `
		locals.count = locals.count + 1;
		vars.dialog = {open: true};
		delete locals.missing;
	`, nil, Env{"locals": locals, "vars": vars})
	require.NoError(t, err)

	assert.EqualValues(t, 2, locals.Value("count"))
	assert.Equal(t, map[string]any{"open": true}, vars.Value("dialog"))
}

func TestGoja_NestedStateStaysLive(t *testing.T) {
	runner := NewGoja(time.Second, nil)
	inner := scope.NewState(map[string]any{"name": "a"})
	locals := scope.NewState(map[string]any{"inner": inner})

	require.NoError(t, runner.Run(context.Background(), `locals.inner.name = "b"`, nil, Env{"locals": locals}))
	assert.Equal(t, "b", inner.Value("name"))
}

func TestGoja_EvalReturnsGoValues(t *testing.T) {
	runner := NewGoja(time.Second, nil)
	locals := scope.NewState(map[string]any{"a": 2})

	tests := []struct {
		name string
		expr string
		want any
	}{
		{name: "number", expr: "locals.a * 3", want: int64(6)},
		{name: "string", expr: "'x' + locals.a;", want: "x2"},
		{name: "object", expr: "{a: 1}", want: map[string]any{"a": int64(1)}},
		{name: "array", expr: "[1, 'b']", want: []any{int64(1), "b"}},
		{name: "undefined", expr: "locals.missing", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runner.Eval(context.Background(), tt.expr, Env{"locals": locals})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGoja_EvalReturnsStateByIdentity(t *testing.T) {
	runner := NewGoja(time.Second, nil)
	locals := scope.NewState()

	got, err := runner.Eval(context.Background(), "locals", Env{"locals": locals})
	require.NoError(t, err)
	assert.Same(t, locals, got)
}

func TestGoja_FormObject(t *testing.T) {
	runner := NewGoja(time.Second, nil)
	fd := form.NewData()
	fd.Set("Name", "felix")

	got, err := runner.Eval(context.Background(), "form.Name", Env{"form": fd})
	require.NoError(t, err)
	assert.Equal(t, "felix", got)

	require.NoError(t, runner.Run(context.Background(), `form.Tags = ["a", "b"]; delete form.Name`, nil, Env{"form": fd}))
	assert.Equal(t, []string{"a", "b"}, fd.GetAll("Tags"))
	assert.False(t, fd.Has("Name"))
}

func TestGoja_ScriptErrors(t *testing.T) {
	runner := NewGoja(time.Second, nil)

	err := runner.Run(context.Background(), `throw new Error("nope")`, nil, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeScript, errors.TypeOf(err))

	err = runner.Run(context.Background(), `this is not js`, nil, nil)
	require.Error(t, err)

	err = runner.Run(context.Background(), `1`, nil, Env{"bad-name": 1})
	require.Error(t, err)
}

func TestGoja_Timeout(t *testing.T) {
	runner := NewGoja(20*time.Millisecond, nil)

	err := runner.Run(context.Background(), `for (;;) {}`, nil, nil)
	require.Error(t, err)

	var pe *errors.PlaidError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, errors.ErrCodeScriptTimeout, pe.Code)
}

func TestGoja_ContextCancel(t *testing.T) {
	runner := NewGoja(time.Minute, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := runner.Run(ctx, `for (;;) {}`, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type recorder struct {
	Calls   []string
	convert Converter
	fn      func(any) any
}

func (r *recorder) Record(name string) *recorder {
	r.Calls = append(r.Calls, name)
	return r
}

func (r *recorder) Submit() string { return "sent" }

func (r *recorder) BuildFetchURL() string { return "/x" }

func (r *recorder) Later(v any) *recorder {
	if fn, ok := r.convert(v); ok {
		r.fn = fn
	}
	return r
}

func (r *recorder) BindScript(convert Converter) any {
	r.convert = convert
	return r
}

func TestGoja_MethodNamesAndThis(t *testing.T) {
	runner := NewGoja(time.Second, nil)
	rec := &recorder{}

	got, err := runner.Eval(context.Background(), `r.record("a").record("b").go() + r.buildFetchURL()`, Env{"r": rec})
	require.NoError(t, err)
	assert.Equal(t, "sent/x", got)
	assert.Equal(t, []string{"a", "b"}, rec.Calls)

	require.NoError(t, runner.Run(context.Background(), `this.record("self")`, rec, nil))
	assert.Equal(t, []string{"a", "b", "self"}, rec.Calls)

	hidden, err := runner.Eval(context.Background(), `typeof r.bindScript`, Env{"r": rec})
	require.NoError(t, err)
	assert.Equal(t, "undefined", hidden)
}

func TestGoja_BinderConvertsFunctions(t *testing.T) {
	runner := NewGoja(time.Second, nil)
	rec := &recorder{}

	require.NoError(t, runner.Run(context.Background(), `r.later(function(arg) { return arg + 1 })`, nil, Env{"r": rec}))
	require.NotNil(t, rec.fn)
	assert.Equal(t, int64(42), rec.fn(41))

	_, ok := rec.convert("not a function")
	assert.False(t, ok)
}

func TestUncap(t *testing.T) {
	tests := map[string]string{
		"URL":          "url",
		"EventFunc":    "eventFunc",
		"PushStateURL": "pushStateURL",
		"":             "",
	}
	for in, want := range tests {
		assert.Equal(t, want, uncap(in), in)
	}
}

func TestEnv_With(t *testing.T) {
	base := Env{"a": 1, "b": 2}
	out := base.With(Env{"b": 3, "c": 4})

	assert.Equal(t, Env{"a": 1, "b": 3, "c": 4}, out)
	assert.Equal(t, []string{"a", "b", "c"}, out.Names())
	assert.Equal(t, 2, base["b"])
}
