package form

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetValueScalars(t *testing.T) {
	fd := NewData()

	SetValue(fd, "f1", []string{"1", "2"})
	assert.Equal(t, []string{"1", "2"}, fd.GetAll("f1"))

	SetValue(fd, "f1", "1")
	assert.Equal(t, []string{"1"}, fd.GetAll("f1"))

	SetValue(fd, "field_empty", "")
	v, ok := fd.Get("field_empty")
	assert.True(t, ok)
	assert.Equal(t, "", v)

	SetValue(fd, "field_empty", nil)
	v, _ = fd.Get("field_empty")
	assert.Equal(t, "", v)

	assert.False(t, SetValue(fd, "", "ignored"))
}

func TestSetValueReportsChanges(t *testing.T) {
	fd := NewData()

	assert.True(t, SetValue(fd, "Name", "felix"))
	assert.False(t, SetValue(fd, "Name", "felix"))
	assert.True(t, SetValue(fd, "Name", "felix2"))

	assert.True(t, SetValue(fd, "Tags", []string{"a", "b"}))
	assert.False(t, SetValue(fd, "Tags", []string{"a", "b"}))
	assert.True(t, SetValue(fd, "Tags", []string{"b"}))

	assert.True(t, SetValue(fd, "Age", 30))
	assert.False(t, SetValue(fd, "Age", "30"))
}

func TestSetValueControls(t *testing.T) {
	tests := []struct {
		name        string
		seed        map[string]string
		control     Control
		wantChanged bool
		wantValue   string
		wantPresent bool
	}{
		{
			name:        "checked checkbox writes value",
			control:     Control{Kind: KindCheckbox, Value: "on", Checked: true},
			wantChanged: true, wantValue: "on", wantPresent: true,
		},
		{
			name:        "unchecked checkbox removes field",
			seed:        map[string]string{"agree": "on"},
			control:     Control{Kind: KindCheckbox, Value: "on"},
			wantChanged: true, wantPresent: false,
		},
		{
			name:        "unchecked checkbox on missing field is a no-op",
			control:     Control{Kind: KindCheckbox, Value: "on"},
			wantChanged: false, wantPresent: false,
		},
		{
			name:        "checked radio writes value",
			control:     Control{Kind: KindRadio, Value: "b", Checked: true},
			wantChanged: true, wantValue: "b", wantPresent: true,
		},
		{
			name:        "unchecked radio leaves field",
			seed:        map[string]string{"agree": "a"},
			control:     Control{Kind: KindRadio, Value: "b"},
			wantChanged: false, wantValue: "a", wantPresent: true,
		},
		{
			name:        "text writes value",
			control:     Control{Kind: KindText, Value: "hi"},
			wantChanged: true, wantValue: "hi", wantPresent: true,
		},
		{
			name:        "unchanged select is a no-op",
			seed:        map[string]string{"agree": "x"},
			control:     Control{Kind: KindSelect, Value: "x"},
			wantChanged: false, wantValue: "x", wantPresent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd := NewData()
			for k, v := range tt.seed {
				fd.Set(k, v)
			}

			changed := SetValue(fd, "agree", tt.control)

			assert.Equal(t, tt.wantChanged, changed)
			v, ok := fd.Get("agree")
			assert.Equal(t, tt.wantPresent, ok)
			if tt.wantPresent {
				assert.Equal(t, tt.wantValue, v)
			}
		})
	}
}

func TestSetValueFiles(t *testing.T) {
	fd := NewData()
	a := &File{Name: "a.txt", Content: []byte("a")}
	b := &File{Name: "b.txt", Content: []byte("b")}

	assert.True(t, SetValue(fd, "Photos", &Control{Kind: KindFile, Files: []*File{a, b}}))
	assert.Equal(t, []*File{a, b}, fd.Files("Photos"))
	assert.Equal(t, []string{"a.txt", "b.txt"}, fd.GetAll("Photos"))

	assert.True(t, SetValue(fd, "Photos", &Control{Kind: KindFile}))
	assert.False(t, fd.Has("Photos"))

	assert.True(t, SetValue(fd, "Avatar", a))
	assert.Equal(t, []*File{a}, fd.Files("Avatar"))
}

type address struct {
	City    string
	Country string
}

type employee struct {
	Name     string
	Position string
	secret   string
}

type profile struct {
	Name      string
	Age       int
	Hobbies   []string
	Address   address
	Employees []employee
	Photos    []*File
	Ignored   string `form:"-"`
	Joined    time.Time
}

func TestEncodeStruct(t *testing.T) {
	photo1 := &File{Name: "photo1.jpg", ContentType: "image/jpeg", Content: []byte("1")}
	photo2 := &File{Name: "photo2.jpg", ContentType: "image/jpeg", Content: []byte("2")}

	p := profile{
		Name:    "John Doe",
		Age:     30,
		Hobbies: []string{"coding", "reading"},
		Address: address{City: "New York", Country: "USA"},
		Employees: []employee{
			{Name: "Alice", Position: "Developer", secret: "x"},
			{Name: "Bob", Position: "Designer"},
		},
		Photos:  []*File{photo1, photo2},
		Ignored: "nope",
		Joined:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	fd := NewData()
	Encode(p, fd, "")

	get := func(name string) string {
		v, _ := fd.Get(name)
		return v
	}
	assert.Equal(t, "John Doe", get("Name"))
	assert.Equal(t, "30", get("Age"))
	assert.Equal(t, []string{"coding", "reading"}, fd.GetAll("Hobbies"))
	assert.Equal(t, "New York", get("Address.City"))
	assert.Equal(t, "USA", get("Address.Country"))
	assert.Equal(t, "Alice", get("Employees[0].Name"))
	assert.Equal(t, "Developer", get("Employees[0].Position"))
	assert.Equal(t, "Bob", get("Employees[1].Name"))
	assert.Equal(t, "Designer", get("Employees[1].Position"))
	assert.Equal(t, []*File{photo1, photo2}, fd.Files("Photos"))
	assert.Equal(t, "2024-01-02T03:04:05Z", get("Joined"))
	assert.False(t, fd.Has("Ignored"))
	assert.False(t, fd.Has("Employees[0].secret"))
}

func TestEncodeMap(t *testing.T) {
	obj := map[string]any{
		"Name":    "John Doe",
		"Age":     float64(30),
		"Hobbies": []any{"coding", "reading"},
		"Address": map[string]any{"City": "New York"},
		"Employees": []any{
			map[string]any{"Name": "Alice"},
		},
		"Twitter": nil,
		"Empty":   []any{},
	}

	fd := NewData()
	Encode(obj, fd, "")

	assert.Equal(t, []string{"30"}, fd.GetAll("Age"))
	assert.Equal(t, []string{"coding", "reading"}, fd.GetAll("Hobbies"))
	assert.Equal(t, []string{"New York"}, fd.GetAll("Address.City"))
	assert.Equal(t, []string{"Alice"}, fd.GetAll("Employees[0].Name"))
	assert.Equal(t, []string{""}, fd.GetAll("Twitter"))
	assert.False(t, fd.Has("Empty"))
}

func TestEncodeSliceShapes(t *testing.T) {
	tests := []struct {
		name  string
		value []any
		want  map[string][]string
	}{
		{
			name:  "nil before scalar",
			value: []any{nil, "x"},
			want:  map[string][]string{"Mixed": {"", "x"}},
		},
		{
			name:  "scalar before nil",
			value: []any{"x", nil, float64(2)},
			want:  map[string][]string{"Mixed": {"x", "", "2"}},
		},
		{
			name:  "scalar and object",
			value: []any{"x", map[string]any{"A": "1"}},
			want:  map[string][]string{"Mixed[0]": {"x"}, "Mixed[1].A": {"1"}},
		},
		{
			name:  "only nils",
			value: []any{nil},
			want:  map[string][]string{"Mixed[0]": {""}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd := NewData()
			Encode(map[string]any{"Mixed": tt.value}, fd, "")
			assert.Equal(t, tt.want, fd.Map())
		})
	}
}

type fakeState map[string]any

func (s fakeState) Snapshot() map[string]any { return s }

func TestEncodeSnapshotter(t *testing.T) {
	fd := NewData()
	Encode(map[string]any{"Inner": fakeState{"A": "1"}}, fd, "")

	v, ok := fd.Get("Inner.A")
	require.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestStringify(t *testing.T) {
	var nilPtr *int
	n := 5
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "1.5", Stringify(1.5))
	assert.Equal(t, "30", Stringify(float64(30)))
	assert.Equal(t, "7", Stringify(uint8(7)))
	assert.Equal(t, "", Stringify(nilPtr))
	assert.Equal(t, "5", Stringify(&n))
}
