package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryValueJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want QueryValue
	}{
		{"null", `null`, Unset()},
		{"string", `"felix"`, Scalar("felix")},
		{"number", `10`, Scalar("10")},
		{"bool", `true`, Scalar("true")},
		{"array", `["1","2"]`, Array("1", "2")},
		{"server op", `{"values":["5"],"add":true}`, Add("5")},
		{"client op", `{"value":"5","remove":true}`, Remove("5")},
		{"op with array value", `{"value":["1","2"],"add":true}`, Add("1", "2")},
		{"empty op value", `{"value":"","add":true}`, QueryValue{kind: kindOp, add: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got QueryValue
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryValueMarshal(t *testing.T) {
	data, err := json.Marshal(map[string]QueryValue{
		"a": Scalar("1"),
		"b": Array("1", "2"),
		"c": Add("3"),
		"d": Unset(),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"1","b":["1","2"],"c":{"values":["3"],"add":true},"d":null}`, string(data))
}

func TestValueFromRejectsObjects(t *testing.T) {
	_, err := ValueFrom(struct{ A int }{1})
	assert.Error(t, err)

	v, err := ValueFrom([]int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, Array("1", "2"), v)

	v, err = ValueFrom(int64(7))
	require.NoError(t, err)
	assert.Equal(t, Scalar("7"), v)
}

func TestLocationFrom(t *testing.T) {
	loc, err := LocationFrom(map[string]any{
		"url":        "/page2?name=1,2,3",
		"mergeQuery": true,
		"query": map[string]any{
			"name": map[string]any{"value": []any{"1", "2"}, "remove": true},
			"tab":  "a",
		},
		"clearMergeQueryKeys": []any{"x"},
		"stringifyOptions":    map[string]any{"encode": false},
	})
	require.NoError(t, err)

	assert.Equal(t, "/page2?name=1,2,3", loc.URL)
	assert.True(t, loc.MergeQuery)
	assert.Equal(t, Remove("1", "2"), loc.Query["name"])
	assert.Equal(t, Scalar("a"), loc.Query["tab"])
	assert.Equal(t, []string{"x"}, loc.ClearMergeQueryKeys)
	require.NotNil(t, loc.StringifyOptions)
	assert.False(t, loc.StringifyOptions.encode())

	got := Build("e", "/ignored", loc)
	assert.Equal(t, "/page2?name=3&tab=a", got.HistoryURL)
}

func TestLocationFromJSONText(t *testing.T) {
	loc, err := LocationFrom(`{"url":"/a","query":{"k":["v"]}}`)
	require.NoError(t, err)
	assert.Equal(t, Array("v"), loc.Query["k"])

	_, err = LocationFrom(`{"url":`)
	assert.Error(t, err)

	loc, err = LocationFrom(nil)
	assert.NoError(t, err)
	assert.Nil(t, loc)
}
