package query

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

func TestBuildGolden(t *testing.T) {
	cases := []struct {
		name    string
		eventID string
		base    string
		loc     *LocationSpec
	}{
		{"reload", "__reload__", "/orders?page=2#top", nil},
		{"filter", "search", "/orders?page=2&status=open", &LocationSpec{
			MergeQuery:          true,
			ClearMergeQueryKeys: []string{"page"},
			Query:               map[string]QueryValue{"keyword": Scalar("blue shoes")},
		}},
		{"select", "select", "/orders?ids=4", &LocationSpec{
			MergeQuery: true,
			Query:      map[string]QueryValue{"ids": Add("7", "4")},
		}},
		{"raw", "export", "/orders", &LocationSpec{
			Query:            map[string]QueryValue{"sort": Array("Name|ASC", "Age|DESC")},
			StringifyOptions: ptr(Raw()),
		}},
	}

	var buf bytes.Buffer
	for _, c := range cases {
		r := Build(c.eventID, c.base, c.loc)
		fmt.Fprintf(&buf, "%s\n  fetch:   %s\n  history: %s\n", c.name, r.FetchURL, r.HistoryURL)
	}

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "build_urls", buf.Bytes())
}
