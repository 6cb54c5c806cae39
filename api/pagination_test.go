package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", defaultPageLimit, 0},
		{"custom limit", "limit=50", 50, 0},
		{"custom offset", "offset=10", defaultPageLimit, 10},
		{"both", "limit=25&offset=5", 25, 5},
		{"limit exceeds max", "limit=5000", maxPageLimit, 0},
		{"limit at max", "limit=500", maxPageLimit, 0},
		{"negative limit uses default", "limit=-1", defaultPageLimit, 0},
		{"negative offset uses zero", "offset=-5", defaultPageLimit, 0},
		{"non-numeric limit", "limit=abc", defaultPageLimit, 0},
		{"non-numeric offset", "offset=xyz", defaultPageLimit, 0},
		{"zero limit uses default", "limit=0", defaultPageLimit, 0},
		{"limit one", "limit=1", 1, 0},
		{"large offset", "offset=999999", defaultPageLimit, 999999},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/test"
			if tt.query != "" {
				url += "?" + tt.query
			}
			r := httptest.NewRequest("GET", url, nil)
			limit, offset := parsePagination(r)
			assert.Equal(t, tt.wantLimit, limit, "limit")
			assert.Equal(t, tt.wantOffset, offset, "offset")
		})
	}
}

func TestPaginate(t *testing.T) {
	items := func(n int) []int {
		s := make([]int, n)
		for i := range s {
			s[i] = i
		}
		return s
	}

	tests := []struct {
		name     string
		total    int
		limit    int
		offset   int
		want     []int
		wantMore bool
	}{
		{"first page", 50, 10, 0, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, true},
		{"last page partial", 25, 10, 20, []int{20, 21, 22, 23, 24}, false},
		{"offset beyond total", 5, 10, 100, []int{}, false},
		{"exact fit", 3, 3, 0, []int{0, 1, 2}, false},
		{"empty collection", 0, 10, 0, []int{}, false},
		{"offset at boundary", 4, 2, 2, []int{2, 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, meta := paginate(items(tt.total), tt.limit, tt.offset)
			assert.Equal(t, tt.want, page)
			assert.Equal(t, tt.total, meta.TotalCount)
			assert.Equal(t, tt.limit, meta.Limit)
			assert.Equal(t, tt.offset, meta.Offset)
			assert.Equal(t, tt.wantMore, meta.HasMore)
		})
	}
}

func TestPaginate_DoesNotAlias(t *testing.T) {
	src := []string{"a", "b", "c"}
	page, _ := paginate(src, 2, 0)
	page[0] = "z"
	assert.Equal(t, "a", src[0])
}
