package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestScorer(t *testing.T) {
	s := NewScorer(nil, 50, 500)

	cases := []struct {
		name   string
		target string
		body   string
		ua     string
		want   int
	}{
		{name: "clean", target: "/api/v1/tasks?status=open", body: `{"title":"Write report"}`, want: 0},
		{name: "traversal in query", target: "/files?name=../../etc/passwd", want: 2},
		{name: "script tag in body", target: "/api/v1/tasks", body: `{"title":"<script>alert(1)</script>"}`, want: 1},
		{name: "javascript uri", target: "/api/v1/tasks", body: `{"link":"javascript:void(0)"}`, want: 1},
		{name: "command chain", target: "/api/v1/tasks", body: `{"title":"x; cat /etc/hosts"}`, want: 1},
		{name: "scanner agent", target: "/", ua: "sqlmap/1.7", want: 1},
		{name: "long agent", target: "/", ua: strings.Repeat("a", 501), want: 1},
		{name: "non json body", target: "/", body: "drop table users", want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var req *http.Request
			if tc.body != "" {
				req = httptest.NewRequest(http.MethodPost, tc.target, strings.NewReader(tc.body))
			} else {
				req = httptest.NewRequest(http.MethodGet, tc.target, nil)
			}
			if tc.ua != "" {
				req.Header.Set("User-Agent", tc.ua)
			}
			got := s.Score(req, []byte(tc.body))
			if got.Total != tc.want {
				t.Fatalf("score = %d (%v), want %d", got.Total, got.Matches, tc.want)
			}
		})
	}
}

func TestDefaultRulesAreUniqueAndWeighted(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range DefaultRules() {
		if seen[r.ID] {
			t.Fatalf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if r.Weight < 1 || r.Pattern == nil || r.Category == "" {
			t.Fatalf("rule %q is incomplete", r.ID)
		}
	}
}
