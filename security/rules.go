package security

import (
	"bytes"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
)

// RulesVersion identifies the built-in signature table. Bump it whenever
// [DefaultRules] changes.
const RulesVersion = "2026.03.1"

// Rule categories.
const (
	CategorySQLInjection     = "sql_injection"
	CategoryXSS              = "xss"
	CategoryPathTraversal    = "path_traversal"
	CategoryCommandInjection = "command_injection"
	CategoryHeaders          = "headers"
	CategoryUserAgent        = "user_agent"
)

// Rule is one signature matched against the serialised request.
type Rule struct {
	ID       string
	Category string
	Pattern  *regexp.Regexp
	Weight   int
}

// DefaultRules returns the built-in signature table.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "sqli-boolean", Category: CategorySQLInjection, Pattern: regexp.MustCompile(`(?i)(\bor\b|\band\b).*[=<>]`), Weight: 1},
		{ID: "sqli-union", Category: CategorySQLInjection, Pattern: regexp.MustCompile(`(?i)union.*select`), Weight: 1},
		{ID: "sqli-insert", Category: CategorySQLInjection, Pattern: regexp.MustCompile(`(?i)insert\s+into`), Weight: 1},
		{ID: "sqli-drop", Category: CategorySQLInjection, Pattern: regexp.MustCompile(`(?i)drop\s+table`), Weight: 1},
		{ID: "xss-script", Category: CategoryXSS, Pattern: regexp.MustCompile(`(?i)<script.*?>.*?</script>`), Weight: 1},
		{ID: "xss-js-uri", Category: CategoryXSS, Pattern: regexp.MustCompile(`(?i)javascript:`), Weight: 1},
		{ID: "xss-handler", Category: CategoryXSS, Pattern: regexp.MustCompile(`(?i)on\w+\s*=`), Weight: 1},
		{ID: "traversal", Category: CategoryPathTraversal, Pattern: regexp.MustCompile(`\.\.[/\\]`), Weight: 1},
		{ID: "traversal-deep", Category: CategoryPathTraversal, Pattern: regexp.MustCompile(`\.\.[/\\].*[/\\]`), Weight: 1},
		{ID: "cmd-semicolon", Category: CategoryCommandInjection, Pattern: regexp.MustCompile(`(?i);\s*(cat|ls|pwd|whoami|id|uname)`), Weight: 1},
		{ID: "cmd-pipe", Category: CategoryCommandInjection, Pattern: regexp.MustCompile(`(?i)\|\s*(cat|ls|pwd|whoami|id|uname)`), Weight: 1},
	}
}

var scannerAgents = regexp.MustCompile(`(?i)(?:curl|wget|python|nikto|sqlmap|nmap)`)

// Score is the outcome of scoring one request.
type Score struct {
	Total   int
	Matches []string
}

// Scorer matches requests against a rule table plus header-volume and
// user-agent heuristics.
type Scorer struct {
	rules        []Rule
	maxHeaders   int
	maxUserAgent int
}

// NewScorer returns a Scorer over rules. Nil rules means [DefaultRules].
func NewScorer(rules []Rule, maxHeaders, maxUserAgent int) *Scorer {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Scorer{rules: rules, maxHeaders: maxHeaders, maxUserAgent: maxUserAgent}
}

type scoredRequest struct {
	URL     string              `json:"url"`
	Query   map[string][]string `json:"query"`
	Body    any                 `json:"body"`
	Headers map[string]string   `json:"headers"`
}

// Score scores r with the already-read body.
func (s *Scorer) Score(r *http.Request, body []byte) Score {
	headers := make(map[string]string, len(r.Header)+1)
	for name, values := range r.Header {
		headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	if r.Host != "" {
		headers["host"] = r.Host
	}

	var parsed any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &parsed); err != nil {
			parsed = string(body)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(scoredRequest{
		URL:     r.URL.RequestURI(),
		Query:   r.URL.Query(),
		Body:    parsed,
		Headers: headers,
	})
	payload := buf.Bytes()

	var out Score
	for _, rule := range s.rules {
		if rule.Pattern.Match(payload) {
			out.Total += rule.Weight
			out.Matches = append(out.Matches, rule.ID)
		}
	}
	if len(headers) > s.maxHeaders {
		out.Total++
		out.Matches = append(out.Matches, "excessive_headers")
	}
	if ua := r.UserAgent(); len(ua) > s.maxUserAgent || scannerAgents.MatchString(ua) {
		out.Total++
		out.Matches = append(out.Matches, "suspicious_user_agent")
	}
	return out
}
