package reasoning

import (
	"strings"

	"github.com/tidwall/gjson"
)

// DecisionJSON pulls a JSON object out of loosely formatted model text.
// Models wrap decisions in markdown fences or lead with prose more often than
// not; this strips anything outside the outermost object before parsing.
func DecisionJSON(text string) (gjson.Result, bool) {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return gjson.Result{}, false
	}
	s = s[start : end+1]

	if !gjson.Valid(s) {
		return gjson.Result{}, false
	}
	return gjson.Parse(s), true
}
