package gmail

import "github.com/microcosm-cc/bluemonday"

var strict = bluemonday.StrictPolicy()

func stripHTML(s string) string {
	if s == "" {
		return ""
	}
	return strict.Sanitize(s)
}
