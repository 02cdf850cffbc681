package convert

import "strings"

// modelGlob is evaluated in order; the first match wins. Mirrors the glob
// rules Kiro's own frontends apply when a client requests a model alias
// that Kiro itself does not serve directly.
type modelGlob struct {
	contains string
	target   string
}

var modelGlobs = []modelGlob{
	{contains: "sonnet", target: "claude-sonnet-4.5"},
	{contains: "opus", target: "claude-opus-4.5"},
	{contains: "haiku", target: "claude-haiku-4.5"},
}

// MapModel rewrites a client-supplied model name to the Kiro-side model id
// via glob rules. Names matching none of the globs pass through unchanged.
func MapModel(name string) string {
	lower := strings.ToLower(name)
	for _, g := range modelGlobs {
		if strings.Contains(lower, g.contains) {
			return g.target
		}
	}
	return name
}
