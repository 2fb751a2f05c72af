package scenario

import "strings"

// Render replaces {key} placeholders with their values. Braces that do not
// name a provided key are left alone, so templates may embed JSON samples.
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
