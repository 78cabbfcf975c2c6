package distrepos

import (
	"regexp"
)

var placeholderPattern = regexp.MustCompile(
	`\$(?:(\$)|([_a-zA-Z][_a-zA-Z0-9]*)|\{([_a-zA-Z][_a-zA-Z0-9]*)\})`,
)

// ExpandTemplate substitutes `$NAME` and `${NAME}` placeholders with their values from vars, and
// `$$` with `$`. Placeholders which aren't in vars are left as they are.
func ExpandTemplate(s string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		if groups[1] != "" {
			return "$"
		}
		name := groups[2]
		if name == "" {
			name = groups[3]
		}
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}

// expandArch substitutes the architecture for `$ARCH` in the string.
func expandArch(s, arch string) string {
	return ExpandTemplate(s, map[string]string{"ARCH": arch})
}
