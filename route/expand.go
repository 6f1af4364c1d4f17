// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package route

import "regexp"

// placeholderPattern matches ${NAME} references. Only the braced form
// is recognized. Names must start with a letter or underscore and
// contain only letters, digits, and underscores.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Expand replaces ${NAME} references in input with values from
// secrets. A placeholder naming a secret absent from the map stays
// literally in place; this is what keeps one route's placeholders
// from ever resolving against another route's secrets.
func Expand(input string, secrets map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[2 : len(match)-1]
		if value, exists := secrets[name]; exists {
			return value
		}
		return match
	})
}

// envReference returns the referenced variable name when value is a
// whole-value ${NAME} reference, or "" for literals.
func envReference(value string) string {
	match := placeholderPattern.FindStringSubmatch(value)
	if match != nil && match[0] == value {
		return match[1]
	}
	return ""
}
