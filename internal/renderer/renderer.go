// Package renderer performs template variable substitution for
// notification content. Rendering is pure and stateless.
package renderer

import (
	"regexp"
	"strings"
)

// placeholderRe matches {{name}} placeholders, tolerating inner whitespace.
var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Content is a rendered subject/body pair.
type Content struct {
	Subject string
	Body    string
}

// Render substitutes {{key}} placeholders in subject and body with values
// from variables. Substitution is case-sensitive and global per key; values
// are inserted verbatim with no escaping. Placeholders with no matching
// variable are left untouched, and values containing {{...}} are not
// re-processed.
func Render(subject, body string, variables map[string]string) Content {
	return Content{
		Subject: substitute(subject, variables),
		Body:    substitute(body, variables),
	}
}

func substitute(template string, variables map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if value, ok := variables[name]; ok {
			return value
		}
		return match
	})
}

// Variables returns the unique placeholder names appearing in template, in
// order of first appearance.
func Variables(template string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Missing returns the placeholder names required by the templates but not
// present in variables.
func Missing(templates []string, variables map[string]string) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, tpl := range templates {
		for _, name := range Variables(tpl) {
			if _, ok := variables[name]; !ok && !seen[name] {
				seen[name] = true
				missing = append(missing, name)
			}
		}
	}
	return missing
}

// Unused returns the variable keys that no template references. These are
// tolerated but logged for visibility.
func Unused(templates []string, variables map[string]string) []string {
	required := make(map[string]bool)
	for _, tpl := range templates {
		for _, name := range Variables(tpl) {
			required[name] = true
		}
	}
	var unused []string
	for key := range variables {
		if !required[key] {
			unused = append(unused, key)
		}
	}
	return unused
}

// HasPlaceholders reports whether s still contains any {{key}} token.
func HasPlaceholders(s string) bool {
	return strings.Contains(s, "{{") && placeholderRe.MatchString(s)
}
