// Package template fills {name} placeholders in notification bodies.
package template

import "strings"

const (
	openDelim  = '{'
	closeDelim = '}'
)

// Render replaces every {name} placeholder that has an entry in vars with its
// value. Placeholders without an entry are copied verbatim. Substituted values
// are not scanned again, so the output depends only on body and vars.
func Render(body string, vars map[string]string) string {
	if len(vars) == 0 || !strings.ContainsRune(body, openDelim) {
		return body
	}

	var b strings.Builder
	b.Grow(len(body))

	for i := 0; i < len(body); {
		if body[i] != openDelim {
			b.WriteByte(body[i])
			i++
			continue
		}

		end := strings.IndexByte(body[i+1:], closeDelim)
		if end < 0 {
			b.WriteString(body[i:])
			break
		}

		name := body[i+1 : i+1+end]
		value, ok := lookup(vars, name)
		if !ok {
			b.WriteByte(body[i])
			i++
			continue
		}

		b.WriteString(value)
		i += end + 2
	}

	return b.String()
}

func lookup(vars map[string]string, name string) (string, bool) {
	if name == "" || strings.ContainsRune(name, openDelim) {
		return "", false
	}
	value, ok := vars[name]
	return value, ok
}

// Placeholders returns the distinct placeholder names in body, in order of
// first appearance.
func Placeholders(body string) []string {
	var names []string
	seen := make(map[string]struct{})

	for i := 0; i < len(body); i++ {
		if body[i] != openDelim {
			continue
		}
		end := strings.IndexByte(body[i+1:], closeDelim)
		if end < 0 {
			break
		}
		name := body[i+1 : i+1+end]
		if name == "" || strings.ContainsRune(name, openDelim) {
			continue
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			names = append(names, name)
		}
		i += end + 1
	}

	return names
}
