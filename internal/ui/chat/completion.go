// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sort"
	"strings"
)

// =============================================================================
// TAB COMPLETION
// =============================================================================

// complete expands the slash command or /join argument being typed. With
// several candidates the common prefix is inserted and the candidates are
// shown as a notice.
func (m *Model) complete() {
	value := m.input.Value()
	if !strings.HasPrefix(value, "/") {
		return
	}

	var prefix, word string
	var candidates []string
	if i := strings.LastIndex(value, " "); i >= 0 {
		cmd := strings.ToLower(strings.Fields(value)[0])
		if cmd != "/join" {
			return
		}
		prefix, word = value[:i+1], value[i+1:]
		candidates = m.channels
	} else {
		word = value
		for _, c := range Commands {
			candidates = append(candidates, c.Name)
		}
	}

	matches := matchPrefix(candidates, word)
	switch len(matches) {
	case 0:
		return
	case 1:
		m.input.SetValue(prefix + matches[0] + " ")
	default:
		m.input.SetValue(prefix + commonPrefix(matches))
		m.setNotice(strings.Join(matches, "  "), nil)
	}
	m.input.CursorEnd()
}

func matchPrefix(candidates []string, word string) []string {
	word = strings.ToLower(word)
	var out []string
	for _, c := range candidates {
		if strings.HasPrefix(strings.ToLower(c), word) {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func commonPrefix(words []string) string {
	if len(words) == 0 {
		return ""
	}
	prefix := words[0]
	for _, w := range words[1:] {
		for !strings.HasPrefix(w, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
