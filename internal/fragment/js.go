package fragment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/jcdickinson/rsindex/internal/index"
)

// implementorsStmt matches the left-hand side of `implementors["crate"] = `.
var implementorsStmt = regexp.MustCompile(`implementors\[\s*("(?:[^"\\]|\\.)*")\s*\]\s*=\s*`)

// sidebarMarkers introduce the sidebar object literal, oldest format first.
var sidebarMarkers = []string{"initSidebarItems(", "window.SIDEBAR_ITEMS =", "SIDEBAR_ITEMS="}

// ParseImplementors extracts every `implementors["crate"] = [...]` statement from
// a rustdoc implementors file, in file order. A file that declares no
// implementors yields an empty slice.
func ParseImplementors(r io.Reader) ([]index.ModuleContribution, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading implementors: %w", err)
	}
	src := string(data)

	out := []index.ModuleContribution{}
	for _, m := range implementorsStmt.FindAllStringSubmatchIndex(src, -1) {
		var module string
		if err := json.Unmarshal([]byte(src[m[2]:m[3]]), &module); err != nil {
			return nil, fmt.Errorf("decoding module key at offset %d: %w", m[2], err)
		}

		start := m[1]
		if start >= len(src) || src[start] != '[' {
			return nil, fmt.Errorf("implementors for %s: expected array at offset %d", module, start)
		}
		end, err := matchBracket(src, start)
		if err != nil {
			return nil, fmt.Errorf("implementors for %s: %w", module, err)
		}

		var entries []string
		if err := json.Unmarshal([]byte(stripTrailingCommas(src[start:end+1])), &entries); err != nil {
			return nil, fmt.Errorf("implementors for %s: %w", module, err)
		}
		out = append(out, index.ModuleContribution{Module: module, Entries: index.Contribution(entries).Clone()})
	}
	return out, nil
}

// ParseSidebar decodes a sidebar-items.js file. Items are either bare names or
// [name, description] pairs depending on the rustdoc version. An empty file
// yields an empty sidebar.
func ParseSidebar(r io.Reader) (index.SidebarIndex, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading sidebar items: %w", err)
	}
	src := string(bytes.TrimSpace(data))
	if src == "" {
		return index.SidebarIndex{}, nil
	}

	pos := -1
	for _, marker := range sidebarMarkers {
		if i := strings.Index(src, marker); i >= 0 {
			pos = i + len(marker)
			break
		}
	}
	if pos < 0 {
		return nil, fmt.Errorf("no sidebar items payload found")
	}
	open := strings.IndexByte(src[pos:], '{')
	if open < 0 {
		return nil, fmt.Errorf("sidebar items: expected object")
	}
	open += pos
	end, err := matchBracket(src, open)
	if err != nil {
		return nil, fmt.Errorf("sidebar items: %w", err)
	}

	var raw map[string][]json.RawMessage
	if err := json.Unmarshal([]byte(stripTrailingCommas(src[open:end+1])), &raw); err != nil {
		return nil, fmt.Errorf("decoding sidebar items: %w", err)
	}

	out := make(index.SidebarIndex, len(raw))
	for cat, items := range raw {
		entries := make([]index.SidebarEntry, 0, len(items))
		for _, item := range items {
			e, err := decodeSidebarEntry(item)
			if err != nil {
				return nil, fmt.Errorf("sidebar category %s: %w", cat, err)
			}
			entries = append(entries, e)
		}
		out[cat] = entries
	}
	return out, nil
}

func decodeSidebarEntry(raw json.RawMessage) (index.SidebarEntry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return index.SidebarEntry{}, fmt.Errorf("empty item")
	}
	switch trimmed[0] {
	case '"':
		var name string
		if err := json.Unmarshal(trimmed, &name); err != nil {
			return index.SidebarEntry{}, err
		}
		return index.SidebarEntry{Name: name}, nil
	case '[':
		var pair []string
		if err := json.Unmarshal(trimmed, &pair); err != nil {
			return index.SidebarEntry{}, err
		}
		if len(pair) == 0 {
			return index.SidebarEntry{}, fmt.Errorf("empty item pair")
		}
		e := index.SidebarEntry{Name: pair[0]}
		if len(pair) > 1 {
			e.Description = pair[1]
		}
		return e, nil
	}
	return index.SidebarEntry{}, fmt.Errorf("unexpected item %s", trimmed)
}

// matchBracket returns the index of the bracket closing the one at src[open],
// skipping over string literals.
func matchBracket(src string, open int) (int, error) {
	var stack []byte
	for i := open; i < len(src); i++ {
		switch c := src[i]; c {
		case '"', '\'':
			j, err := skipString(src, i)
			if err != nil {
				return 0, err
			}
			i = j
		case '[', '{':
			stack = append(stack, c)
		case ']', '}':
			if len(stack) == 0 {
				return 0, fmt.Errorf("unbalanced %q at offset %d", c, i)
			}
			want := byte('[')
			if c == '}' {
				want = '{'
			}
			if stack[len(stack)-1] != want {
				return 0, fmt.Errorf("mismatched %q at offset %d", c, i)
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unterminated literal starting at offset %d", open)
}

// skipString returns the index of the quote closing the literal at src[start].
func skipString(src string, start int) (int, error) {
	quote := src[start]
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case quote:
			return i, nil
		}
	}
	return 0, fmt.Errorf("unterminated string at offset %d", start)
}

// stripTrailingCommas drops commas directly followed by a closing bracket,
// which JavaScript allows and JSON does not.
func stripTrailingCommas(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == '"' {
			j, err := skipString(src, i)
			if err != nil {
				b.WriteString(src[i:])
				break
			}
			b.WriteString(src[i : j+1])
			i = j
			continue
		}
		if c == ',' {
			k := i + 1
			for k < len(src) && strings.IndexByte(" \t\r\n", src[k]) >= 0 {
				k++
			}
			if k < len(src) && (src[k] == ']' || src[k] == '}') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
