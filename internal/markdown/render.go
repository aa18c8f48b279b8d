// Package markdown turns index listings into markdown for the CLI and MCP
// front ends. Entries are opaque rustdoc HTML and are emitted verbatim.
package markdown

import (
	"fmt"
	"sort"
	"strings"

	gm "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	gmparser "github.com/gomarkdown/markdown/parser"
	"github.com/jcdickinson/rsindex/internal/index"
)

// RenderImplementors lists a trait's implementors, one section per module in
// merge order.
func RenderImplementors(trait string, modules []index.ModuleContribution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Implementors of `%s`\n\n", trait)
	if len(modules) == 0 {
		b.WriteString("_No implementors registered._\n")
	}
	for _, mc := range modules {
		fmt.Fprintf(&b, "## %s\n\n", mc.Module)
		if len(mc.Entries) == 0 {
			b.WriteString("_No implementations._\n\n")
			continue
		}
		for _, entry := range mc.Entries {
			fmt.Fprintf(&b, "- %s\n", entry)
		}
		b.WriteString("\n")
	}
	return AddFrontMatter(b.String(), map[string]string{
		"trait":   trait,
		"modules": fmt.Sprint(len(modules)),
	})
}

// RenderSidebar lists a module's items by category.
func RenderSidebar(module string, s index.SidebarIndex) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# `%s`\n\n", module)
	if s.Len() == 0 {
		b.WriteString("_No items registered._\n")
	}
	for _, cat := range s.Categories() {
		entries := s[cat]
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", cat)
		for _, e := range entries {
			if e.Description != "" {
				fmt.Fprintf(&b, "- **%s**: %s\n", e.Name, e.Description)
			} else {
				fmt.Fprintf(&b, "- **%s**\n", e.Name)
			}
		}
		b.WriteString("\n")
	}
	return AddFrontMatter(b.String(), map[string]string{
		"module": module,
		"items":  fmt.Sprint(s.Len()),
	})
}

// AddFrontMatter prepends a YAML front-matter block with the given fields,
// sorted by key.
func AddFrontMatter(src string, fields map[string]string) string {
	if len(fields) == 0 {
		return src
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("---\n")
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("%s: %q\n", k, fields[k]))
	}
	b.WriteString("---\n\n")
	b.WriteString(src)
	return b.String()
}

// StripFrontMatter removes a leading front-matter block, if any.
func StripFrontMatter(src string) string {
	if !strings.HasPrefix(src, "---\n") {
		return src
	}
	end := strings.Index(src[4:], "\n---\n")
	if end < 0 {
		return src
	}
	return strings.TrimLeft(src[4+end+5:], "\n")
}

// ToHTML renders markdown produced by this package as an HTML fragment.
func ToHTML(src string) string {
	p := gmparser.NewWithExtensions(gmparser.CommonExtensions | gmparser.Autolink)
	r := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	return string(gm.ToHTML([]byte(StripFrontMatter(src)), p, r))
}
