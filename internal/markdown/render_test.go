package markdown

import (
	"strings"
	"testing"

	"github.com/jcdickinson/rsindex/internal/index"
)

func TestRenderImplementors(t *testing.T) {
	t.Parallel()
	got := RenderImplementors("core::ops::bit::BitAnd", []index.ModuleContribution{
		{Module: "style", Entries: index.Contribution{`<h3 class="impl">impl BitAnd for A</h3>`, "impl BitAnd for B"}},
		{Module: "bitflags", Entries: index.Contribution{}},
	})

	if !strings.HasPrefix(got, "---\nmodules: \"2\"\ntrait: \"core::ops::bit::BitAnd\"\n---\n\n") {
		t.Errorf("front matter missing or out of order:\n%s", got)
	}
	for _, want := range []string{
		"# Implementors of `core::ops::bit::BitAnd`",
		"## style\n\n- <h3 class=\"impl\">impl BitAnd for A</h3>\n- impl BitAnd for B\n",
		"## bitflags\n\n_No implementations._",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "## style") > strings.Index(got, "## bitflags") {
		t.Error("modules not in merge order")
	}
}

func TestRenderImplementors_Empty(t *testing.T) {
	t.Parallel()
	got := RenderImplementors("Send", nil)
	if !strings.Contains(got, "_No implementors registered._") {
		t.Errorf("got:\n%s", got)
	}
}

func TestRenderSidebar(t *testing.T) {
	t.Parallel()
	got := RenderSidebar("style::str", index.SidebarIndex{
		index.CategoryFunction: {{Name: "read_exponent", Description: "Reads an exponent"}, {Name: "char_is_whitespace"}},
		index.CategoryStruct:   {{Name: "CssStringWriter"}},
		"custom":               {{Name: "Odd"}},
		index.CategoryMacro:    {},
	})

	for _, want := range []string{
		"- **read_exponent**: Reads an exponent\n",
		"- **char_is_whitespace**\n",
		"items: \"4\"",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "## macro") {
		t.Error("empty category rendered")
	}
	structAt, fnAt, customAt := strings.Index(got, "## struct"), strings.Index(got, "## fn"), strings.Index(got, "## custom")
	if !(structAt < fnAt && fnAt < customAt) {
		t.Errorf("categories out of order (struct %d, fn %d, custom %d)", structAt, fnAt, customAt)
	}
}

func TestAddFrontMatter_Empty(t *testing.T) {
	t.Parallel()
	if got := AddFrontMatter("body", nil); got != "body" {
		t.Errorf("got %q", got)
	}
}

func TestStripFrontMatter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, in, want string
	}{
		{"with block", "---\na: \"1\"\n---\n\n# Title\n", "# Title\n"},
		{"no block", "# Title\n", "# Title\n"},
		{"unterminated", "---\na: 1\n", "---\na: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := StripFrontMatter(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToHTML(t *testing.T) {
	t.Parallel()
	got := ToHTML(RenderImplementors("Clone", []index.ModuleContribution{
		{Module: "style", Entries: index.Contribution{"impl Clone for Atom"}},
	}))
	if strings.Contains(got, "trait:") {
		t.Errorf("front matter leaked into HTML:\n%s", got)
	}
	for _, want := range []string{"<h1", "<h2", "<li>impl Clone for Atom</li>"} {
		if !strings.Contains(got, want) {
			t.Errorf("HTML missing %q:\n%s", want, got)
		}
	}
}
