package fragment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jcdickinson/rsindex/internal/index"
	"github.com/klauspost/compress/zstd"
)

type call struct {
	trait, module string
	entries       index.Contribution
	sidebar       index.SidebarIndex
}

type recorder struct {
	calls []call
}

func (r *recorder) RegisterImplementors(trait, module string, c index.Contribution) {
	r.calls = append(r.calls, call{trait: trait, module: module, entries: c})
}

func (r *recorder) RegisterSidebar(module string, s index.SidebarIndex) {
	r.calls = append(r.calls, call{module: module, sidebar: s})
}

func TestRegisterTo_Implementors(t *testing.T) {
	t.Parallel()
	f := Fragment{
		Kind:  KindImplementors,
		Trait: "core::ops::bit::BitAnd",
		Modules: []index.ModuleContribution{
			{Module: "b", Entries: index.Contribution{"2"}},
			{Module: "a", Entries: index.Contribution{"1"}},
		},
	}
	var r recorder
	if err := f.RegisterTo(&r); err != nil {
		t.Fatal(err)
	}
	want := []call{
		{trait: "core::ops::bit::BitAnd", module: "b", entries: index.Contribution{"2"}},
		{trait: "core::ops::bit::BitAnd", module: "a", entries: index.Contribution{"1"}},
	}
	if diff := cmp.Diff(want, r.calls, cmp.AllowUnexported(call{})); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestRegisterTo_SidebarWithoutItems(t *testing.T) {
	t.Parallel()
	var r recorder
	if err := (Fragment{Kind: KindSidebar, Module: "m"}).RegisterTo(&r); err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != 1 || r.calls[0].sidebar == nil {
		t.Errorf("calls = %+v, want one non-nil sidebar", r.calls)
	}
}

func TestRegisterTo_Invalid(t *testing.T) {
	t.Parallel()
	for _, f := range []Fragment{
		{},
		{Kind: "other"},
		{Kind: KindImplementors},
		{Kind: KindImplementors, Trait: "T", Modules: []index.ModuleContribution{{}}},
		{Kind: KindSidebar},
	} {
		var r recorder
		if err := f.RegisterTo(&r); err == nil {
			t.Errorf("%+v: expected error", f)
		}
		if len(r.calls) != 0 {
			t.Errorf("%+v: invalid fragment registered %v", f, r.calls)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	src := `{"kind":"implementors","trait":"Clone","modules":[{"module":"a","entries":["x","y"]}]}`
	f, err := DecodeJSON(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	want := Fragment{
		Kind:    KindImplementors,
		Trait:   "Clone",
		Modules: []index.ModuleContribution{{Module: "a", Entries: index.Contribution{"x", "y"}}},
	}
	if diff := cmp.Diff(want, f); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	if _, err := DecodeJSON(strings.NewReader(`{"kind":"sidebar","module":"m","bogus":1}`)); err == nil {
		t.Error("expected error for unknown field")
	}
	if _, err := DecodeJSON(strings.NewReader(`{"kind":"sidebar"}`)); err == nil {
		t.Error("expected validation error")
	}
}

func TestParseFile(t *testing.T) {
	t.Parallel()

	f, err := ParseFile("testdata", "implementors/core/ops/bit/trait.BitAnd.js")
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != KindImplementors || f.Trait != "core::ops::bit::BitAnd" || len(f.Modules) != 3 {
		t.Errorf("got kind=%s trait=%s modules=%d", f.Kind, f.Trait, len(f.Modules))
	}

	f, err = ParseFile("testdata", filepath.Join("style", "str", "sidebar-items.js"))
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != KindSidebar || f.Module != "style::str" || f.Items.Len() != 4 {
		t.Errorf("got kind=%s module=%s items=%d", f.Kind, f.Module, f.Items.Len())
	}

	if _, err := ParseFile("testdata", "README.md"); err == nil {
		t.Error("expected error for non-fragment file")
	}
}

func TestParseFile_Zstd(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	rel := filepath.Join("implementors", "core", "clone", "trait.Clone.js.zst")
	if err := os.MkdirAll(filepath.Join(root, filepath.Dir(rel)), 0755); err != nil {
		t.Fatal(err)
	}

	out, err := os.Create(filepath.Join(root, rel))
	if err != nil {
		t.Fatal(err)
	}
	w, err := zstd.NewWriter(out)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(`implementors["mycrate"] = ["impl Clone for Foo",];`)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	out.Close()

	f, err := ParseFile(root, rel)
	if err != nil {
		t.Fatal(err)
	}
	want := Fragment{
		Kind:    KindImplementors,
		Trait:   "core::clone::Clone",
		Modules: []index.ModuleContribution{{Module: "mycrate", Entries: index.Contribution{"impl Clone for Foo"}}},
	}
	if diff := cmp.Diff(want, f); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
