package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jcdickinson/rsindex/internal/index"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func docTree(t *testing.T) string {
	files := map[string]string{
		"implementors/core/ops/bit/trait.BitAnd.js": `(function() {var implementors = {};
implementors["bitflags"] = ["impl BitAnd for Flags",];
implementors["style"] = ["impl BitAnd for ElementDataFlags","impl BitAnd for RestyleHint",];
})()`,
		"implementors/core/clone/trait.Clone.js": `implementors["style"] = ["impl Clone for Atom"];`,
		"style/sidebar-items.js":                 `initSidebarItems({"mod":[["str","String utils"]]});`,
		"style/str/sidebar-items.js":             ``,
		"style/str/index.html":                   `<html></html>`,
		"search-index.js":                        `var searchIndex = {};`,
	}
	for i := range 20 {
		files[fmt.Sprintf("implementors/gen/trait.T%02d.js", i)] = fmt.Sprintf(`implementors["crate%02d"] = ["impl T%02d"];`, i, i)
	}
	return writeTree(t, files)
}

func TestFind(t *testing.T) {
	t.Parallel()
	root := docTree(t)
	rels, err := Find(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 24 {
		t.Errorf("found %d files, want 24: %v", len(rels), rels)
	}
	for _, rel := range rels {
		if strings.HasSuffix(rel, ".html") || strings.HasSuffix(rel, "search-index.js") {
			t.Errorf("non-fragment file found: %s", rel)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	root := docTree(t)
	ix := index.New(index.WithLogger(quiet()))

	var lines []string
	stats, err := Load(context.Background(), root, ix, Options{
		Concurrency: 4,
		Logger:      quiet(),
		Progress:    func(msg string) { lines = append(lines, msg) },
	})
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{Files: 24, Implementors: 22, Sidebars: 2}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("stats (-want +got):\n%s", diff)
	}
	if len(lines) != 25 {
		t.Errorf("got %d progress lines, want 25", len(lines))
	}

	if got := ix.State(); got != index.StateBuffering {
		t.Fatalf("state = %s, want buffering until activation", got)
	}
	ix.Activate()

	bitAnd := ix.Implementors("core::ops::bit::BitAnd")
	if len(bitAnd) != 2 {
		t.Fatalf("BitAnd implementors = %v", bitAnd)
	}
	for _, mc := range bitAnd {
		if mc.Module == "style" && len(mc.Entries) != 2 {
			t.Errorf("style entries = %v, want 2", mc.Entries)
		}
	}
	if got := ix.Sidebar("style"); len(got[index.CategoryModule]) != 1 {
		t.Errorf("style sidebar = %v", got)
	}
	if got := ix.Modules(); len(got) != 2 {
		t.Errorf("modules = %v, want style and style::str", got)
	}
	if got := len(ix.Traits()); got != 22 {
		t.Errorf("traits = %d, want 22", got)
	}
}

func TestLoad_SkipsBadFiles(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{
		"implementors/a/trait.Good.js": `implementors["x"] = ["ok"];`,
		"implementors/a/trait.Bad.js":  `implementors["x"] = ["broken`,
		"implementors/a/misc.js":       `implementors["x"] = ["wrong name"];`,
	})
	ix := index.New(index.WithLogger(quiet()))

	stats, err := Load(context.Background(), root, ix, Options{Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Implementors != 1 || stats.Skipped != 2 {
		t.Errorf("stats = %+v, want 1 registered and 2 skipped", stats)
	}

	ix.Activate()
	if got := ix.Traits(); !cmp.Equal(got, []string{"a::Good"}) {
		t.Errorf("traits = %v", got)
	}
}

func TestLoad_Strict(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{
		"implementors/a/trait.Bad.js": `implementors["x"] = 12;`,
	})
	ix := index.New(index.WithLogger(quiet()))

	_, err := Load(context.Background(), root, ix, Options{Strict: true, Logger: quiet()})
	if err == nil || !strings.Contains(err.Error(), "trait.Bad.js") {
		t.Errorf("err = %v, want error naming the bad file", err)
	}
}

func TestLoad_Cancelled(t *testing.T) {
	t.Parallel()
	root := docTree(t)
	ix := index.New(index.WithLogger(quiet()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx, root, ix, Options{Logger: quiet()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestLoad_MissingRoot(t *testing.T) {
	t.Parallel()
	ix := index.New(index.WithLogger(quiet()))
	if _, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope"), ix, Options{}); err == nil {
		t.Error("expected error for missing root")
	}
}
