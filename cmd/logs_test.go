package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLastLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "daemon.log")
	content := strings.Join([]string{
		`level=INFO msg="index activated"`,
		`level=ERROR msg="conflicting registration rejected" trait=Send module=a`,
		`level=INFO msg=loaded`,
		`level=ERROR msg="conflicting registration rejected" trait=Sync module=b`,
		`level=INFO msg="index saved"`,
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	all := func(string) bool { return true }
	got, err := lastLines(path, 2, all)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{`level=ERROR msg="conflicting registration rejected" trait=Sync module=b`, `level=INFO msg="index saved"`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("last 2 (-want +got):\n%s", diff)
	}

	conflicts, err := lastLines(path, 50, func(l string) bool { return strings.Contains(l, "conflicting") })
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 2 || !strings.Contains(conflicts[0], "trait=Send") {
		t.Errorf("conflicts = %v", conflicts)
	}
}

func TestCopyLines_FiltersConflicts(t *testing.T) {
	t.Parallel()
	in := strings.NewReader(strings.Join([]string{
		`level=INFO msg=loaded`,
		`level=ERROR msg="conflicting registration rejected" trait=Send module=a`,
		`level=INFO msg="index saved"`,
	}, "\n"))
	var out bytes.Buffer
	if err := copyLines(in, &out, isConflictLine); err != nil {
		t.Fatal(err)
	}
	want := `level=ERROR msg="conflicting registration rejected" trait=Send module=a` + "\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("followed output (-want +got):\n%s", diff)
	}
}
