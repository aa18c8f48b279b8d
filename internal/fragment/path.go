package fragment

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	implementorsDir = "implementors"
	sidebarFile     = "sidebar-items.js"
	zstdSuffix      = ".zst"
)

// Classify reports which kind of fragment a path (relative to the doc root)
// holds, or "" if it is not a fragment file.
func Classify(rel string) Kind {
	rel = strings.TrimSuffix(filepath.ToSlash(rel), zstdSuffix)
	if strings.HasPrefix(rel, implementorsDir+"/") && strings.HasSuffix(rel, ".js") {
		return KindImplementors
	}
	if rel == sidebarFile || strings.HasSuffix(rel, "/"+sidebarFile) {
		return KindSidebar
	}
	return ""
}

// TraitPathFromFile maps implementors/core/ops/bit/trait.BitAnd.js to
// core::ops::bit::BitAnd.
func TraitPathFromFile(rel string) (string, error) {
	rel = strings.TrimSuffix(filepath.ToSlash(rel), zstdSuffix)
	parts := strings.Split(rel, "/")
	if len(parts) < 2 || parts[0] != implementorsDir {
		return "", fmt.Errorf("%s: not under %s/", rel, implementorsDir)
	}
	last := parts[len(parts)-1]
	if !strings.HasPrefix(last, "trait.") || !strings.HasSuffix(last, ".js") {
		return "", fmt.Errorf("%s: expected trait.<Name>.js", rel)
	}
	name := strings.TrimSuffix(strings.TrimPrefix(last, "trait."), ".js")
	if name == "" {
		return "", fmt.Errorf("%s: empty trait name", rel)
	}
	return strings.Join(append(parts[1:len(parts)-1], name), "::"), nil
}

// ModulePathFromFile maps style/str/sidebar-items.js to style::str.
func ModulePathFromFile(rel string) (string, error) {
	rel = strings.TrimSuffix(filepath.ToSlash(rel), zstdSuffix)
	dir, file := pathSplit(rel)
	if file != sidebarFile {
		return "", fmt.Errorf("%s: not a %s file", rel, sidebarFile)
	}
	if dir == "" {
		return "", fmt.Errorf("%s: sidebar file outside any module directory", rel)
	}
	return strings.ReplaceAll(dir, "/", "::"), nil
}

func pathSplit(rel string) (dir, file string) {
	i := strings.LastIndexByte(rel, '/')
	if i < 0 {
		return "", rel
	}
	return rel[:i], rel[i+1:]
}
