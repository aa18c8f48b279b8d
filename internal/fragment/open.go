package fragment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

type zstdFile struct {
	*zstd.Decoder
	f *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

// Open opens a fragment file, decompressing it if the name ends in .zst.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening fragment: %w", err)
	}
	if !strings.HasSuffix(path, zstdSuffix) {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	return &zstdFile{Decoder: dec, f: f}, nil
}

// ParseFile reads the fragment at root/rel, deriving the trait or module key
// from rel.
func ParseFile(root, rel string) (Fragment, error) {
	kind := Classify(rel)
	if kind == "" {
		return Fragment{}, fmt.Errorf("%s: not a fragment file", rel)
	}

	r, err := Open(filepath.Join(root, rel))
	if err != nil {
		return Fragment{}, err
	}
	defer r.Close()

	if kind == KindSidebar {
		module, err := ModulePathFromFile(rel)
		if err != nil {
			return Fragment{}, err
		}
		items, err := ParseSidebar(r)
		if err != nil {
			return Fragment{}, fmt.Errorf("%s: %w", rel, err)
		}
		return Fragment{Kind: KindSidebar, Module: module, Items: items}, nil
	}

	trait, err := TraitPathFromFile(rel)
	if err != nil {
		return Fragment{}, err
	}
	modules, err := ParseImplementors(r)
	if err != nil {
		return Fragment{}, fmt.Errorf("%s: %w", rel, err)
	}
	return Fragment{Kind: KindImplementors, Trait: trait, Modules: modules}, nil
}
