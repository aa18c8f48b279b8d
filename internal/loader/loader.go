// Package loader feeds a rustdoc output tree into an index. Files are parsed
// and registered concurrently, so the order in which fragments reach the
// index is not the order they appear on disk.
package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/jcdickinson/rsindex/internal/fragment"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	// Concurrency bounds the number of files parsed at once. Zero means 8.
	Concurrency int
	// Strict aborts on the first unparseable file instead of skipping it.
	Strict bool
	// Progress, if set, receives one line per registered file.
	Progress func(string)
	Logger   *slog.Logger
}

type Stats struct {
	Files        int `json:"files"`
	Implementors int `json:"implementors"`
	Sidebars     int `json:"sidebars"`
	Skipped      int `json:"skipped"`
}

// Find returns the fragment files under root, relative to root.
func Find(root string) ([]string, error) {
	var rels []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if fragment.Classify(rel) != "" {
			rels = append(rels, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return rels, nil
}

// Load registers every fragment under root with r.
func Load(ctx context.Context, root string, r fragment.Registrar, opts Options) (Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var progressMu sync.Mutex
	progress := func(msg string) {
		if opts.Progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		opts.Progress(msg)
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 8
	}

	rels, err := Find(root)
	if err != nil {
		return Stats{}, err
	}
	progress(fmt.Sprintf("found %d fragment files under %s", len(rels), root))

	var implementors, sidebars, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, rel := range rels {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := fragment.ParseFile(root, rel)
			if err == nil {
				err = f.RegisterTo(r)
			}
			if err != nil {
				if opts.Strict {
					return fmt.Errorf("loading %s: %w", rel, err)
				}
				logger.Warn("skipping fragment", "file", rel, "error", err)
				skipped.Add(1)
				return nil
			}

			switch f.Kind {
			case fragment.KindImplementors:
				implementors.Add(1)
				progress(fmt.Sprintf("registered %s (%d modules)", f.Trait, len(f.Modules)))
			case fragment.KindSidebar:
				sidebars.Add(1)
				progress(fmt.Sprintf("registered sidebar for %s", f.Module))
			}
			return nil
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	stats := Stats{
		Files:        len(rels),
		Implementors: int(implementors.Load()),
		Sidebars:     int(sidebars.Load()),
		Skipped:      int(skipped.Load()),
	}
	return stats, err
}
