// Package index assembles rustdoc's trait-implementors and sidebar indexes from
// fragments that arrive in arbitrary order.
//
// An Index starts out buffering: registrations are queued in arrival order.
// Activate adopts the queue through the merge rule and switches the index to
// live mode, after which registrations are merged as they arrive. Reads before
// activation see an empty index.
package index

import (
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"
)

type State int

const (
	StateUninitialized State = iota
	StateBuffering
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBuffering:
		return "buffering"
	case StateActive:
		return "active"
	}
	return "unknown"
}

type ChangeKind int

const (
	ChangeActivated ChangeKind = iota
	ChangeImplementors
	ChangeSidebar
)

// Change describes a mutation visible to readers. Trait is set for
// ChangeImplementors, Module for both ChangeImplementors and ChangeSidebar.
type Change struct {
	Kind   ChangeKind
	Trait  string
	Module string
}

type registration struct {
	sidebar bool
	// restored marks data seeded from a saved snapshot. A live registration
	// for the same key queued before activation supersedes it.
	restored bool
	trait    string
	module   string
	entries  Contribution
	items    SidebarIndex
}

func (r registration) key() string {
	if r.sidebar {
		return "sidebar\x00" + r.module
	}
	return r.trait + "\x00" + r.module
}

type Index struct {
	logger *slog.Logger

	// mu serializes registrations, activation and reads so each runs to
	// completion before the next one starts.
	mu        sync.Mutex
	state     State
	pending   []registration
	traits    map[string]*TraitIndex
	sidebars  map[string]SidebarIndex
	conflicts []Conflict
	subs      []func(Change)
}

type Option func(*Index)

func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

func New(opts ...Option) *Index {
	ix := &Index{
		logger:   slog.Default(),
		traits:   make(map[string]*TraitIndex),
		sidebars: make(map[string]SidebarIndex),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Subscribe registers fn to be called after activation and after every live
// merge that changed the index. fn runs outside the index lock.
func (ix *Index) Subscribe(fn func(Change)) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.subs = append(ix.subs, fn)
}

// RegisterImplementors delivers one module's contribution to the trait's index,
// or queues it if the index has not been activated yet.
func (ix *Index) RegisterImplementors(trait, module string, c Contribution) {
	ix.register(registration{trait: trait, module: module, entries: c.Clone()},
		Change{Kind: ChangeImplementors, Trait: trait, Module: module})
}

// RegisterSidebar delivers a module's complete sidebar listing, or queues it.
func (ix *Index) RegisterSidebar(module string, s SidebarIndex) {
	ix.register(registration{sidebar: true, module: module, items: s.Clone()},
		Change{Kind: ChangeSidebar, Module: module})
}

func (ix *Index) register(reg registration, change Change) {
	ix.mu.Lock()
	if ix.state != StateActive {
		ix.pending = append(ix.pending, reg)
		ix.state = StateBuffering
		ix.mu.Unlock()
		return
	}
	changed := ix.apply(reg)
	subs := slices.Clone(ix.subs)
	ix.mu.Unlock()

	if changed {
		notify(subs, change)
	}
}

// Activate adopts every queued registration in arrival order and switches the
// index to live mode. A restored registration is skipped when a live one for
// the same key is queued. Only the first call does anything; it reports
// whether this call performed the activation.
func (ix *Index) Activate() bool {
	ix.mu.Lock()
	if ix.state == StateActive {
		ix.mu.Unlock()
		return false
	}
	pending := ix.pending
	ix.pending = nil
	live := make(map[string]bool, len(pending))
	for _, reg := range pending {
		if !reg.restored {
			live[reg.key()] = true
		}
	}
	superseded := 0
	for _, reg := range pending {
		if reg.restored && live[reg.key()] {
			superseded++
			continue
		}
		ix.apply(reg)
	}
	ix.state = StateActive
	traits, modules := len(ix.traits), len(ix.sidebars)
	subs := slices.Clone(ix.subs)
	ix.mu.Unlock()

	ix.logger.Info("index activated", "adopted", len(pending)-superseded, "superseded", superseded,
		"traits", traits, "sidebars", modules)
	notify(subs, Change{Kind: ChangeActivated})
	return true
}

// apply runs the merge rule for one registration. Caller holds mu.
func (ix *Index) apply(reg registration) bool {
	if reg.sidebar {
		existing, ok := ix.sidebars[reg.module]
		if !ok {
			ix.sidebars[reg.module] = reg.items
			return true
		}
		if existing.Equal(reg.items) {
			return false
		}
		ix.recordConflict(Conflict{
			Module:       reg.module,
			KeptHash:     existing.Hash(),
			RejectedHash: reg.items.Hash(),
		})
		return false
	}

	ti, ok := ix.traits[reg.trait]
	if !ok {
		ti = NewTraitIndex()
		ix.traits[reg.trait] = ti
	}
	inserted, err := ti.Merge(reg.module, reg.entries)
	if ce, ok := err.(*ConflictError); ok {
		ce.Conflict.Trait = reg.trait
		ix.recordConflict(ce.Conflict)
	}
	return inserted
}

func (ix *Index) recordConflict(c Conflict) {
	c.At = time.Now()
	ix.conflicts = append(ix.conflicts, c)
	ix.logger.Error("conflicting registration rejected",
		"error", (&ConflictError{Conflict: c}).Error(),
		"trait", c.Trait,
		"module", c.Module,
		"kept", c.KeptHash,
		"rejected", c.RejectedHash,
	)
}

func notify(subs []func(Change), change Change) {
	for _, fn := range subs {
		fn(change)
	}
}

func (ix *Index) State() State {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.state
}

// Pending returns the number of queued registrations.
func (ix *Index) Pending() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.pending)
}

// Implementors returns the trait's (module, contribution) pairs in merge order.
// Unknown traits and reads before activation yield an empty slice.
func (ix *Index) Implementors(trait string) []ModuleContribution {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ti, ok := ix.traits[trait]
	if ix.state != StateActive || !ok {
		return []ModuleContribution{}
	}
	return ti.Entries()
}

// Sidebar returns a copy of the module's sidebar, empty if unknown.
func (ix *Index) Sidebar(module string) SidebarIndex {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	s, ok := ix.sidebars[module]
	if ix.state != StateActive || !ok {
		return SidebarIndex{}
	}
	return s.Clone()
}

func (ix *Index) Traits() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.state != StateActive {
		return []string{}
	}
	return sortedKeys(ix.traits)
}

// Modules lists modules with a registered sidebar.
func (ix *Index) Modules() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.state != StateActive {
		return []string{}
	}
	return sortedKeys(ix.sidebars)
}

// Conflicts returns every rejected registration seen so far.
func (ix *Index) Conflicts() []Conflict {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return slices.Clone(ix.conflicts)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
