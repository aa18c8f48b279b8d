package index

// Snapshot is a deep copy of an index, used for persistence and status output.
type Snapshot struct {
	State    State                           `json:"state"`
	Traits   map[string][]ModuleContribution `json:"traits"`
	Sidebars map[string]SidebarIndex         `json:"sidebars"`
}

// Snapshot copies the index. Before activation the maps are empty.
func (ix *Index) Snapshot() Snapshot {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	snap := Snapshot{
		State:    ix.state,
		Traits:   make(map[string][]ModuleContribution),
		Sidebars: make(map[string]SidebarIndex),
	}
	if ix.state != StateActive {
		return snap
	}
	for name, ti := range ix.traits {
		snap.Traits[name] = ti.Entries()
	}
	for module, s := range ix.sidebars {
		snap.Sidebars[module] = s.Clone()
	}
	return snap
}

// Seed registers every pair of snap, traits in name order and modules in
// stored order, followed by sidebars. Before activation the pairs are queued
// as restored data: a live registration for the same trait and module (or the
// same sidebar) queued before Activate replaces the restored one instead of
// conflicting with it. On an active index they are merged like any other
// registration.
func (ix *Index) Seed(snap Snapshot) {
	for _, trait := range sortedKeys(snap.Traits) {
		for _, mc := range snap.Traits[trait] {
			ix.register(registration{restored: true, trait: trait, module: mc.Module, entries: mc.Entries.Clone()},
				Change{Kind: ChangeImplementors, Trait: trait, Module: mc.Module})
		}
	}
	for _, module := range sortedKeys(snap.Sidebars) {
		ix.register(registration{restored: true, sidebar: true, module: module, items: snap.Sidebars[module].Clone()},
			Change{Kind: ChangeSidebar, Module: module})
	}
}
