package index

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

// Contribution is the ordered list of opaque rendered entries (usually HTML
// snippets) that one fragment contributes for one module.
type Contribution []string

// Equal reports element-wise equality. A nil and an empty contribution are equal.
func (c Contribution) Equal(o Contribution) bool {
	return slices.Equal(c, o)
}

// Clone returns a copy that shares no backing array with c. The result is
// never nil so an explicit empty contribution survives a round trip.
func (c Contribution) Clone() Contribution {
	out := make(Contribution, len(c))
	copy(out, c)
	return out
}

// Encode returns the canonical JSON encoding, the form stored in the CAS.
func (c Contribution) Encode() []byte {
	b, _ := json.Marshal([]string(c.Clone()))
	return b
}

// Hash is the SHA-256 of the canonical encoding.
func (c Contribution) Hash() string {
	return fmt.Sprintf("%x", sha256.Sum256(c.Encode()))
}

// DecodeContribution parses the canonical encoding produced by Encode.
func DecodeContribution(data []byte) (Contribution, error) {
	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding contribution: %w", err)
	}
	return Contribution(entries).Clone(), nil
}

// ModuleContribution pairs a module key with its contribution.
type ModuleContribution struct {
	Module  string       `json:"module"`
	Entries Contribution `json:"entries"`
}

// TraitIndex maps module keys to contributions for a single trait. Iteration
// follows merge order.
type TraitIndex struct {
	order    []string
	byModule map[string]Contribution
}

func NewTraitIndex() *TraitIndex {
	return &TraitIndex{byModule: make(map[string]Contribution)}
}

// Merge applies the merge rule. It returns true when the module was newly
// inserted. A differing contribution for an existing module is rejected with a
// *ConflictError and the stored contribution is left untouched.
func (t *TraitIndex) Merge(module string, c Contribution) (bool, error) {
	existing, ok := t.byModule[module]
	if !ok {
		t.byModule[module] = c.Clone()
		t.order = append(t.order, module)
		return true, nil
	}
	if existing.Equal(c) {
		return false, nil
	}
	return false, &ConflictError{Conflict: Conflict{
		Module:       module,
		KeptHash:     existing.Hash(),
		RejectedHash: c.Hash(),
	}}
}

func (t *TraitIndex) Len() int {
	return len(t.order)
}

// Entries returns a deep copy of the index in merge order.
func (t *TraitIndex) Entries() []ModuleContribution {
	out := make([]ModuleContribution, 0, len(t.order))
	for _, m := range t.order {
		out = append(out, ModuleContribution{Module: m, Entries: t.byModule[m].Clone()})
	}
	return out
}

// Sidebar categories emitted by rustdoc.
const (
	CategoryFunction   = "fn"
	CategoryStruct     = "struct"
	CategoryTrait      = "trait"
	CategoryEnum       = "enum"
	CategoryMacro      = "macro"
	CategoryModule     = "mod"
	CategoryStatic     = "static"
	CategoryType       = "type"
	CategoryConstant   = "constant"
	CategoryPrimitive  = "primitive"
	CategoryUnion      = "union"
	CategoryKeyword    = "keyword"
	CategoryAttr       = "attr"
	CategoryDerive     = "derive"
	CategoryTraitAlias = "traitalias"
)

// KnownCategories lists categories in the order rustdoc renders sidebar sections.
var KnownCategories = []string{
	CategoryModule, CategoryMacro, CategoryStruct, CategoryUnion, CategoryEnum,
	CategoryConstant, CategoryStatic, CategoryTrait, CategoryTraitAlias,
	CategoryFunction, CategoryType, CategoryPrimitive, CategoryKeyword,
	CategoryAttr, CategoryDerive,
}

type SidebarEntry struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SidebarIndex is the categorized symbol listing of one module. Categories not
// in KnownCategories are kept as-is.
type SidebarIndex map[string][]SidebarEntry

func (s SidebarIndex) Clone() SidebarIndex {
	out := make(SidebarIndex, len(s))
	for cat, entries := range s {
		out[cat] = slices.Clone(entries)
		if out[cat] == nil {
			out[cat] = []SidebarEntry{}
		}
	}
	return out
}

// populated drops empty categories; an empty category lists nothing and is not
// persisted.
func (s SidebarIndex) populated() SidebarIndex {
	out := make(SidebarIndex, len(s))
	for cat, entries := range s {
		if len(entries) > 0 {
			out[cat] = entries
		}
	}
	return out
}

// Equal compares populated categories only.
func (s SidebarIndex) Equal(o SidebarIndex) bool {
	a, b := s.populated(), o.populated()
	if len(a) != len(b) {
		return false
	}
	for cat, entries := range a {
		if !slices.Equal(entries, b[cat]) {
			return false
		}
	}
	return true
}

// Hash is the SHA-256 of the JSON encoding of the populated categories.
// encoding/json sorts map keys, so the result does not depend on map iteration
// order.
func (s SidebarIndex) Hash() string {
	b, _ := json.Marshal(s.populated())
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

// Categories returns the populated categories, known ones first in rustdoc
// order, then unknown ones sorted.
func (s SidebarIndex) Categories() []string {
	var out []string
	for _, cat := range KnownCategories {
		if _, ok := s[cat]; ok {
			out = append(out, cat)
		}
	}
	var extra []string
	for cat := range s {
		if !slices.Contains(KnownCategories, cat) {
			extra = append(extra, cat)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// Len is the total number of entries across all categories.
func (s SidebarIndex) Len() int {
	n := 0
	for _, entries := range s {
		n += len(entries)
	}
	return n
}
