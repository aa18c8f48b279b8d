// Package fragment decodes the per-crate data files rustdoc writes next to the
// rendered documentation: trait implementor lists and module sidebar items.
// Entries are kept opaque; nothing here interprets the HTML they carry.
package fragment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jcdickinson/rsindex/internal/index"
)

type Kind string

const (
	KindImplementors Kind = "implementors"
	KindSidebar      Kind = "sidebar"
)

// Fragment is one self-contained unit of index data. Implementor fragments
// carry Trait and Modules; sidebar fragments carry Module and Items.
type Fragment struct {
	Kind    Kind                       `json:"kind"`
	Trait   string                     `json:"trait,omitempty"`
	Modules []index.ModuleContribution `json:"modules,omitempty"`
	Module  string                     `json:"module,omitempty"`
	Items   index.SidebarIndex         `json:"items,omitempty"`
}

// Registrar receives fragment data. *index.Index implements it.
type Registrar interface {
	RegisterImplementors(trait, module string, c index.Contribution)
	RegisterSidebar(module string, s index.SidebarIndex)
}

func (f Fragment) Validate() error {
	switch f.Kind {
	case KindImplementors:
		if f.Trait == "" {
			return fmt.Errorf("implementors fragment without trait")
		}
		for i, mc := range f.Modules {
			if mc.Module == "" {
				return fmt.Errorf("implementors fragment for %s: module %d has no key", f.Trait, i)
			}
		}
	case KindSidebar:
		if f.Module == "" {
			return fmt.Errorf("sidebar fragment without module")
		}
	default:
		return fmt.Errorf("unknown fragment kind %q", f.Kind)
	}
	return nil
}

// RegisterTo hands the fragment to r, modules in file order.
func (f Fragment) RegisterTo(r Registrar) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Kind == KindSidebar {
		items := f.Items
		if items == nil {
			items = index.SidebarIndex{}
		}
		r.RegisterSidebar(f.Module, items)
		return nil
	}
	for _, mc := range f.Modules {
		r.RegisterImplementors(f.Trait, mc.Module, mc.Entries)
	}
	return nil
}

// DecodeJSON reads the JSON form of a fragment. Unknown fields are rejected.
func DecodeJSON(r io.Reader) (Fragment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Fragment{}, fmt.Errorf("reading fragment: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var f Fragment
	if err := dec.Decode(&f); err != nil {
		return Fragment{}, fmt.Errorf("decoding fragment: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Fragment{}, err
	}
	return f, nil
}
