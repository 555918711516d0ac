package ctl

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Symbol is a batch-local name standing in for a row identifier. The UUID
// is allocated the moment the name is first mentioned; Created tracks
// whether any command actually produced the row. StrongRef/WeakRef record
// how other rows link to it, which drives the orphan diagnostics after the
// run phase. A reference must come after the command that creates the name:
// forward records a reference that arrived first, which is fatal even if a
// later command creates the name.
type Symbol struct {
	Name      string
	UUID      string
	Created   bool
	StrongRef bool
	WeakRef   bool

	forward bool
}

// Symtab is the per-attempt symbol table. It is discarded and rebuilt from
// scratch on every retry.
type Symtab struct {
	symbols map[string]*Symbol
}

// NewSymtab returns an empty symbol table.
func NewSymtab() *Symtab {
	return &Symtab{symbols: make(map[string]*Symbol)}
}

// Declare returns the symbol with the given name, creating a fresh
// unresolved one (with a pre-allocated UUID) on first mention.
func (t *Symtab) Declare(name string) *Symbol {
	if sym, ok := t.symbols[name]; ok {
		return sym
	}
	sym := &Symbol{Name: name, UUID: uuid.NewString()}
	t.symbols[name] = sym
	return sym
}

// Get returns the named symbol, or nil.
func (t *Symtab) Get(name string) *Symbol {
	return t.symbols[name]
}

// Create marks the symbol as created and returns its row UUID. Creating the
// same name twice in one batch is an error.
func (t *Symtab) Create(name string) (string, error) {
	sym := t.Declare(name)
	if sym.Created {
		return "", fmt.Errorf("row id %q may only be created once per invocation", name)
	}
	sym.Created = true
	return sym.UUID, nil
}

// Bind attaches the symbol to an already-existing row. Binding fails when
// the name was already created, or when earlier commands already embedded
// the symbol's pre-allocated UUID into other rows.
func (t *Symtab) Bind(name, rowUUID string) error {
	sym := t.Declare(name)
	if sym.Created {
		return fmt.Errorf("row id %q may only be created once per invocation", name)
	}
	if sym.StrongRef || sym.WeakRef {
		return fmt.Errorf("row id %q was referenced before being bound to an existing row", name)
	}
	sym.UUID = rowUUID
	sym.Created = true
	return nil
}

// Reference records that a row links to the symbol's row, with strong
// (ownership) or weak (advisory) semantics, and returns the row UUID.
// Referencing a name no earlier command has created is recorded and fails
// validation, even if a later command creates it.
func (t *Symtab) Reference(name string, strong bool) string {
	sym := t.Declare(name)
	if !sym.Created {
		sym.forward = true
	}
	if strong {
		sym.StrongRef = true
	} else {
		sym.WeakRef = true
	}
	return sym.UUID
}

// Validate checks every declared symbol after the run phase. A symbol that
// was referenced without a creating command earlier in the batch is fatal,
// whether the creation never happened or only came later. Created symbols
// that nothing strongly references are returned as warnings: the row will
// be garbage collected (or, with only a weak reference, is at risk of it).
func (t *Symtab) Validate() (warnings []string, err error) {
	names := make([]string, 0, len(t.symbols))
	for name := range t.symbols {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sym := t.symbols[name]
		if !sym.Created || sym.forward {
			return nil, fmt.Errorf(
				"row id %q is referenced but never created (e.g. with \"-- --id=%s create ...\")",
				name, name)
		}
		if !sym.StrongRef {
			if !sym.WeakRef {
				warnings = append(warnings, fmt.Sprintf(
					"row id %q was created but no reference to it was inserted, "+
						"so it will not actually appear in the database", name))
			} else {
				warnings = append(warnings, fmt.Sprintf(
					"row id %q was created but only a weak reference to it was "+
						"inserted, so it will not actually appear in the database", name))
			}
		}
	}
	return warnings, nil
}
