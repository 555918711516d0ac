// Package ctl holds the command dispatch layer: the command registry, the
// batch parser, the per-invocation symbol table, and the context handed to
// command handlers.
package ctl

import (
	"fmt"
	"sort"
)

// Mode declares whether a command may mutate the database.
type Mode int

const (
	// RO commands read the snapshot and never touch the transaction's
	// mutation set.
	RO Mode = iota
	// RW commands run only inside an open transaction.
	RW
)

// OptionArity declares whether a command-local option takes a value.
type OptionArity int

const (
	// NoArg: the option is a bare flag ("--if-exists").
	NoArg OptionArity = iota
	// RequiredArg: the option must carry a value ("--id=@name").
	RequiredArg
	// OptionalArg: the option may carry a value.
	OptionalArg
)

// Option declares one command-local option.
type Option struct {
	Name  string // without the leading dashes
	Arity OptionArity
}

// Unlimited marks a command with no upper positional-argument bound.
const Unlimited = -1

// Syntax is a command descriptor: name, argument bounds, recognized options,
// access mode, and up to three capability callbacks. Descriptors are built
// once at startup and shared read-only.
type Syntax struct {
	Name    string
	MinArgs int
	MaxArgs int // Unlimited for no upper bound
	Usage   string
	Options []Option
	Mode    Mode

	// Prereq runs against a read-only snapshot view before a transaction
	// is opened; it must not mutate anything.
	Prereq func(*Context) error

	// Run executes the command against the shared transaction and symbol
	// table. Return ErrTryAgain to abort the batch for a clean retry.
	Run func(*Context) error

	// Postprocess runs after a successful commit for read-only reporting.
	Postprocess func(*Context) error
}

func (s *Syntax) option(name string) (Option, bool) {
	for _, opt := range s.Options {
		if opt.Name == name {
			return opt, true
		}
	}
	return Option{}, false
}

// Registry maps command names to descriptors. Pure lookup; no state beyond
// construction.
type Registry struct {
	commands map[string]*Syntax
}

// NewRegistry builds a registry from descriptor slices. Duplicate names are
// a programming error.
func NewRegistry(groups ...[]Syntax) (*Registry, error) {
	r := &Registry{commands: make(map[string]*Syntax)}
	for _, group := range groups {
		for i := range group {
			s := &group[i]
			if _, ok := r.commands[s.Name]; ok {
				return nil, fmt.Errorf("duplicate command %q", s.Name)
			}
			r.commands[s.Name] = s
		}
	}
	return r, nil
}

// Lookup returns the descriptor for a command name, or nil.
func (r *Registry) Lookup(name string) *Syntax {
	return r.commands[name]
}

// Names returns all registered command names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MightWrite reports whether any command in the batch is read-write. The
// daemon logs read-write batches at a higher level than read-only ones.
func MightWrite(cmds []*BoundCommand) bool {
	for _, c := range cmds {
		if c.Syntax.Mode == RW {
			return true
		}
	}
	return false
}
