// Package schema describes the FabricDB table layout: tables, columns,
// reference semantics, and the per-table row lookup strategies used to
// resolve user-supplied record identifiers.
//
// The schema itself is written in CUE (schema.cue, embedded) and compiled
// through the CUE Go API at startup.
package schema

// AtomicType is the scalar type of a column (or of a set's elements).
type AtomicType string

const (
	TypeString  AtomicType = "string"
	TypeInteger AtomicType = "integer"
	TypeBoolean AtomicType = "boolean"
	TypeMap     AtomicType = "map"
)

// RefType distinguishes ownership references from advisory ones.
// A strong reference keeps the target row alive; a row in a non-root table
// with only weak references (or none) is garbage collected at commit.
type RefType string

const (
	RefNone   RefType = ""
	RefStrong RefType = "strong"
	RefWeak   RefType = "weak"
)

// Column describes one column of a table.
type Column struct {
	Name string
	Type AtomicType

	// Set marks the column as an unordered set of atoms (or of references
	// when Ref is non-empty). A non-set reference column holds at most one
	// UUID.
	Set bool

	// Ref names the referenced table for UUID-valued columns.
	Ref     string
	RefType RefType
}

// IsRef reports whether the column holds row references.
func (c *Column) IsRef() bool { return c.Ref != "" }

// Lookup is one strategy for resolving a record identifier string to a row.
// Strategies are evaluated in declaration order; the first match wins.
type Lookup struct {
	// Column is the indexing column compared against the identifier.
	Column string

	// FilterColumn/FilterValue optionally restrict candidate rows to those
	// where FilterColumn equals FilterValue.
	FilterColumn string
	FilterValue  string

	// Via optionally names a reference column to follow after the match,
	// so the identifier selects a row one hop away.
	Via string
}

// Table describes one table.
type Table struct {
	Name string

	// IsRoot marks the table as a garbage collection root: its rows are
	// never collected.
	IsRoot bool

	Columns map[string]*Column

	// Lookups are the identifier resolution strategies for this table,
	// tried in order. UUID resolution is always available and is not
	// listed here.
	Lookups []Lookup
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column { return t.Columns[name] }

// Schema is the full compiled schema.
type Schema struct {
	Tables map[string]*Table
}

// Table returns the named table, or nil.
func (s *Schema) Table(name string) *Table { return s.Tables[name] }
