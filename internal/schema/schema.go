// Package schema maps the synchronized collections onto relational tables.
//
// The same table definitions back the local SQLite store and the database
// file shipped inside sync archives, so column names and types here are part
// of the archive compatibility surface.
//
// Reading is schema-versioned and tolerant. Every column has a kind with a
// documented default used when the column is missing, NULL, or holds a value
// of the wrong type:
//
//	kind           default
//	Text           ""
//	NullableText   nil (field absent)
//	Real           0 (numeric strings are parsed)
//	Integer        0
//	Bool           false (stored as 0/1, any non-zero value is true)
//
// A missing table reads as an empty collection.
package schema

import (
	"fmt"
	"strings"
)

// Version is the schema version written into archive metadata.
const Version = "1.0.0"

// Kind is the storage class of a column.
type Kind int

const (
	Text Kind = iota
	NullableText
	Real
	Integer
	Bool
)

// SQLType returns the column type used in CREATE TABLE statements.
func (k Kind) SQLType() string {
	switch k {
	case Real:
		return "REAL"
	case Integer, Bool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// Column describes one table column.
type Column struct {
	Name string
	Kind Kind
}

// Table binds a record type to its relational representation.
// Values must return one value per column, in column order.
type Table[T any] struct {
	Name    string
	Columns []Column
	Values  func(T) []any
	Read    func(Row) T
}

// ColumnNames returns the column names in declaration order.
func (t Table[T]) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// CreateSQL returns an idempotent CREATE TABLE statement. The first column
// is the primary key.
func (t Table[T]) CreateSQL() string {
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		def := c.Name + " " + c.Kind.SQLType()
		if i == 0 {
			def += " PRIMARY KEY"
		} else if c.Kind != NullableText {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.Name, strings.Join(defs, ", "))
}

// UpsertSQL returns an insert statement that updates every non-key column
// when a row with the same primary key already exists.
func (t Table[T]) UpsertSQL() string {
	names := t.ColumnNames()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")

	updates := make([]string, 0, len(names)-1)
	for _, n := range names[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", n, n))
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		t.Name, strings.Join(names, ", "), placeholders, names[0], strings.Join(updates, ", "))
}
