// Package schema owns the table catalog and target selection: which tables a
// question needs and the schema context text the generator is prompted with.
package schema
