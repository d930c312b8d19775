package postgres

import "fmt"

// TableNames holds environment-prefixed table names (dev_, test_, prod_).
// Interpolating them with fmt.Sprintf is safe: the SQL string is assembled
// before it reaches the database, and each prefix gets its own statements.
type TableNames struct {
	Events      string
	Trees       string
	Nodes       string
	Annotations string
	Bookmarks   string
	Exclusions  string
	Anchors     string
	Digressions string
}

// NewTableNames creates table names with the given prefix.
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Events:      fmt.Sprintf("%sevents", prefix),
		Trees:       fmt.Sprintf("%strees", prefix),
		Nodes:       fmt.Sprintf("%snodes", prefix),
		Annotations: fmt.Sprintf("%sannotations", prefix),
		Bookmarks:   fmt.Sprintf("%sbookmarks", prefix),
		Exclusions:  fmt.Sprintf("%sexclusions", prefix),
		Anchors:     fmt.Sprintf("%sanchors", prefix),
		Digressions: fmt.Sprintf("%sdigressions", prefix),
	}
}
