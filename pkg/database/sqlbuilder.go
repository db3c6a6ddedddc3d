package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// Excluded references the row proposed for insertion inside an ON CONFLICT clause.
func Excluded(column string) string {
	return fmt.Sprintf("EXCLUDED.%s", column)
}

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder() *InsertBuilder {
	return &InsertBuilder{sqlbuilder.PostgreSQL.NewInsertBuilder()}
}

// OnConflictUpdate appends an upsert clause that overwrites updateColumns with the proposed row.
func (b *InsertBuilder) OnConflictUpdate(conflictColumns []string, updateColumns ...string) *InsertBuilder {
	sets := make([]string, 0, len(updateColumns))
	for _, col := range updateColumns {
		sets = append(sets, fmt.Sprintf("%s = %s", col, Excluded(col)))
	}
	b.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflictColumns, ", "), strings.Join(sets, ", ")))
	return b
}

func (b *InsertBuilder) OnConflictDoNothing() *InsertBuilder {
	b.SQL("ON CONFLICT DO NOTHING")
	return b
}

func NewSelectBuilder() *sqlbuilder.SelectBuilder {
	return sqlbuilder.PostgreSQL.NewSelectBuilder()
}

func NewDeleteBuilder() *sqlbuilder.DeleteBuilder {
	return sqlbuilder.PostgreSQL.NewDeleteBuilder()
}

func NewUpdateBuilder() *sqlbuilder.UpdateBuilder {
	return sqlbuilder.PostgreSQL.NewUpdateBuilder()
}

// IsNoRows reports whether err is the driver's empty result error.
func IsNoRows(err error) bool {
	return err != nil && err.Error() == "sql: no rows in result set"
}
