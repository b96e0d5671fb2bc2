package storage

import (
	"fmt"
	"strings"

	"mercator-hq/tally/pkg/analytics"
)

// SchemaVersion is the current analytics database schema version.
const SchemaVersion = 1

// tableSchema is the layout shared by every category table. key is the
// upsert identity for keyed categories and the record ID for append-only
// ones; ts is the category's retention time field in Unix nanoseconds.
const tableSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
    key TEXT PRIMARY KEY,
    ts INTEGER NOT NULL,
    doc TEXT NOT NULL
);
`

// schemaVersionTable tracks the applied schema version.
const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

// Schema returns the statements creating every category table.
func Schema() string {
	var sb strings.Builder
	sb.WriteString(schemaVersionTable)
	for _, c := range analytics.AllCategories() {
		sb.WriteString(fmt.Sprintf(tableSchema, c.Collection()))
	}
	return sb.String()
}

// indexDDL renders a CREATE INDEX statement for spec. The time field maps
// to the ts column; other fields are read out of the JSON document.
func indexDDL(spec analytics.IndexSpec) (name, ddl string) {
	table := spec.Category.Collection()
	name = table + "_" + spec.Name

	cols := make([]string, 0, len(spec.Fields))
	for _, f := range spec.Fields {
		cols = append(cols, columnExpr(spec.Category, f))
	}

	unique := ""
	if spec.Unique {
		unique = "UNIQUE "
	}

	ddl = fmt.Sprintf("CREATE %sINDEX %s ON %s(%s);", unique, name, table, strings.Join(cols, ", "))
	return name, ddl
}

func columnExpr(c analytics.Category, field string) string {
	if field == c.TimeField() {
		return "ts"
	}
	return fmt.Sprintf("json_extract(doc, '$.%s')", field)
}
