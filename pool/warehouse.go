package pool

import (
	"regexp"
	"strings"
)

// DefaultWarehouseSchema is the schema generated SQL is rewritten into.
const DefaultWarehouseSchema = "gold"

var (
	bracketedDbo = regexp.MustCompile(`(?i)\[dbo\]\.`)
	bareDbo      = regexp.MustCompile(`(?i)\bdbo\.`)
)

// AdaptForWarehouse rewrites dbo-qualified object names to the warehouse
// schema. An empty schema uses DefaultWarehouseSchema.
func AdaptForWarehouse(sql, schema string) string {
	schema = strings.Trim(strings.TrimSpace(schema), "[]")
	if schema == "" {
		schema = DefaultWarehouseSchema
	}
	target := "[" + schema + "]."
	sql = bracketedDbo.ReplaceAllLiteralString(sql, target)
	return bareDbo.ReplaceAllLiteralString(sql, target)
}
