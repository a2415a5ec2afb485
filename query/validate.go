package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Default rule sets for warehouse queries.
var (
	DefaultBlockedKeywords = []string{
		"CREATE", "ALTER", "DROP", "TRUNCATE", "RENAME",
		"UPDATE", "DELETE", "MERGE", "UPSERT", "INSERT",
		"GRANT", "REVOKE", "DENY",
		"COMMIT", "ROLLBACK", "SAVEPOINT",
		"EXEC", "EXECUTE", "BACKUP", "RESTORE", "SHUTDOWN", "KILL", "RECONFIGURE",
		"XP_CMDSHELL", "SP_EXECUTESQL", "OPENROWSET", "OPENDATASOURCE", "OPENQUERY",
	}
	DefaultBlockedPatterns = []string{"--", "/*", "*/", ";--", "xp_", "sp_"}
	DefaultBlockedSchemas  = []string{"sys", "information_schema", "master", "tempdb", "msdb"}
	DefaultAllowedPrefixes = []string{"SELECT", "WITH"}
)

var tableRef = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+\[?(\w+)\]?\.\[?(\w+)\]?`)

// ValidationResult is the outcome of static validation.
type ValidationResult struct {
	Valid  bool     `json:"is_valid"`
	Errors []string `json:"errors,omitempty"`
}

// ValidatorOptions configures the rule sets.
type ValidatorOptions struct {
	BlockedKeywords []string
	BlockedPatterns []string
	BlockedSchemas  []string
	AllowedPrefixes []string
	// RequiredPrefix, when set, must appear in any query that reads a table.
	RequiredPrefix string
	// KnownTables enables referenced-table checks ("schema.table").
	KnownTables []string
}

type keywordRule struct {
	keyword string
	re      *regexp.Regexp
}

type schemaRule struct {
	schema string
	re     *regexp.Regexp
}

// Validator statically rejects unsafe or malformed candidates. It never
// talks to the model or the warehouse.
type Validator struct {
	patterns       []string
	keywords       []keywordRule
	schemas        []schemaRule
	prefixes       []string
	requiredPrefix string
	known          map[string]bool
}

// NewValidator compiles the rule sets.
func NewValidator(optFns ...func(o *ValidatorOptions)) *Validator {
	opts := ValidatorOptions{
		BlockedKeywords: DefaultBlockedKeywords,
		BlockedPatterns: DefaultBlockedPatterns,
		BlockedSchemas:  DefaultBlockedSchemas,
		AllowedPrefixes: DefaultAllowedPrefixes,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	v := &Validator{
		patterns:       sortedCopy(opts.BlockedPatterns),
		prefixes:       sortedCopy(opts.AllowedPrefixes),
		requiredPrefix: opts.RequiredPrefix,
	}
	for _, k := range sortedCopy(opts.BlockedKeywords) {
		k = strings.ToUpper(k)
		v.keywords = append(v.keywords, keywordRule{keyword: k, re: regexp.MustCompile(`\b` + regexp.QuoteMeta(k) + `\b`)})
	}
	for _, s := range sortedCopy(opts.BlockedSchemas) {
		s = strings.ToLower(s)
		v.schemas = append(v.schemas, schemaRule{schema: s, re: regexp.MustCompile(`\b` + regexp.QuoteMeta(s) + `\.\w+`)})
	}
	if len(opts.KnownTables) > 0 {
		v.known = make(map[string]bool, len(opts.KnownTables))
		for _, t := range opts.KnownTables {
			v.known[strings.ToLower(t)] = true
		}
	}
	return v
}

// Validate runs the safety rules, stopping at the first violation, then the
// referenced-table check, which reports every unknown table.
func (v *Validator) Validate(sql string) ValidationResult {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return invalid("SQL query is empty")
	}
	upper := strings.ToUpper(trimmed)
	lower := strings.ToLower(trimmed)

	for _, p := range v.patterns {
		if strings.Contains(trimmed, p) {
			return invalid("Blocked pattern: " + p)
		}
	}
	for _, k := range v.keywords {
		if k.re.MatchString(upper) {
			return invalid("Blocked keyword: " + k.keyword)
		}
	}
	for _, s := range v.schemas {
		if s.re.MatchString(lower) {
			return invalid("System schema not allowed: " + s.schema)
		}
	}
	if !hasAnyPrefix(upper, v.prefixes) {
		return invalid("Query must start with one of: " + strings.Join(v.prefixes, ", "))
	}
	if v.requiredPrefix != "" && strings.Contains(upper, "FROM") &&
		!strings.Contains(lower, strings.ToLower(v.requiredPrefix)) {
		return invalid(fmt.Sprintf("missing required prefix: tables must use %q", v.requiredPrefix))
	}

	if v.known != nil {
		var errs []string
		for _, t := range ExtractTables(trimmed) {
			if !v.known[t] {
				errs = append(errs, "Unknown table: "+t)
			}
		}
		if len(errs) > 0 {
			return ValidationResult{Errors: errs}
		}
	}
	return ValidationResult{Valid: true}
}

// ExtractTables returns the distinct lower-cased schema-qualified tables
// referenced after FROM or JOIN, in order of appearance.
func ExtractTables(sql string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range tableRef.FindAllStringSubmatch(sql, -1) {
		t := strings.ToLower(m[1] + "." + m[2])
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func invalid(msg string) ValidationResult {
	return ValidationResult{Errors: []string{msg}}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func sortedCopy(xs []string) []string {
	out := append([]string(nil), xs...)
	sort.Strings(out)
	return out
}
