// Package schemafilter decides which catalog tables and columns are exposed,
// and which of them accept writes.
//
// Patterns are case-insensitive path.Match globs. Table patterns match either
// the bare table name or "schema.table". Missing allow lists default to
// allow-all; deny rules always win.
package schemafilter

import (
	"path"
	"slices"
	"strings"
)

// Config controls allow/deny filters for tables and columns.
type Config struct {
	AllowTables      []string            `mapstructure:"allow_tables"`
	DenyTables       []string            `mapstructure:"deny_tables"`
	ScanViewsEnabled bool                `mapstructure:"scan_views_enabled"`
	AllowColumns     map[string][]string `mapstructure:"allow_columns"`
	DenyColumns      map[string][]string `mapstructure:"deny_columns"`
	// DenyMutationTables and DenyMutationColumns restrict writes only. They
	// do not affect query visibility.
	DenyMutationTables  []string            `mapstructure:"deny_mutation_tables"`
	DenyMutationColumns map[string][]string `mapstructure:"deny_mutation_columns"`
}

// Filter applies a Config during catalog introspection.
type Filter struct {
	cfg Config
}

// New returns a filter for cfg.
func New(cfg Config) *Filter {
	return &Filter{cfg: cfg}
}

// AllowTable reports whether a table or view is exposed at all.
func (f *Filter) AllowTable(schema, table string, isView bool) bool {
	if isView && !f.cfg.ScanViewsEnabled {
		return false
	}
	if tableMatchesAny(schema, table, f.cfg.DenyTables) {
		return false
	}
	if len(f.cfg.AllowTables) == 0 {
		return true
	}
	return tableMatchesAny(schema, table, f.cfg.AllowTables)
}

// AllowColumn reports whether a column of an exposed table is exposed.
func (f *Filter) AllowColumn(schema, table, column string) bool {
	if matchesAny(column, mergePatterns(f.cfg.DenyColumns, schema, table)) {
		return false
	}
	allow := mergePatterns(f.cfg.AllowColumns, schema, table)
	if len(allow) == 0 {
		return true
	}
	return matchesAny(column, allow)
}

// ReadOnlyTable reports whether mutations are withheld for the table.
func (f *Filter) ReadOnlyTable(schema, table string) bool {
	return tableMatchesAny(schema, table, f.cfg.DenyMutationTables)
}

// ReadOnlyColumn reports whether the column is withheld from mutation inputs.
func (f *Filter) ReadOnlyColumn(schema, table, column string) bool {
	return matchesAny(column, mergePatterns(f.cfg.DenyMutationColumns, schema, table))
}

// Patterns returns every glob in cfg keyed by its config field, for validation.
func Patterns(cfg Config) map[string][]string {
	out := map[string][]string{
		"allow_tables":         cfg.AllowTables,
		"deny_tables":          cfg.DenyTables,
		"deny_mutation_tables": cfg.DenyMutationTables,
	}
	for field, m := range map[string]map[string][]string{
		"allow_columns":         cfg.AllowColumns,
		"deny_columns":          cfg.DenyColumns,
		"deny_mutation_columns": cfg.DenyMutationColumns,
	} {
		for table, columns := range m {
			out[field] = append(out[field], table)
			out[field] = append(out[field], columns...)
		}
	}
	return out
}

// ValidPattern reports whether pattern is a usable glob.
func ValidPattern(pattern string) bool {
	if strings.TrimSpace(pattern) == "" {
		return false
	}
	_, err := path.Match(strings.ToLower(pattern), "probe")
	return err == nil
}

func tableMatchesAny(schema, table string, patterns []string) bool {
	return matchesAny(table, patterns) || matchesAny(schema+"."+table, patterns)
}

// mergePatterns collects column patterns for every table key matching the table.
func mergePatterns(patterns map[string][]string, schema, table string) []string {
	if patterns == nil {
		return nil
	}
	var combined []string
	for key, columns := range patterns {
		if tableMatchesAny(schema, table, []string{key}) {
			combined = append(combined, columns...)
		}
	}
	slices.Sort(combined)
	return slices.Compact(combined)
}

func matchesAny(value string, patterns []string) bool {
	value = strings.ToLower(value)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		// matching should be case-insensitive
		ok, err := path.Match(strings.ToLower(pattern), value)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
