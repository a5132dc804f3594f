// Package sqlident provides the identifier-quoting and fragment-building
// primitives the parser, DVM, and CDC trigger generator all share. Every
// SQL string assembled elsewhere in pgtrickle funnels through here instead
// of ad hoc fmt.Sprintf quoting.
package sqlident

import "strings"

// QuoteIdent double-quotes a Postgres identifier, doubling any embedded
// quote character. It never attempts to validate the identifier; callers
// are responsible for passing catalog-derived names, not user input.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteQualified quotes a schema-qualified name as "schema"."name".
func QuoteQualified(schema, name string) string {
	return QuoteIdent(schema) + "." + QuoteIdent(name)
}

// ColList renders a comma-joined, quoted column list: col1, col2, col3.
func ColList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// PrefixedColList renders a comma-joined, alias-qualified column list:
// alias.col1, alias.col2. Used to build fragments like the merge target
// list or a scan's SELECT list where every column must be disambiguated.
func PrefixedColList(alias string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdent(alias) + "." + QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// AliasedColList renders "col AS alias_col" pairs, used when projecting a
// delta row into a namespaced form (e.g. new_<col>, old_<col>).
func AliasedColList(cols []string, prefix string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = QuoteIdent(c) + " AS " + QuoteIdent(prefix+c)
	}
	return strings.Join(parts, ", ")
}
