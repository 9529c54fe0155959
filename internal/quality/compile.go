package quality

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Each builder returns one aggregate query. Identifiers are validated by
// RuleSet.Validate and quoted here; bounds are numeric literals.

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

// completenessSQL returns the row count followed by one null count per field.
func completenessSQL(table pgx.Identifier, fields []string) string {
	cols := make([]string, 0, len(fields)+1)
	cols = append(cols, "COUNT(*) AS total_records")
	for _, f := range fields {
		cols = append(cols, fmt.Sprintf("COALESCE(SUM(CASE WHEN %s IS NULL THEN 1 ELSE 0 END), 0) AS %s",
			quote(f), quote(f+"_nulls")))
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), table.Sanitize())
}

// bounds resolves the inclusive range of a rule for the evaluation time.
func (r RangeRule) bounds(now time.Time) (lo, hi *float64) {
	lo, hi = r.Min, r.Max
	if r.MaxYearsAhead != nil {
		v := float64(now.Year() + *r.MaxYearsAhead)
		hi = &v
	}
	return lo, hi
}

// validitySQL returns the non-null row count and the out-of-range count.
func validitySQL(table pgx.Identifier, field string, lo, hi *float64) string {
	var conds []string
	if lo != nil {
		conds = append(conds, fmt.Sprintf("%s < %s", quote(field), formatBound(*lo)))
	}
	if hi != nil {
		conds = append(conds, fmt.Sprintf("%s > %s", quote(field), formatBound(*hi)))
	}
	return fmt.Sprintf(
		"SELECT COUNT(*) AS total_records, COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0) AS invalid_records FROM %s WHERE %s IS NOT NULL",
		strings.Join(conds, " OR "), table.Sanitize(), quote(field))
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// consistencySQL returns the row count and the count of rows where the
// comparison is false. Rows with a null operand are not counted.
func consistencySQL(table pgx.Identifier, c Comparison) string {
	return fmt.Sprintf(
		"SELECT COUNT(*) AS total_records, COALESCE(SUM(CASE WHEN NOT (%s %s %s) THEN 1 ELSE 0 END), 0) AS inconsistent_records FROM %s",
		quote(c.Left), c.Op, quote(c.Right), table.Sanitize())
}

// uniquenessSQL returns the row count and the number of duplicated key
// combinations.
func uniquenessSQL(table pgx.Identifier, fields []string) string {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = quote(f)
	}
	keys := strings.Join(cols, ", ")
	return fmt.Sprintf(
		"SELECT (SELECT COUNT(*) FROM %[1]s) AS total_records, COUNT(*) AS duplicate_groups FROM (SELECT %[2]s FROM %[1]s GROUP BY %[2]s HAVING COUNT(*) > 1) AS dup",
		table.Sanitize(), keys)
}

// referentialSQL returns the row count and the number of rows whose
// non-null field matches no row of the referenced table.
func referentialSQL(table, ref pgx.Identifier, field, refField string) string {
	return fmt.Sprintf(
		"SELECT (SELECT COUNT(*) FROM %[1]s) AS total_records, COUNT(*) AS orphan_count FROM %[1]s AS c LEFT JOIN %[2]s AS p ON c.%[3]s = p.%[4]s WHERE p.%[4]s IS NULL AND c.%[3]s IS NOT NULL",
		table.Sanitize(), ref.Sanitize(), quote(field), quote(refField))
}
