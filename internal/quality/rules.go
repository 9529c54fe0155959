// Package quality evaluates declarative data quality rules against the
// warehouse. Every rule compiles to aggregate queries; rows are never
// loaded into the process.
package quality

import (
	_ "embed"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/config"
)

//go:embed rules.yaml
var defaultRules []byte

// Rule categories, in evaluation order.
const (
	CategoryCompleteness = "completeness"
	CategoryValidity     = "validity"
	CategoryConsistency  = "consistency"
	CategoryUniqueness   = "uniqueness"
	CategoryReferential  = "referential_integrity"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// RuleSet holds the rules of every table.
type RuleSet struct {
	Tables map[string]TableRules `yaml:"tables"`
}

// TableRules groups the rule categories declared for one table. A nil or
// empty category is not evaluated.
type TableRules struct {
	Completeness         *CompletenessRule    `yaml:"completeness"`
	Validity             map[string]RangeRule `yaml:"validity"`
	Consistency          map[string]string    `yaml:"consistency"`
	Uniqueness           *UniquenessRule      `yaml:"uniqueness"`
	ReferentialIntegrity map[string]string    `yaml:"referential_integrity"`
}

// CompletenessRule requires each field to be non-null in at least
// Threshold of the rows.
type CompletenessRule struct {
	RequiredFields []string `yaml:"required_fields"`
	Threshold      float64  `yaml:"threshold"`
}

// RangeRule bounds a field inclusively. MaxYearsAhead sets the upper bound
// relative to the evaluation year and overrides Max.
type RangeRule struct {
	Min           *float64 `yaml:"min"`
	Max           *float64 `yaml:"max"`
	MaxYearsAhead *int     `yaml:"max_years_ahead"`
}

// UniquenessRule requires no duplicate combination of Fields.
type UniquenessRule struct {
	Fields []string `yaml:"fields"`
}

// Comparison is a parsed consistency expression "left op right".
type Comparison struct {
	Left  string
	Op    string
	Right string
}

var comparisonOps = map[string]bool{"<": true, "<=": true, "=": true, "<>": true, "!=": true, ">=": true, ">": true}

// ParseComparison parses a consistency expression of the form
// "<field> <op> <field>".
func ParseComparison(expr string) (Comparison, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return Comparison{}, eris.Errorf("quality: consistency %q: want \"field op field\"", expr)
	}
	c := Comparison{Left: parts[0], Op: parts[1], Right: parts[2]}
	if !identRe.MatchString(c.Left) || !identRe.MatchString(c.Right) {
		return Comparison{}, eris.Errorf("quality: consistency %q: invalid field name", expr)
	}
	if !comparisonOps[c.Op] {
		return Comparison{}, eris.Errorf("quality: consistency %q: unsupported operator %q", expr, c.Op)
	}
	return c, nil
}

// Reference is a parsed "table.field" foreign key target.
type Reference struct {
	Table string
	Field string
}

// ParseReference parses a referential integrity target.
func ParseReference(ref string) (Reference, error) {
	table, field, ok := strings.Cut(ref, ".")
	if !ok || !identRe.MatchString(table) || !identRe.MatchString(field) {
		return Reference{}, eris.Errorf("quality: invalid reference %q: want table.field", ref)
	}
	return Reference{Table: table, Field: field}, nil
}

// LoadRules reads rules from path, or the embedded defaults when path is
// empty. Invalid rules are a configuration error.
func LoadRules(path string) (*RuleSet, error) {
	data := defaultRules
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(config.ErrConfiguration, "quality: read rules %s: %v", path, err)
		}
		data = b
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule set.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, eris.Wrapf(config.ErrConfiguration, "quality: parse rules: %v", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, eris.Wrapf(config.ErrConfiguration, "%v", err)
	}
	return &rs, nil
}

// Validate checks identifiers, thresholds and expressions.
func (rs *RuleSet) Validate() error {
	if len(rs.Tables) == 0 {
		return eris.New("quality: no tables declared")
	}
	for _, table := range rs.TableNames() {
		if !identRe.MatchString(table) {
			return eris.Errorf("quality: invalid table name %q", table)
		}
		if err := rs.Tables[table].validate(); err != nil {
			return eris.Wrapf(err, "quality: table %s", table)
		}
	}
	return nil
}

func (r TableRules) validate() error {
	if c := r.Completeness; c != nil {
		if len(c.RequiredFields) == 0 {
			return eris.New("completeness: no required fields")
		}
		if c.Threshold <= 0 || c.Threshold > 1 {
			return eris.Errorf("completeness: threshold %v not in (0, 1]", c.Threshold)
		}
		if err := checkIdents(c.RequiredFields); err != nil {
			return eris.Wrap(err, "completeness")
		}
	}
	for field, rr := range r.Validity {
		if !identRe.MatchString(field) {
			return eris.Errorf("validity: invalid field %q", field)
		}
		if rr.Min == nil && rr.Max == nil && rr.MaxYearsAhead == nil {
			return eris.Errorf("validity: %s has no bounds", field)
		}
	}
	for _, expr := range r.Consistency {
		if _, err := ParseComparison(expr); err != nil {
			return err
		}
	}
	if u := r.Uniqueness; u != nil {
		if len(u.Fields) == 0 {
			return eris.New("uniqueness: no fields")
		}
		if err := checkIdents(u.Fields); err != nil {
			return eris.Wrap(err, "uniqueness")
		}
	}
	for field, ref := range r.ReferentialIntegrity {
		if !identRe.MatchString(field) {
			return eris.Errorf("referential_integrity: invalid field %q", field)
		}
		if _, err := ParseReference(ref); err != nil {
			return err
		}
	}
	return nil
}

func checkIdents(fields []string) error {
	for _, f := range fields {
		if !identRe.MatchString(f) {
			return eris.Errorf("invalid field %q", f)
		}
	}
	return nil
}

// TableNames returns the declared tables in sorted order.
func (rs *RuleSet) TableNames() []string {
	names := make([]string, 0, len(rs.Tables))
	for name := range rs.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
