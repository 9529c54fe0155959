package quality

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/alert"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/db"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/metrics"
)

// Verdicts.
const (
	StatusPassed = "PASSED"
	StatusFailed = "FAILED"
)

// ErrNoRules is returned when a table has no declared rules.
var ErrNoRules = eris.New("quality: no rules declared for table")

// CheckResult is the outcome of one sub-check: one field, one expression
// or one key set.
type CheckResult struct {
	Passed     bool     `json:"passed"`
	Total      int64    `json:"total_count"`
	Violations int64    `json:"violation_count"`
	Ratio      *float64 `json:"ratio,omitempty"`
	Threshold  *float64 `json:"threshold,omitempty"`
	Detail     string   `json:"detail,omitempty"`
}

// CategoryResult groups the sub-checks of one rule category. It passes
// only when every sub-check passes.
type CategoryResult struct {
	Passed  bool                   `json:"passed"`
	Results map[string]CheckResult `json:"results"`
}

// Result is one evaluation run of one table. It is appended to the result
// store and never updated.
type Result struct {
	CheckID       string                     `json:"check_id"`
	TableName     string                     `json:"table_name"`
	Timestamp     time.Time                  `json:"timestamp"`
	Checks        map[string]*CategoryResult `json:"checks"`
	OverallStatus string                     `json:"overall_status"`
}

// Passed reports whether the verdict is PASSED.
func (r *Result) Passed() bool { return r.OverallStatus == StatusPassed }

// FailedCategories lists the failed rule categories in evaluation order.
func (r *Result) FailedCategories() []string {
	var failed []string
	for _, cat := range categoryOrder {
		if c, ok := r.Checks[cat]; ok && !c.Passed {
			failed = append(failed, cat)
		}
	}
	return failed
}

var categoryOrder = []string{
	CategoryCompleteness, CategoryValidity, CategoryConsistency, CategoryUniqueness, CategoryReferential,
}

// ResultStore persists evaluation results.
type ResultStore interface {
	Append(ctx context.Context, r *Result) error
}

// Engine evaluates rules against warehouse tables.
type Engine struct {
	pool     db.Pool
	schema   string
	rules    *RuleSet
	sink     ResultStore
	notifier alert.Notifier
	now      func() time.Time
	newID    func() string
	log      *zap.Logger
}

// NewEngine creates an Engine. notifier may be nil.
func NewEngine(pool db.Pool, schema string, rules *RuleSet, sink ResultStore, notifier alert.Notifier) *Engine {
	if notifier == nil {
		notifier = alert.Nop{}
	}
	return &Engine{
		pool:     pool,
		schema:   schema,
		rules:    rules,
		sink:     sink,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		log:      zap.L().With(zap.String("component", "quality.engine")),
	}
}

// Tables returns the tables with declared rules.
func (e *Engine) Tables() []string { return e.rules.TableNames() }

// Run evaluates every rule declared for table, appends the result and
// sends one alert on a FAILED verdict. A failed verdict is not an error.
func (e *Engine) Run(ctx context.Context, table string) (*Result, error) {
	rules, ok := e.rules.Tables[table]
	if !ok {
		return nil, eris.Wrapf(ErrNoRules, "quality: table %s", table)
	}

	res := &Result{
		CheckID:   e.newID(),
		TableName: table,
		Timestamp: e.now(),
		Checks:    make(map[string]*CategoryResult),
	}
	log := e.log.With(zap.String("table", table), zap.String("check_id", res.CheckID))
	ident := pgx.Identifier{e.schema, table}

	if c := rules.Completeness; c != nil {
		cat, err := e.checkCompleteness(ctx, ident, c)
		if err != nil {
			return nil, err
		}
		res.Checks[CategoryCompleteness] = cat
	}
	if len(rules.Validity) > 0 {
		cat, err := e.checkValidity(ctx, ident, rules.Validity, res.Timestamp)
		if err != nil {
			return nil, err
		}
		res.Checks[CategoryValidity] = cat
	}
	if len(rules.Consistency) > 0 {
		cat, err := e.checkConsistency(ctx, ident, rules.Consistency)
		if err != nil {
			return nil, err
		}
		res.Checks[CategoryConsistency] = cat
	}
	if u := rules.Uniqueness; u != nil {
		cat, err := e.checkUniqueness(ctx, ident, u)
		if err != nil {
			return nil, err
		}
		res.Checks[CategoryUniqueness] = cat
	}
	if len(rules.ReferentialIntegrity) > 0 {
		cat, err := e.checkReferential(ctx, ident, rules.ReferentialIntegrity)
		if err != nil {
			return nil, err
		}
		res.Checks[CategoryReferential] = cat
	}

	res.OverallStatus = Verdict(res.Checks)
	metrics.QualityVerdicts.WithLabelValues(table, res.OverallStatus).Inc()

	if err := e.sink.Append(ctx, res); err != nil {
		return nil, err
	}

	if !res.Passed() {
		log.Warn("quality check failed", zap.Strings("failed_checks", res.FailedCategories()))
		if err := e.notifier.Notify(ctx, FailureAlert(res)); err != nil {
			log.Error("quality: failed to send alert", zap.Error(err))
		}
	} else {
		log.Info("quality check passed")
	}
	return res, nil
}

// RunAll evaluates every declared table in name order.
func (e *Engine) RunAll(ctx context.Context) ([]*Result, error) {
	var out []*Result
	for _, table := range e.Tables() {
		res, err := e.Run(ctx, table)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Verdict is PASSED only when every sub-check of every category passed.
func Verdict(checks map[string]*CategoryResult) string {
	for _, c := range checks {
		if !c.Passed {
			return StatusFailed
		}
		for _, r := range c.Results {
			if !r.Passed {
				return StatusFailed
			}
		}
	}
	return StatusPassed
}

// FailureAlert builds the single alert sent for a failed run.
func FailureAlert(r *Result) alert.Alert {
	failed := r.FailedCategories()
	return alert.Alert{
		Type:     alert.TypeQualityFailed,
		Severity: "high",
		Subject:  fmt.Sprintf("Data Quality Alert: %s FAILED", r.TableName),
		Message: fmt.Sprintf("Data quality check FAILED for %s (check %s). Failed checks: %s",
			r.TableName, r.CheckID, strings.Join(failed, ", ")),
		Details: map[string]any{
			"check_id":      r.CheckID,
			"table_name":    r.TableName,
			"failed_checks": failed,
		},
		Timestamp: r.Timestamp,
	}
}

func category(results map[string]CheckResult) *CategoryResult {
	c := &CategoryResult{Passed: true, Results: results}
	for _, r := range results {
		if !r.Passed {
			c.Passed = false
		}
	}
	return c
}

func (e *Engine) checkCompleteness(ctx context.Context, table pgx.Identifier, rule *CompletenessRule) (*CategoryResult, error) {
	var total int64
	nulls := make([]int64, len(rule.RequiredFields))
	dest := make([]any, 0, len(nulls)+1)
	dest = append(dest, &total)
	for i := range nulls {
		dest = append(dest, &nulls[i])
	}
	if err := e.pool.QueryRow(ctx, completenessSQL(table, rule.RequiredFields)).Scan(dest...); err != nil {
		return nil, eris.Wrapf(err, "quality: completeness query on %s", table.Sanitize())
	}

	threshold := rule.Threshold
	results := make(map[string]CheckResult, len(rule.RequiredFields))
	for i, field := range rule.RequiredFields {
		ratio := 0.0
		if total > 0 {
			ratio = float64(total-nulls[i]) / float64(total)
		}
		results[field] = CheckResult{
			Passed:     ratio >= threshold,
			Total:      total,
			Violations: nulls[i],
			Ratio:      &ratio,
			Threshold:  &threshold,
		}
	}
	return category(results), nil
}

func (e *Engine) checkValidity(ctx context.Context, table pgx.Identifier, rules map[string]RangeRule, now time.Time) (*CategoryResult, error) {
	results := make(map[string]CheckResult, len(rules))
	for _, field := range sortedKeys(rules) {
		lo, hi := rules[field].bounds(now)
		var total, invalid int64
		if err := e.pool.QueryRow(ctx, validitySQL(table, field, lo, hi)).Scan(&total, &invalid); err != nil {
			return nil, eris.Wrapf(err, "quality: validity query on %s.%s", table.Sanitize(), field)
		}
		rate := 1.0
		if total > 0 {
			rate = float64(total-invalid) / float64(total)
		}
		results[field] = CheckResult{
			Passed:     invalid == 0,
			Total:      total,
			Violations: invalid,
			Ratio:      &rate,
			Detail:     describeRange(lo, hi),
		}
	}
	return category(results), nil
}

func describeRange(lo, hi *float64) string {
	l, h := "-inf", "+inf"
	if lo != nil {
		l = formatBound(*lo)
	}
	if hi != nil {
		h = formatBound(*hi)
	}
	return "[" + l + ", " + h + "]"
}

func (e *Engine) checkConsistency(ctx context.Context, table pgx.Identifier, rules map[string]string) (*CategoryResult, error) {
	results := make(map[string]CheckResult, len(rules))
	for _, name := range sortedKeys(rules) {
		cmp, err := ParseComparison(rules[name])
		if err != nil {
			return nil, err
		}
		var total, inconsistent int64
		if err := e.pool.QueryRow(ctx, consistencySQL(table, cmp)).Scan(&total, &inconsistent); err != nil {
			return nil, eris.Wrapf(err, "quality: consistency query %s on %s", name, table.Sanitize())
		}
		results[name] = CheckResult{
			Passed:     inconsistent == 0,
			Total:      total,
			Violations: inconsistent,
			Detail:     rules[name],
		}
	}
	return category(results), nil
}

func (e *Engine) checkUniqueness(ctx context.Context, table pgx.Identifier, rule *UniquenessRule) (*CategoryResult, error) {
	var total, dups int64
	if err := e.pool.QueryRow(ctx, uniquenessSQL(table, rule.Fields)).Scan(&total, &dups); err != nil {
		return nil, eris.Wrapf(err, "quality: uniqueness query on %s", table.Sanitize())
	}
	key := strings.Join(rule.Fields, ",")
	return category(map[string]CheckResult{
		key: {Passed: dups == 0, Total: total, Violations: dups, Detail: "duplicate key groups"},
	}), nil
}

func (e *Engine) checkReferential(ctx context.Context, table pgx.Identifier, rules map[string]string) (*CategoryResult, error) {
	results := make(map[string]CheckResult, len(rules))
	for _, field := range sortedKeys(rules) {
		ref, err := ParseReference(rules[field])
		if err != nil {
			return nil, err
		}
		var total, orphans int64
		refIdent := pgx.Identifier{e.schema, ref.Table}
		if err := e.pool.QueryRow(ctx, referentialSQL(table, refIdent, field, ref.Field)).Scan(&total, &orphans); err != nil {
			return nil, eris.Wrapf(err, "quality: referential query %s on %s", field, table.Sanitize())
		}
		results[field] = CheckResult{
			Passed:     orphans == 0,
			Total:      total,
			Violations: orphans,
			Detail:     rules[field],
		}
	}
	return category(results), nil
}
