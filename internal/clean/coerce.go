package clean

import (
	"strings"

	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// record wraps one decoded raw record and counts fields that fail coercion.
// A failed field is nil in the output; the record is kept.
type record struct {
	fields   map[string]any
	failures int
	itemID   int64
}

// present reports whether field holds a value worth coercing. JSON null
// and blank strings are absent.
func (r *record) present(field string) (any, bool) {
	v, ok := r.fields[field]
	if !ok || v == nil {
		return nil, false
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return v, true
}

func (r *record) fail(field string, v any, err error) {
	r.failures++
	zap.L().Debug("clean: coercion failed",
		zap.Int64("item_id", r.itemID),
		zap.String("field", field),
		zap.Any("value", v),
		zap.Error(err),
	)
}

func (r *record) int32(field string) *int32 {
	v, ok := r.present(field)
	if !ok {
		return nil
	}
	n, err := cast.ToInt32E(v)
	if err != nil {
		r.fail(field, v, err)
		return nil
	}
	return &n
}

func (r *record) float64(field string) *float64 {
	v, ok := r.present(field)
	if !ok {
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		r.fail(field, v, err)
		return nil
	}
	return &f
}

func (r *record) string(field string) string {
	v, ok := r.present(field)
	if !ok {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		r.fail(field, v, err)
		return ""
	}
	return s
}

// firstInt32 returns the first of fields that is present and non-zero,
// falling back to the last present value.
func (r *record) firstInt32(fields ...string) *int32 {
	var last *int32
	for _, f := range fields {
		if v := r.int32(f); v != nil {
			if *v != 0 {
				return v
			}
			last = v
		}
	}
	return last
}
