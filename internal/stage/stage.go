// Package stage exposes each pipeline stage as a function taking a JSON
// request and returning a status code with a JSON body, for the CLI and
// for an external orchestrator over HTTP.
package stage

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/metrics"
)

// Stage names.
const (
	Discover  = "discover"
	Extract   = "extract"
	Clean     = "clean"
	Transform = "transform"
	Load      = "load"
	Quality   = "quality"
)

// ErrBadRequest marks a request the stage cannot act on.
var ErrBadRequest = errors.New("bad request")

// ErrUnknownStage is returned for a stage name with no registered function.
var ErrUnknownStage = eris.New("stage: unknown stage")

// Request is the payload every stage accepts. Each stage reads the fields
// it needs and ignores the rest.
type Request struct {
	// Date selects the extraction day (YYYY-MM-DD) for clean and transform.
	Date string `json:"date,omitempty"`
	// GameIDs lists the items to extract.
	GameIDs []int64 `json:"game_ids,omitempty"`
	// BatchKey names a discovery descriptor to extract; "latest" picks the newest.
	BatchKey string `json:"batch_key,omitempty"`
	// Keys lists raw record keys to clean instead of a whole day.
	Keys []string `json:"keys,omitempty"`
	// Table selects the quality table; empty evaluates every declared table.
	Table string `json:"table_name,omitempty"`
}

// Day parses Date, defaulting to today in UTC.
func (r Request) Day(now time.Time) (time.Time, error) {
	if r.Date == "" {
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		return time.Time{}, BadRequest(eris.Wrapf(err, "stage: invalid date %q", r.Date))
	}
	return day, nil
}

// BadRequest marks err as a client error.
func BadRequest(err error) error {
	return errors.Join(ErrBadRequest, err)
}

// Func runs one stage. The returned value is the response body.
type Func func(ctx context.Context, req Request) (any, error)

// Registry maps stage names to their functions.
type Registry map[string]Func

// Names returns the registered stage names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ErrorBody is the response body of a failed stage.
type ErrorBody struct {
	Error string `json:"error"`
}

// Invoke runs the named stage and maps its outcome to a status code.
// Per-item failures are part of a successful body; only whole-invocation
// errors produce a non-2xx status.
func (r Registry) Invoke(ctx context.Context, name string, req Request) (int, any) {
	fn, ok := r[name]
	if !ok {
		return http.StatusNotFound, ErrorBody{Error: eris.Wrapf(ErrUnknownStage, "stage: %s", name).Error()}
	}

	log := zap.L().With(zap.String("component", "stage"), zap.String("stage", name))
	start := time.Now()
	body, err := fn(ctx, req)
	metrics.StageDuration.WithLabelValues(name, metrics.Result(err)).Observe(time.Since(start).Seconds())

	if err != nil {
		status := StatusFor(err)
		log.Error("stage failed", zap.Int("status", status), zap.Error(err))
		return status, ErrorBody{Error: err.Error()}
	}
	log.Info("stage complete", zap.Duration("elapsed", time.Since(start)))
	return http.StatusOK, body
}

// StatusFor maps a stage error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownStage):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
