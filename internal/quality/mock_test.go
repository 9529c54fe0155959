package quality

import (
	"context"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/alert"
)

type memorySink struct {
	results []*Result
	err     error
}

func (m *memorySink) Append(_ context.Context, r *Result) error {
	if m.err != nil {
		return m.err
	}
	m.results = append(m.results, r)
	return nil
}

type recordingNotifier struct {
	alerts []alert.Alert
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, a alert.Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}
