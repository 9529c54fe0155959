package extract

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/statestore"
)

// mockFetcher returns canned records or errors by id.
type mockFetcher struct {
	games map[int64]*model.RawGame
	errs  map[int64]error
	calls []int64
}

func (m *mockFetcher) Thing(_ context.Context, id int64) (*model.RawGame, error) {
	m.calls = append(m.calls, id)
	if err, ok := m.errs[id]; ok {
		return nil, err
	}
	if g, ok := m.games[id]; ok {
		return g, nil
	}
	return nil, errors.New("not configured")
}

// spyStore records every Put before delegating.
type spyStore struct {
	statestore.Store
	mu     sync.Mutex
	puts   []model.ItemState
	putErr error
}

func (s *spyStore) Put(ctx context.Context, rec model.ItemState) error {
	s.mu.Lock()
	s.puts = append(s.puts, rec)
	s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	return s.Store.Put(ctx, rec)
}

func (s *spyStore) statuses(id int64) []model.Status {
	var out []model.Status
	for _, p := range s.puts {
		if p.ID == model.ItemKey(id) {
			out = append(out, p.Status)
		}
	}
	return out
}

func newSpyStore(t *testing.T) *spyStore {
	t.Helper()
	st, err := statestore.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return &spyStore{Store: st}
}

// failingWriter fails every write.
type failingWriter struct{ err error }

func (f failingWriter) Write(context.Context, string, string, []byte, string) error { return f.err }
