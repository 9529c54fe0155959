package discovery

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/statestore"
)

// mockCatalog implements Catalog for testing.
type mockCatalog struct {
	hot      []int64
	hotErr   error
	exists   map[int64]bool
	existErr error
	batches  [][]int64
}

func (m *mockCatalog) Hot(_ context.Context, limit int) ([]int64, error) {
	if m.hotErr != nil {
		return nil, m.hotErr
	}
	if len(m.hot) > limit {
		return m.hot[:limit], nil
	}
	return m.hot, nil
}

func (m *mockCatalog) Existing(_ context.Context, ids []int64) ([]int64, error) {
	m.batches = append(m.batches, append([]int64(nil), ids...))
	if m.existErr != nil {
		return nil, m.existErr
	}
	var out []int64
	for _, id := range ids {
		if m.exists[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// errStore fails every call with err.
type errStore struct {
	statestore.Store
	err error
}

func (s *errStore) Get(context.Context, statestore.Key) (*model.ItemState, error) {
	return nil, s.err
}

func newStateStore(t *testing.T) statestore.Store {
	t.Helper()
	st, err := statestore.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func putState(t *testing.T, st statestore.Store, id int64, status model.Status, attempt, updated time.Time) {
	t.Helper()
	require.NoError(t, st.Put(context.Background(), model.ItemState{
		ID:          model.ItemKey(id),
		Sort:        model.SortKey(attempt),
		Status:      status,
		LastUpdated: updated,
		ExpiresAt:   updated.AddDate(0, 6, 0),
	}))
}
