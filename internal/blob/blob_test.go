package blob

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingCopy fails every Copy call, simulating a crash between the
// temporary write and publication.
type failingCopy struct {
	*Memory
}

func (f *failingCopy) Copy(context.Context, string, string, string) error {
	return errors.New("copy: connection reset")
}

// failingDelete publishes fine but cannot remove temp objects.
type failingDelete struct {
	*Memory
}

func (f *failingDelete) Delete(context.Context, string, string) error {
	return errors.New("delete: access denied")
}

func TestMemory_PutGetExists(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, "bronze", "a/b.json", []byte("{}"), ContentTypeJSON))

	got, err := m.Get(ctx, "bronze", "a/b.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))

	ok, err := m.Exists(ctx, "bronze", "a/b.json")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Exists(ctx, "silver", "a/b.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_GetMissing(t *testing.T) {
	_, err := NewMemory().Get(context.Background(), "bronze", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ListSortedByKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, k := range []string{"t/year=2001/data.parquet", "t/year=1999/data.parquet", "u/data.parquet"} {
		require.NoError(t, m.Put(ctx, "silver", k, []byte("x"), ContentTypeParquet))
	}

	objs, err := m.List(ctx, "silver", "t/")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "t/year=1999/data.parquet", objs[0].Key)
	assert.Equal(t, int64(1), objs[0].Size)
}

func TestAtomicWriter_Success(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w := NewAtomicWriter(m, "_tmp/")

	require.NoError(t, w.Write(ctx, "silver", "dim_game/year=1995/data.parquet", []byte("payload"), ContentTypeParquet))

	got, err := m.Get(ctx, "silver", "dim_game/year=1995/data.parquet")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	tmp, err := m.List(ctx, "silver", "_tmp/")
	require.NoError(t, err)
	assert.Empty(t, tmp)
}

func TestAtomicWriter_FailureBeforeCopyLeavesFinalKeyAbsent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w := NewAtomicWriter(&failingCopy{Memory: m}, "_tmp/")

	err := w.Write(ctx, "silver", "dim_game/year=1995/data.parquet", []byte("payload"), ContentTypeParquet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish")

	ok, err := m.Exists(ctx, "silver", "dim_game/year=1995/data.parquet")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAtomicWriter_FailureBeforeCopyKeepsPreviousVersion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, "silver", "k/data.parquet", []byte("old-complete"), ContentTypeParquet))
	w := NewAtomicWriter(&failingCopy{Memory: m}, "_tmp/")

	require.Error(t, w.Write(ctx, "silver", "k/data.parquet", []byte("new"), ContentTypeParquet))

	got, err := m.Get(ctx, "silver", "k/data.parquet")
	require.NoError(t, err)
	assert.Equal(t, "old-complete", string(got))
}

func TestAtomicWriter_TempCleanupFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w := NewAtomicWriter(&failingDelete{Memory: m}, "")

	require.NoError(t, w.Write(ctx, "gold", "fct/data.parquet", []byte("x"), ContentTypeParquet))

	tmp, err := m.List(ctx, "gold", "_tmp/")
	require.NoError(t, err)
	require.Len(t, tmp, 1)
	assert.True(t, strings.HasSuffix(tmp[0].Key, "-data.parquet"))
}

func TestKeys(t *testing.T) {
	day := time.Date(2026, 10, 16, 23, 59, 0, 0, time.UTC)

	assert.Equal(t, "raw/year=2026/date=2026-10-16/item_13.json", RawKey(day, 13))
	assert.Equal(t, "raw/year=2026/date=2026-10-16/", RawDatePrefix(day))
	assert.Equal(t, "dim_game/year=0/data.parquet", YearPartitionKey("dim_game", 0))
	assert.Equal(t, "fct_user_rating/extraction_date=2026-10-16/data.parquet", DatePartitionKey("fct_user_rating", "2026-10-16"))
	assert.Equal(t, "dim_category/data.parquet", TableKey("dim_category"))
	assert.Equal(t, "game_ids/discovered_20261016_235900_000000.json", DescriptorKey(day))
	assert.Equal(t, "game_ids/discovered_20261016_235900_250000.json", DescriptorKey(day.Add(250*time.Millisecond)))
	assert.NotEqual(t, DescriptorKey(day), DescriptorKey(day.Add(time.Microsecond)))
}

func TestPartitionYear(t *testing.T) {
	y, ok := PartitionYear("br_game_category/year=1995/data.parquet")
	assert.True(t, ok)
	assert.Equal(t, 1995, y)

	_, ok = PartitionYear("dim_category/data.parquet")
	assert.False(t, ok)

	_, ok = PartitionYear("t/year=abc/data.parquet")
	assert.False(t, ok)
}

func TestLatestKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := LatestKey(ctx, m, "bronze", DescriptorPrefix)
	require.NoError(t, err)
	assert.False(t, ok)

	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.Put(ctx, "bronze", DescriptorKey(older.Add(24*time.Hour)), []byte("{}"), ContentTypeJSON))
	require.NoError(t, m.Put(ctx, "bronze", DescriptorKey(older), []byte("{}"), ContentTypeJSON))

	key, ok, err := LatestKey(ctx, m, "bronze", DescriptorPrefix)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "game_ids/discovered_20260102_000000_000000.json", key)
}
