// Package columnar encodes table rows as Parquet and reads or merges
// partitioned tables held in blob storage.
package columnar

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/blob"
)

// readConcurrency bounds parallel partition reads.
const readConcurrency = 4

// Encode writes rows as a snappy-compressed Parquet file.
func Encode[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows, parquet.Compression(&parquet.Snappy)); err != nil {
		return nil, eris.Wrap(err, "columnar: encode")
	}
	return buf.Bytes(), nil
}

// Decode reads every row of a Parquet file.
func Decode[T any](data []byte) ([]T, error) {
	rows, err := parquet.Read[T](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "columnar: decode")
	}
	return rows, nil
}

// Partition is the rows of one file.
type Partition[T any] struct {
	Key  string
	Rows []T
}

// ReadTable reads every Parquet file under prefix. Partitions come back in
// key order.
func ReadTable[T any](ctx context.Context, store blob.Store, bucket, prefix string) ([]Partition[T], error) {
	objs, err := store.List(ctx, bucket, prefix)
	if err != nil {
		return nil, eris.Wrapf(err, "columnar: list %s", prefix)
	}

	var keys []string
	for _, o := range objs {
		if strings.HasSuffix(o.Key, ".parquet") {
			keys = append(keys, o.Key)
		}
	}

	parts := make([]Partition[T], len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			data, err := store.Get(gctx, bucket, key)
			if err != nil {
				return err
			}
			rows, err := Decode[T](data)
			if err != nil {
				return eris.Wrapf(err, "columnar: read %s", key)
			}
			parts[i] = Partition[T]{Key: key, Rows: rows}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

// ReadAll flattens ReadTable.
func ReadAll[T any](ctx context.Context, store blob.Store, bucket, prefix string) ([]T, error) {
	parts, err := ReadTable[T](ctx, store, bucket, prefix)
	if err != nil {
		return nil, err
	}
	var out []T
	for _, p := range parts {
		out = append(out, p.Rows...)
	}
	return out, nil
}

// ReadFile reads one file; a missing file yields no rows.
func ReadFile[T any](ctx context.Context, store blob.Store, bucket, key string) ([]T, error) {
	data, err := store.Get(ctx, bucket, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Decode[T](data)
}

// Merge drops the existing rows that replaced reports as superseded, adds
// incoming, and sorts the result with less.
func Merge[T any](existing, incoming []T, replaced func(T) bool, less func(a, b T) bool) []T {
	out := make([]T, 0, len(existing)+len(incoming))
	for _, r := range existing {
		if !replaced(r) {
			out = append(out, r)
		}
	}
	out = append(out, incoming...)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// MergeWrite merges incoming into the file at key and publishes the result
// through the atomic writer. It returns the number of rows written.
func MergeWrite[T any](ctx context.Context, store blob.Store, w *blob.AtomicWriter, bucket, key string,
	incoming []T, replaced func(T) bool, less func(a, b T) bool) (int, error) {
	existing, err := ReadFile[T](ctx, store, bucket, key)
	if err != nil {
		return 0, eris.Wrapf(err, "columnar: read existing %s", key)
	}
	merged := Merge(existing, incoming, replaced, less)

	data, err := Encode(merged)
	if err != nil {
		return 0, err
	}
	if err := w.Write(ctx, bucket, key, data, blob.ContentTypeParquet); err != nil {
		return 0, err
	}
	return len(merged), nil
}

// MergeTable applies one run to every partition under prefix. Rows that
// replaced reports are removed from all existing partitions, incoming rows
// (keyed by partition) are added to theirs, and each partition that gains
// or loses rows is rewritten. A partition left with no rows is written
// empty so the table keeps its files. It returns the keys written, sorted.
func MergeTable[T any](ctx context.Context, store blob.Store, w *blob.AtomicWriter, bucket, prefix string,
	incoming map[string][]T, replaced func(T) bool, less func(a, b T) bool) ([]string, error) {
	parts, err := ReadTable[T](ctx, store, bucket, prefix)
	if err != nil {
		return nil, eris.Wrapf(err, "columnar: read existing %s", prefix)
	}

	existing := make(map[string][]T, len(parts))
	for _, p := range parts {
		existing[p.Key] = p.Rows
	}
	keys := make([]string, 0, len(existing)+len(incoming))
	for k := range existing {
		keys = append(keys, k)
	}
	for k := range incoming {
		if _, ok := existing[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var written []string
	for _, key := range keys {
		rows, in := existing[key], incoming[key]
		merged := Merge(rows, in, replaced, less)
		if len(in) == 0 && len(merged) == len(rows) {
			continue
		}

		data, err := Encode(merged)
		if err != nil {
			return nil, err
		}
		if err := w.Write(ctx, bucket, key, data, blob.ContentTypeParquet); err != nil {
			return nil, eris.Wrapf(err, "columnar: write %s", key)
		}
		written = append(written, key)
	}
	return written, nil
}
