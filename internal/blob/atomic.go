package blob

import (
	"context"
	"path"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AtomicWriter publishes objects so a reader of the final key sees either
// nothing or the complete payload: the bytes land under a temporary key,
// are copied to the final key, and the temporary object is removed.
type AtomicWriter struct {
	store     Store
	tmpPrefix string
}

// NewAtomicWriter returns a writer staging objects under tmpPrefix.
func NewAtomicWriter(store Store, tmpPrefix string) *AtomicWriter {
	if tmpPrefix == "" {
		tmpPrefix = "_tmp/"
	}
	return &AtomicWriter{store: store, tmpPrefix: tmpPrefix}
}

// Write stores data at bucket/key via a temporary object. A failed cleanup
// of the temporary object is logged, not returned, since the final key is
// already complete.
func (w *AtomicWriter) Write(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	tmpKey := w.tmpPrefix + uuid.NewString() + "-" + path.Base(key)

	if err := w.store.Put(ctx, bucket, tmpKey, data, contentType); err != nil {
		return eris.Wrapf(err, "blob: stage %s", key)
	}
	if err := w.store.Copy(ctx, bucket, tmpKey, key); err != nil {
		// Best effort; the final key was never touched.
		_ = w.store.Delete(ctx, bucket, tmpKey)
		return eris.Wrapf(err, "blob: publish %s", key)
	}
	if err := w.store.Delete(ctx, bucket, tmpKey); err != nil {
		zap.L().Warn("blob: temp object not removed",
			zap.String("bucket", bucket),
			zap.String("tmp_key", tmpKey),
			zap.Error(err),
		)
	}
	return nil
}
