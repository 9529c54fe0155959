package discovery

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/blob"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
)

// ReadDescriptor loads the batch descriptor stored at key.
func ReadDescriptor(ctx context.Context, s blob.Store, bucket, key string) (*model.BatchDescriptor, error) {
	data, err := s.Get(ctx, bucket, key)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: read descriptor %s", key)
	}
	var d model.BatchDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, eris.Wrapf(err, "discovery: decode descriptor %s", key)
	}
	return &d, nil
}

// LatestDescriptor returns the newest batch descriptor and its key. It
// returns blob.ErrNotFound when no discovery run has written one.
func LatestDescriptor(ctx context.Context, s blob.Store, bucket string) (*model.BatchDescriptor, string, error) {
	key, ok, err := blob.LatestKey(ctx, s, bucket, blob.DescriptorPrefix)
	if err != nil {
		return nil, "", eris.Wrap(err, "discovery: list descriptors")
	}
	if !ok {
		return nil, "", eris.Wrap(blob.ErrNotFound, "discovery: no descriptor")
	}
	d, err := ReadDescriptor(ctx, s, bucket, key)
	if err != nil {
		return nil, "", err
	}
	return d, key, nil
}
