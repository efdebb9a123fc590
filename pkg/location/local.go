package location

import (
	"context"

	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/wire"
)

// LocalClient adapts a same-process Service into the shape
// pkg/session.MetadataClient expects, attributing every Post to self
// the way pkg/rpc's server-side handler attributes a POST_REQ to its
// sender. Used by the rank that hosts the Service (global or per-node),
// whose sessions talk to it directly instead of over pkg/rpc.
type LocalClient struct {
	svc  *Service
	self addr.Address
}

// NewLocalClient returns a LocalClient posting as self against svc.
func NewLocalClient(svc *Service, self addr.Address) *LocalClient {
	return &LocalClient{svc: svc, self: self}
}

// Post implements session.MetadataClient.
func (c *LocalClient) Post(ctx context.Context, file string, offset, count uint64) error {
	return c.svc.Post(ctx, c.self, file, offset, count)
}

// PostAll implements session.MetadataClient by posting every interval
// in turn; Service has no bulk form since nothing else in-process needs
// one.
func (c *LocalClient) PostAll(ctx context.Context, file string, extents []wire.Interval) error {
	for _, iv := range extents {
		if err := c.svc.Post(ctx, c.self, file, iv.Offset, iv.Count); err != nil {
			return err
		}
	}
	return nil
}

// Query implements session.MetadataClient.
func (c *LocalClient) Query(ctx context.Context, file string, offset, count uint64) ([]Owner, error) {
	return c.svc.Query(ctx, file, offset, count)
}

// Stat implements session.MetadataClient.
func (c *LocalClient) Stat(ctx context.Context, file string) (uint64, bool, error) {
	size, ok := c.svc.Stat(ctx, file)
	return size, ok, nil
}
