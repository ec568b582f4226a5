package switchbot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// refreshTimeout bounds one shared device list call.
const refreshTimeout = 30 * time.Second

// DeviceLister fetches the full device list. Implemented by *Client.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]Device, error)
}

// Resolver maps device names to device ids. Implemented by *Cache.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
	Invalidate(name string)
}

// Compile-time interface guard.
var _ Resolver = (*Cache)(nil)

// Cache is the process-wide device name -> device id map. Entries never
// expire; they are dropped only by Invalidate. A miss refreshes the whole
// map from one list call, so sibling devices resolve without further calls.
type Cache struct {
	lister     DeviceLister
	deviceType string
	logger     *zap.Logger

	mu  sync.RWMutex
	ids map[string]string

	refreshes singleflight.Group
}

// NewCache creates an empty cache that only admits devices of deviceType.
func NewCache(lister DeviceLister, deviceType string, logger *zap.Logger) *Cache {
	return &Cache{
		lister:     lister,
		deviceType: deviceType,
		logger:     logger,
		ids:        make(map[string]string),
	}
}

// Resolve returns the device id for name. A cached id is returned without
// any network call and without a staleness check.
func (c *Cache) Resolve(ctx context.Context, name string) (string, error) {
	if id, ok := c.lookup(name); ok {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return id, nil
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()

	// Concurrent misses share one in-flight list call. The call is detached
	// from any single caller so one cancelled caller does not fail the rest.
	ch := c.refreshes.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return c.refresh(rctx)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return "", res.Err
	}
	if res.Shared {
		c.logger.Debug("joined in-flight device list refresh", zap.String("device", name))
	}

	// Answer from the listing itself; a concurrent Invalidate may already
	// have dropped the map entry.
	if id, ok := res.Val.(map[string]string)[name]; ok {
		return id, nil
	}
	return "", &ResolutionError{Name: name}
}

// Invalidate drops the cached id for name. Absent names are ignored.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	_, ok := c.ids[name]
	delete(c.ids, name)
	c.mu.Unlock()

	if ok {
		c.logger.Debug("device id invalidated", zap.String("device", name))
	}
}

// Seed stores a statically configured id. Empty ids are ignored.
func (c *Cache) Seed(name, id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.ids[name] = id
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

func (c *Cache) lookup(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[name]
	return id, ok
}

// refresh lists all devices and stores every cloud-enabled device of the
// expected type, overwriting existing entries. It returns the admitted
// devices as listed.
func (c *Cache) refresh(ctx context.Context) (map[string]string, error) {
	devices, err := c.lister.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	listed := make(map[string]string, len(devices))
	for i := range devices {
		d := &devices[i]
		if !d.EnableCloudService || d.DeviceType != c.deviceType {
			continue
		}
		listed[d.DeviceName] = d.DeviceID
	}

	c.mu.Lock()
	for name, id := range listed {
		c.ids[name] = id
	}
	c.mu.Unlock()

	c.logger.Debug("device list refreshed",
		zap.Int("devices_listed", len(devices)),
		zap.Int("devices_cached", len(listed)),
	)
	return listed, nil
}
