// internal/devices/catalog.go
package devices

import (
	"context"
	"fmt"
	"sync"
	"time"

	"qjob/internal/auth"
	"qjob/pkg/logger"
	"qjob/pkg/transport"
)

// Catalog fetches and caches the remote machine list. Metadata is
// cached for the configured TTL with an explicit invalidation hook;
// device capabilities change rarely.
type Catalog struct {
	api  *transport.Client
	auth *auth.Authenticator
	log  logger.Sugared
	ttl  time.Duration

	mu       sync.RWMutex
	entries  []Descriptor
	loadedAt time.Time
}

func NewCatalog(api *transport.Client, authn *auth.Authenticator, ttl time.Duration, log logger.Sugared) *Catalog {
	if log == nil {
		log = logger.Nop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{api: api, auth: authn, log: log, ttl: ttl}
}

// List returns the device catalog, fetching it when the cache is cold
// or expired. Callers get their own slice; mutating it does not touch
// the cache.
func (c *Catalog) List(ctx context.Context) ([]Descriptor, error) {
	c.mu.RLock()
	if c.entries != nil && time.Since(c.loadedAt) < c.ttl {
		defer c.mu.RUnlock()
		return append([]Descriptor(nil), c.entries...), nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries != nil && time.Since(c.loadedAt) < c.ttl {
		return append([]Descriptor(nil), c.entries...), nil
	}
	tok, err := c.auth.BearerToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.GetJSON(ctx, "/machine/?config=true", tok)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("machine listing failed: status %d", resp.StatusCode)
	}
	var raw []map[string]any
	if err := resp.Decode(&raw); err != nil {
		return nil, err
	}
	entries := make([]Descriptor, 0, len(raw))
	for _, m := range raw {
		entries = append(entries, decodeDescriptor(m))
	}
	c.entries = entries
	c.loadedAt = time.Now()
	c.log.Debugw("machine catalog refreshed", "devices", len(entries))
	return append([]Descriptor(nil), entries...), nil
}

// Invalidate drops the cached catalog so the next List refetches.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// Resolve finds the catalog entry for name. Unknown names are a
// configuration problem, not a remote failure.
func (c *Catalog) Resolve(ctx context.Context, name string) (Descriptor, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return Descriptor{}, err
	}
	for _, d := range entries {
		if d.Name == name {
			return d, nil
		}
	}
	return Descriptor{}, &auth.ConfigurationError{Reason: "unknown device: " + name}
}

// IsFamily reports whether name denotes a class of machines rather
// than one concrete unit, judged by the presence of concrete units
// extending the name in the catalog.
func (c *Catalog) IsFamily(ctx context.Context, name string) (bool, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range entries {
		if isFamilyOf(name, d.Name) {
			return true, nil
		}
	}
	return false, nil
}

// CanBatch decides whether batching parameters are legal for the named
// device: it must resolve to a concrete unit (not a bare family name)
// and its metadata must advertise batching support.
func (c *Catalog) CanBatch(ctx context.Context, name string) (bool, error) {
	d, err := c.Resolve(ctx, name)
	if err != nil {
		return false, err
	}
	family, err := c.IsFamily(ctx, name)
	if err != nil {
		return false, err
	}
	if family {
		return false, nil
	}
	return d.Batching, nil
}
