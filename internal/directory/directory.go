// Package directory caches the mapping from collection names to remote
// collection ids, amortizing list calls across a reconciliation pass.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kberrors "github.com/alexjbarnes/kbsync/internal/errors"
	"github.com/alexjbarnes/kbsync/internal/remote"
)

// DefaultTTL is how long a cache refresh stays valid. Long enough that a
// single pass never re-lists, short enough to pick up collections created
// by other clients.
const DefaultTTL = 5 * time.Minute

// Directory is a time-bounded cache of collection name -> remote id.
// A miss or a stale cache triggers one ListCollections call that
// repopulates every entry, so resolving N names costs one remote call.
// Safe for concurrent use.
type Directory struct {
	store  remote.Store
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu          sync.Mutex
	ids         map[string]string
	refreshedAt time.Time
}

// New creates a directory with the default TTL and wall clock.
func New(store remote.Store, logger *slog.Logger) *Directory {
	return NewWithClock(store, logger, DefaultTTL, time.Now)
}

// NewWithClock creates a directory with an explicit TTL and clock.
// Tests inject a fake clock to exercise expiry deterministically.
func NewWithClock(store remote.Store, logger *slog.Logger, ttl time.Duration, now func() time.Time) *Directory {
	return &Directory{
		store:  store,
		logger: logger,
		ttl:    ttl,
		now:    now,
		ids:    make(map[string]string),
	}
}

// Resolve returns the remote id for a collection name. On a cache miss or
// a stale cache it performs one list call and answers from the refreshed
// cache. ok is false when the collection does not exist remotely.
func (d *Directory) Resolve(ctx context.Context, name string) (id string, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureFreshLocked(ctx); err != nil {
		return "", false, err
	}

	id, ok = d.ids[name]

	return id, ok, nil
}

// GetOrCreate resolves a collection name, creating the collection remotely
// when it does not exist. A create racing another client's create falls
// back to a fresh resolve.
func (d *Directory) GetOrCreate(ctx context.Context, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureFreshLocked(ctx); err != nil {
		return "", err
	}

	if id, ok := d.ids[name]; ok {
		return id, nil
	}

	id, err := d.store.CreateCollection(ctx, name)
	if err != nil {
		if !kberrors.Is(err, kberrors.ErrAlreadyExists) {
			return "", fmt.Errorf("creating collection %q: %w", name, err)
		}

		// Another client created it between our list and create.
		d.logger.Debug("collection created concurrently, re-resolving", slog.String("name", name))

		if err := d.refreshLocked(ctx); err != nil {
			return "", err
		}

		id, ok := d.ids[name]
		if !ok {
			return "", fmt.Errorf("collection %q reported existing but not listed: %w", name, kberrors.ErrNotFound)
		}

		return id, nil
	}

	d.ids[name] = id
	d.logger.Info("created collection", slog.String("name", name), slog.String("id", id))

	return id, nil
}

// Invalidate forces the next resolve to re-list, regardless of TTL.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.refreshedAt = time.Time{}
}

// ensureFreshLocked refreshes the cache when it has never been populated
// or its refresh timestamp is older than the TTL.
func (d *Directory) ensureFreshLocked(ctx context.Context) error {
	if !d.refreshedAt.IsZero() && d.now().Sub(d.refreshedAt) < d.ttl {
		return nil
	}

	return d.refreshLocked(ctx)
}

// refreshLocked repopulates the whole cache from one list call.
func (d *Directory) refreshLocked(ctx context.Context) error {
	cols, err := d.store.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("refreshing collection directory: %w", err)
	}

	ids := make(map[string]string, len(cols))
	for _, c := range cols {
		ids[c.Name] = c.ID
	}

	d.ids = ids
	d.refreshedAt = d.now()

	d.logger.Debug("collection directory refreshed", slog.Int("collections", len(ids)))

	return nil
}
