package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/seantiz/gantry/internal/catalog"
	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/taskerr"
)

// Resolver turns a (gateway, storage resource, group profile) triple into a
// ready adaptor. Open adaptors are pooled per gateway, resource, credential
// token and protocol, and shared between concurrent tasks. It is safe for
// concurrent use.
type Resolver struct {
	registry  catalog.Registry
	creds     catalog.CredentialStore
	factories *Registry
	logger    *slog.Logger

	mu   sync.Mutex
	pool map[poolKey]*pooled
}

type poolKey struct {
	gatewayID  string
	resourceID string
	token      string
	protocol   string
}

type pooled struct {
	adaptor Adaptor
	refs    int
	evicted bool
}

// Lease is a borrowed adaptor. Exactly one of Release or Discard must be
// called when the caller is done with it; further calls are no-ops.
type Lease struct {
	Preference model.StoragePreference
	Resource   model.StorageResource
	Protocol   string

	adaptor Adaptor
	r       *Resolver
	key     poolKey
	entry   *pooled
	once    sync.Once
}

// NewResolver creates a resolver backed by the given registry, credential
// store and adaptor factories.
func NewResolver(reg catalog.Registry, creds catalog.CredentialStore, factories *Registry, logger *slog.Logger) *Resolver {
	return &Resolver{
		registry:  reg,
		creds:     creds,
		factories: factories,
		logger:    logger,
		pool:      make(map[poolKey]*pooled),
	}
}

// Resolve returns a lease on an adaptor for the storage resource.
//
// The credential token is the gateway's resource-specific token when one is
// set, otherwise the group resource profile's default token. Missing
// configuration is reported as a non-retryable configuration error.
func (r *Resolver) Resolve(ctx context.Context, gatewayID, storageResourceID, groupResourceProfileID string) (*Lease, error) {
	lease, err := r.resolve(ctx, gatewayID, storageResourceID, groupResourceProfileID)
	if err != nil {
		resolvesTotal.WithLabelValues(resultError).Inc()
		return nil, err
	}
	return lease, nil
}

func (r *Resolver) resolve(ctx context.Context, gatewayID, storageResourceID, groupResourceProfileID string) (*Lease, error) {
	pref, err := r.registry.GetGatewayStoragePreference(ctx, gatewayID, storageResourceID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, taskerr.Configuration("resolve storage preference", storageResourceID,
				fmt.Errorf("gateway %s has no preference: %w", gatewayID, err))
		}
		return nil, fmt.Errorf("get storage preference for %s: %w", storageResourceID, err)
	}

	token, err := r.credentialToken(ctx, pref, groupResourceProfileID)
	if err != nil {
		return nil, err
	}

	res, err := r.registry.GetStorageResource(ctx, storageResourceID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, taskerr.Configuration("resolve storage resource", storageResourceID, err)
		}
		return nil, fmt.Errorf("get storage resource %s: %w", storageResourceID, err)
	}

	protocol, factory, err := r.factories.Choose(res.Protocols)
	if err != nil {
		return nil, taskerr.Configuration("choose storage protocol", storageResourceID, err)
	}

	key := poolKey{gatewayID: gatewayID, resourceID: storageResourceID, token: token, protocol: protocol}
	if lease := r.acquire(key, pref, res, protocol); lease != nil {
		resolvesTotal.WithLabelValues(resultPooled).Inc()
		return lease, nil
	}

	cred, err := r.creds.GetSSHCredential(ctx, token, gatewayID)
	if err != nil {
		return nil, taskerr.Configuration("fetch credential", token, err)
	}

	adaptor, err := factory.Open(ctx, Endpoint{
		Resource:   *res,
		Protocol:   protocol,
		LoginUser:  pref.LoginUserName,
		Credential: *cred,
	})
	if err != nil {
		return nil, taskerr.Transfer("open storage adaptor", storageResourceID, err)
	}

	r.logger.Debug("opened storage adaptor",
		"gateway_id", gatewayID,
		"storage_resource_id", storageResourceID,
		"protocol", protocol,
	)
	resolvesTotal.WithLabelValues(resultOpened).Inc()
	return r.insert(key, adaptor, pref, res, protocol), nil
}

func (r *Resolver) credentialToken(ctx context.Context, pref *model.StoragePreference, groupResourceProfileID string) (string, error) {
	if pref.ResourceSpecificCredentialToken != "" {
		return pref.ResourceSpecificCredentialToken, nil
	}

	profile, err := r.registry.GetGroupResourceProfile(ctx, groupResourceProfileID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return "", taskerr.Configuration("resolve group resource profile", groupResourceProfileID, err)
		}
		return "", fmt.Errorf("get group resource profile %s: %w", groupResourceProfileID, err)
	}
	if profile.DefaultCredentialToken == "" {
		return "", taskerr.Configuration("resolve credential token", pref.StorageResourceID,
			errors.New("no resource-specific or default credential token"))
	}
	return profile.DefaultCredentialToken, nil
}

func (r *Resolver) acquire(key poolKey, pref *model.StoragePreference, res *model.StorageResource, protocol string) *Lease {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pool[key]
	if !ok {
		return nil
	}
	entry.refs++
	return r.newLease(key, entry, pref, res, protocol)
}

// insert adds a freshly opened adaptor to the pool. If a concurrent resolve
// already pooled one for the same key, that one is used and ours is closed.
func (r *Resolver) insert(key poolKey, adaptor Adaptor, pref *model.StoragePreference, res *model.StorageResource, protocol string) *Lease {
	r.mu.Lock()
	entry, ok := r.pool[key]
	if ok {
		entry.refs++
		r.mu.Unlock()
		if err := adaptor.Close(); err != nil {
			r.logger.Warn("close redundant storage adaptor", "storage_resource_id", key.resourceID, "error", err)
		}
		return r.newLease(key, entry, pref, res, protocol)
	}

	entry = &pooled{adaptor: adaptor, refs: 1}
	r.pool[key] = entry
	adaptorsOpen.Inc()
	r.mu.Unlock()
	return r.newLease(key, entry, pref, res, protocol)
}

func (r *Resolver) newLease(key poolKey, entry *pooled, pref *model.StoragePreference, res *model.StorageResource, protocol string) *Lease {
	return &Lease{
		Preference: *pref,
		Resource:   *res,
		Protocol:   protocol,
		adaptor:    entry.adaptor,
		r:          r,
		key:        key,
		entry:      entry,
	}
}

// release drops one reference. A discarded entry leaves the pool at once but
// is closed only after its last lease is returned.
func (r *Resolver) release(l *Lease, discard bool) {
	r.mu.Lock()
	entry := l.entry
	entry.refs--
	if discard && !entry.evicted {
		if r.pool[l.key] == entry {
			delete(r.pool, l.key)
		}
		entry.evicted = true
	}
	closeNow := entry.evicted && entry.refs == 0
	r.mu.Unlock()

	if closeNow {
		r.closeAdaptor(l.key, entry.adaptor)
	}
}

func (r *Resolver) closeAdaptor(key poolKey, a Adaptor) {
	adaptorsOpen.Dec()
	if err := a.Close(); err != nil {
		r.logger.Warn("close storage adaptor", "storage_resource_id", key.resourceID, "error", err)
	}
}

// Close closes every idle pooled adaptor. Adaptors still leased are evicted
// and closed when their last lease is returned.
func (r *Resolver) Close() {
	r.mu.Lock()
	var idle []*pooled
	keys := make([]poolKey, 0, len(r.pool))
	for key, entry := range r.pool {
		entry.evicted = true
		if entry.refs == 0 {
			idle = append(idle, entry)
			keys = append(keys, key)
		}
		delete(r.pool, key)
	}
	r.mu.Unlock()

	for i, entry := range idle {
		r.closeAdaptor(keys[i], entry.adaptor)
	}
}

// Release returns the adaptor to the pool.
func (l *Lease) Release() {
	l.once.Do(func() { l.r.release(l, false) })
}

// Discard returns the adaptor and evicts it from the pool, e.g. after a
// transfer error left the connection in an unknown state.
func (l *Lease) Discard() {
	l.once.Do(func() { l.r.release(l, true) })
}

// Download copies remotePath on the storage resource to localPath.
func (l *Lease) Download(ctx context.Context, remotePath, localPath string) error {
	return l.adaptor.Download(ctx, remotePath, localPath)
}

// Upload copies localPath to remotePath on the storage resource.
func (l *Lease) Upload(ctx context.Context, localPath, remotePath string) error {
	return l.adaptor.Upload(ctx, localPath, remotePath)
}

// CreateDirectory creates path on the storage resource.
func (l *Lease) CreateDirectory(ctx context.Context, path string, recursive bool) error {
	return l.adaptor.CreateDirectory(ctx, path, recursive)
}
