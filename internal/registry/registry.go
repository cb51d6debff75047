// Package registry exposes the tenant/user directory behind a read-through
// cache. The directory is read-mostly; a bounded staleness window keeps hot
// request paths off the database.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
)

// StoreAPI captures the store methods the registry needs.
type StoreAPI interface {
	GetTenant(ctx context.Context, id string) (store.TenantRecord, bool, error)
	GetUser(ctx context.Context, id string) (store.UserRecord, bool, error)
}

type cachedTenant struct {
	rec     store.TenantRecord
	expires time.Time
}

type cachedUser struct {
	rec     store.UserRecord
	expires time.Time
}

// Registry caches tenant and user lookups with a TTL. Only positive results
// are cached: a miss always hits the store, so a deleted or unknown tenant
// can never be admitted by a stale entry.
type Registry struct {
	store StoreAPI
	ttl   time.Duration

	mu      sync.RWMutex
	tenants map[string]cachedTenant
	users   map[string]cachedUser
	now     func() time.Time
}

// New builds a Registry with the given cache TTL. A zero TTL disables caching.
func New(st StoreAPI, ttl time.Duration) *Registry {
	return &Registry{
		store:   st,
		ttl:     ttl,
		tenants: make(map[string]cachedTenant),
		users:   make(map[string]cachedUser),
		now:     time.Now,
	}
}

// Tenant resolves a tenant by id, or fails with an unknown-tenant fault.
func (r *Registry) Tenant(ctx context.Context, id string) (store.TenantRecord, error) {
	if id == "" {
		return store.TenantRecord{}, fault.New(fault.KindValidation, "registry.Tenant", "tenant id required")
	}
	if r.ttl > 0 {
		r.mu.RLock()
		entry, ok := r.tenants[id]
		r.mu.RUnlock()
		if ok && r.now().Before(entry.expires) {
			return entry.rec, nil
		}
	}
	rec, found, err := r.store.GetTenant(ctx, id)
	if err != nil {
		return store.TenantRecord{}, fault.Wrap(fault.KindUpstream, "registry.Tenant", err)
	}
	if !found {
		return store.TenantRecord{}, fault.Newf(fault.KindUnknownTenant, "registry.Tenant", "tenant %q not found", id)
	}
	if r.ttl > 0 {
		r.mu.Lock()
		r.tenants[id] = cachedTenant{rec: rec, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
	}
	return rec, nil
}

// User resolves a user by id.
func (r *Registry) User(ctx context.Context, id string) (store.UserRecord, error) {
	if id == "" {
		return store.UserRecord{}, fault.New(fault.KindValidation, "registry.User", "user id required")
	}
	if r.ttl > 0 {
		r.mu.RLock()
		entry, ok := r.users[id]
		r.mu.RUnlock()
		if ok && r.now().Before(entry.expires) {
			return entry.rec, nil
		}
	}
	rec, found, err := r.store.GetUser(ctx, id)
	if err != nil {
		return store.UserRecord{}, fault.Wrap(fault.KindUpstream, "registry.User", err)
	}
	if !found {
		return store.UserRecord{}, fault.Newf(fault.KindNotFound, "registry.User", "user %q not found", id)
	}
	if r.ttl > 0 {
		r.mu.Lock()
		r.users[id] = cachedUser{rec: rec, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
	}
	return rec, nil
}

// Invalidate drops any cached entries for a tenant and its users.
func (r *Registry) Invalidate(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tenants, tenantID)
	for id, entry := range r.users {
		if entry.rec.TenantID == tenantID {
			delete(r.users, id)
		}
	}
}
