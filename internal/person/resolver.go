// Package person resolves loose person references to canonical CRM records,
// with a durable identity cache in front of the CRM collaborator.
package person

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/screenless/internal/action"
	"github.com/openclaw/screenless/internal/adapter"
	"github.com/openclaw/screenless/internal/storage"
)

// ErrNotFound indicates no CRM record matched the reference.
var ErrNotFound = errors.New("person not found")

// Cache is the identity-cache seam the resolver needs from the store.
type Cache interface {
	GetCachedPerson(ctx context.Context, externalKey string) (int64, error)
	PutCachedPerson(ctx context.Context, entry storage.IdentityCacheEntry) error
}

// CRM is the subset of the CRM collaborator the resolver needs.
type CRM interface {
	GetPersonByID(ctx context.Context, id int64) (adapter.Person, error)
	FindPersonByRef(ctx context.Context, lookup adapter.PersonLookup) (adapter.Person, error)
	UpsertPerson(ctx context.Context, input adapter.UpsertPersonInput) (adapter.Person, error)
}

// Resolver maps person references to canonical CRM records.
type Resolver struct {
	crm   CRM
	cache Cache
	clock func() time.Time
}

// NewResolver constructs a resolver over the CRM and identity cache.
func NewResolver(crm CRM, cache Cache, clock func() time.Time) *Resolver {
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{crm: crm, cache: cache, clock: clock}
}

// CacheKey normalizes a reference into its identity-cache key, using the
// highest-priority identifying field present (id > email > phone > name).
// References with no identifying field have no key.
func CacheKey(ref action.PersonRef) string {
	switch {
	case ref.PersonID > 0:
		return fmt.Sprintf("person:%d", ref.PersonID)
	case ref.Email != "":
		return "email:" + strings.ToLower(ref.Email)
	case ref.Phone != "":
		return "phone:" + ref.Phone
	case ref.Name != "":
		return "name:" + strings.ToLower(ref.Name)
	}
	return ""
}

// Resolve maps a reference to its canonical CRM record. Cache hits are
// re-fetched by id to confirm liveness; misses search the CRM and cache the
// first hit. Returns ErrNotFound when nothing matches.
func (r *Resolver) Resolve(ctx context.Context, ref action.PersonRef) (adapter.Person, error) {
	if r == nil || r.crm == nil {
		return adapter.Person{}, fmt.Errorf("crm collaborator is not configured")
	}
	if ref.Empty() {
		return adapter.Person{}, ErrNotFound
	}

	if ref.PersonID > 0 {
		found, err := r.crm.GetPersonByID(ctx, ref.PersonID)
		if err == nil {
			return found, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return adapter.Person{}, err
		}
	}

	key := CacheKey(ref)
	if key != "" && r.cache != nil {
		cachedID, err := r.cache.GetCachedPerson(ctx, key)
		if err == nil {
			found, getErr := r.crm.GetPersonByID(ctx, cachedID)
			if getErr == nil {
				return found, nil
			}
			if !errors.Is(getErr, ErrNotFound) {
				return adapter.Person{}, getErr
			}
			// Stale cache entry; fall through to a fresh search.
		} else if !errors.Is(err, storage.ErrNotFound) {
			return adapter.Person{}, err
		}
	}

	found, err := r.crm.FindPersonByRef(ctx, adapter.PersonLookup{
		Email: ref.Email,
		Phone: ref.Phone,
		Name:  ref.Name,
	})
	if err != nil {
		return adapter.Person{}, err
	}
	r.cachePerson(ctx, key, found.ID)
	return found, nil
}

// ResolveOrUpsert resolves the reference, creating a CRM record from the
// supplied fields when nothing matches. Repeated calls with an identical
// reference return the same canonical id and create at most one record.
func (r *Resolver) ResolveOrUpsert(ctx context.Context, ref action.PersonRef) (adapter.Person, error) {
	existing, err := r.Resolve(ctx, ref)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return adapter.Person{}, err
	}
	if ref.Empty() {
		return adapter.Person{}, ErrNotFound
	}

	created, err := r.crm.UpsertPerson(ctx, adapter.UpsertPersonInput{
		PersonLookup: adapter.PersonLookup{
			Email: ref.Email,
			Phone: ref.Phone,
			Name:  ref.Name,
		},
	})
	if err != nil {
		return adapter.Person{}, err
	}
	r.cachePerson(ctx, CacheKey(ref), created.ID)
	return created, nil
}

// cachePerson best-effort updates the identity cache; resolution results are
// still valid when the cache write fails.
func (r *Resolver) cachePerson(ctx context.Context, key string, personID int64) {
	if r.cache == nil || key == "" || personID <= 0 {
		return
	}
	_ = r.cache.PutCachedPerson(ctx, storage.IdentityCacheEntry{
		ExternalKey: key,
		PersonID:    personID,
		UpdatedAt:   r.clock().UTC(),
	})
}
