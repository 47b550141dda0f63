package person

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openclaw/screenless/internal/action"
	"github.com/openclaw/screenless/internal/adapter"
	"github.com/openclaw/screenless/internal/storage"
)

type fakeCRM struct {
	people map[int64]adapter.Person

	findCalls   int
	upsertCalls int
	findResult  *adapter.Person
	nextID      int64
}

func (f *fakeCRM) GetPersonByID(_ context.Context, id int64) (adapter.Person, error) {
	if found, ok := f.people[id]; ok {
		return found, nil
	}
	return adapter.Person{}, ErrNotFound
}

func (f *fakeCRM) FindPersonByRef(_ context.Context, _ adapter.PersonLookup) (adapter.Person, error) {
	f.findCalls++
	if f.findResult == nil {
		return adapter.Person{}, ErrNotFound
	}
	return *f.findResult, nil
}

func (f *fakeCRM) UpsertPerson(_ context.Context, input adapter.UpsertPersonInput) (adapter.Person, error) {
	f.upsertCalls++
	f.nextID++
	created := adapter.Person{ID: f.nextID, Name: input.Name}
	if input.Email != "" {
		created.Emails = []string{input.Email}
	}
	if f.people == nil {
		f.people = map[int64]adapter.Person{}
	}
	f.people[created.ID] = created
	return created, nil
}

type fakeCache struct {
	entries map[string]int64
	puts    int
}

func (f *fakeCache) GetCachedPerson(_ context.Context, externalKey string) (int64, error) {
	if id, ok := f.entries[externalKey]; ok {
		return id, nil
	}
	return 0, storage.ErrNotFound
}

func (f *fakeCache) PutCachedPerson(_ context.Context, entry storage.IdentityCacheEntry) error {
	f.puts++
	if f.entries == nil {
		f.entries = map[string]int64{}
	}
	f.entries[entry.ExternalKey] = entry.PersonID
	return nil
}

func testClock() time.Time {
	return time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
}

func TestCacheKey_FieldPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ref  action.PersonRef
		want string
	}{
		{"id wins over everything", action.PersonRef{PersonID: 9, Email: "A@B.com", Phone: "+15551234567", Name: "John"}, "person:9"},
		{"email lowercased", action.PersonRef{Email: "John@Example.COM", Phone: "+15551234567"}, "email:john@example.com"},
		{"phone kept verbatim", action.PersonRef{Phone: "+15551234567", Name: "John"}, "phone:+15551234567"},
		{"name lowercased", action.PersonRef{Name: "John Smith"}, "name:john smith"},
		{"empty ref has no key", action.PersonRef{}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := CacheKey(tc.ref); got != tc.want {
				t.Fatalf("CacheKey = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolve_ByIDSkipsCache(t *testing.T) {
	t.Parallel()

	crm := &fakeCRM{people: map[int64]adapter.Person{42: {ID: 42, Name: "Jane"}}}
	cache := &fakeCache{entries: map[string]int64{"person:42": 999}}
	resolver := NewResolver(crm, cache, testClock)

	got, err := resolver.Resolve(context.Background(), action.PersonRef{PersonID: 42})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != 42 {
		t.Fatalf("id = %d, want 42", got.ID)
	}
	if crm.findCalls != 0 {
		t.Fatalf("find calls = %d, want 0", crm.findCalls)
	}
}

func TestResolve_CacheHitRefetchesByID(t *testing.T) {
	t.Parallel()

	crm := &fakeCRM{people: map[int64]adapter.Person{7: {ID: 7, Name: "Cached"}}}
	cache := &fakeCache{entries: map[string]int64{"email:john@example.com": 7}}
	resolver := NewResolver(crm, cache, testClock)

	got, err := resolver.Resolve(context.Background(), action.PersonRef{Email: "John@Example.com"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != 7 {
		t.Fatalf("id = %d, want 7", got.ID)
	}
	if crm.findCalls != 0 {
		t.Fatalf("find calls = %d, want 0 on cache hit", crm.findCalls)
	}
}

func TestResolve_StaleCacheFallsBackToSearch(t *testing.T) {
	t.Parallel()

	crm := &fakeCRM{findResult: &adapter.Person{ID: 88, Name: "Fresh"}}
	cache := &fakeCache{entries: map[string]int64{"phone:+15551234567": 7}}
	resolver := NewResolver(crm, cache, testClock)

	got, err := resolver.Resolve(context.Background(), action.PersonRef{Phone: "+15551234567"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != 88 {
		t.Fatalf("id = %d, want 88 from fresh search", got.ID)
	}
	if crm.findCalls != 1 {
		t.Fatalf("find calls = %d, want 1", crm.findCalls)
	}
	if cache.entries["phone:+15551234567"] != 88 {
		t.Fatalf("cache entry = %d, want refreshed to 88", cache.entries["phone:+15551234567"])
	}
}

func TestResolve_MissCachesFirstHit(t *testing.T) {
	t.Parallel()

	crm := &fakeCRM{findResult: &adapter.Person{ID: 5, Name: "John Smith"}}
	cache := &fakeCache{}
	resolver := NewResolver(crm, cache, testClock)

	if _, err := resolver.Resolve(context.Background(), action.PersonRef{Name: "John Smith"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cache.entries["name:john smith"] != 5 {
		t.Fatalf("cache entries = %v, want name:john smith -> 5", cache.entries)
	}
}

func TestResolve_EmptyRef(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(&fakeCRM{}, &fakeCache{}, testClock)
	if _, err := resolver.Resolve(context.Background(), action.PersonRef{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveOrUpsert_CreatesOnce(t *testing.T) {
	t.Parallel()

	crm := &fakeCRM{}
	cache := &fakeCache{}
	resolver := NewResolver(crm, cache, testClock)
	ref := action.PersonRef{Email: "new@example.com", Name: "New Lead"}

	first, err := resolver.ResolveOrUpsert(context.Background(), ref)
	if err != nil {
		t.Fatalf("first resolve-or-upsert: %v", err)
	}
	second, err := resolver.ResolveOrUpsert(context.Background(), ref)
	if err != nil {
		t.Fatalf("second resolve-or-upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ids differ: %d vs %d", first.ID, second.ID)
	}
	if crm.upsertCalls != 1 {
		t.Fatalf("upsert calls = %d, want 1", crm.upsertCalls)
	}
}

func TestResolveOrUpsert_ExistingNotRecreated(t *testing.T) {
	t.Parallel()

	crm := &fakeCRM{findResult: &adapter.Person{ID: 3, Name: "Known"}}
	resolver := NewResolver(crm, &fakeCache{}, testClock)

	got, err := resolver.ResolveOrUpsert(context.Background(), action.PersonRef{Email: "known@example.com"})
	if err != nil {
		t.Fatalf("resolve-or-upsert: %v", err)
	}
	if got.ID != 3 {
		t.Fatalf("id = %d, want 3", got.ID)
	}
	if crm.upsertCalls != 0 {
		t.Fatalf("upsert calls = %d, want 0", crm.upsertCalls)
	}
}
