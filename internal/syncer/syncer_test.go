package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flockbridge.io/flockbridge/internal/domain"
	"flockbridge.io/flockbridge/internal/identity"
	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
	"flockbridge.io/flockbridge/internal/pkg/logger"
	"flockbridge.io/flockbridge/internal/pkg/worker"
	"flockbridge.io/flockbridge/internal/provider"
	"flockbridge.io/flockbridge/internal/repository/memory"
	"flockbridge.io/flockbridge/internal/transform"
)

func init() {
	_ = logger.Init("error", "json")
}

type personAttrs struct {
	FirstName string `json:"first_name"`
	UpdatedAt string `json:"updated_at"`
}

type campusAttrs struct {
	Name string `json:"name"`
}

func testTypes() *transform.Registry {
	reg := transform.NewRegistry("pco")
	reg.MustRegister(
		transform.Define(transform.Spec[campusAttrs]{
			Name: "Campus", Tag: "campus", Table: "campuses", Columns: []string{"name"},
			Endpoint: transform.Endpoint{ListPath: "/campuses", GetPath: "/campuses/%s", SkipSync: true},
			Transform: func(a campusAttrs) (map[string]any, error) {
				return map[string]any{"name": a.Name}, nil
			},
		}),
		transform.Define(transform.Spec[personAttrs]{
			Name: "Person", Tag: "person", Table: "people", Columns: []string{"first_name"},
			Relationships: []transform.Relationship{{Key: "primary_campus", TargetType: "Campus"}},
			Endpoint: transform.Endpoint{
				ListPath: "/people", GetPath: "/people/%s",
				Params: map[string]string{"per_page": "25", "include": "primary_campus"},
			},
			Transform: func(a personAttrs) (map[string]any, error) {
				if a.FirstName == "boom" {
					return nil, errors.New("cannot transform")
				}
				out := map[string]any{"first_name": a.FirstName}
				if a.UpdatedAt != "" {
					out[transform.KeyUpdatedAt] = a.UpdatedAt
				}
				return out, nil
			},
		}),
	)
	return reg
}

type fixture struct {
	client *provider.MockClient
	store  *memory.Store
	links  *identity.Registry
	syncer *Syncer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pool, err := worker.NewPool("test", 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Release(0) })

	f := &fixture{client: provider.NewMockClient(), store: memory.New("pco")}
	f.links = identity.NewRegistry(f.store, "pco")
	f.syncer = New(f.client, testTypes(), f.links, f.store, pool)
	return f
}

func people(n int) []domain.ExternalEntity {
	out := make([]domain.ExternalEntity, n)
	for i := range out {
		out[i] = domain.ExternalEntity{
			Type: "Person", ID: fmt.Sprint(i + 1),
			Attributes: map[string]any{"first_name": fmt.Sprintf("p%d", i+1), "updated_at": "2026-01-01T00:00:00Z"},
		}
	}
	return out
}

func TestSyncEntityType_Paginates(t *testing.T) {
	f := newFixture(t)
	f.client.SeedList("/people", people(35))

	res, err := f.syncer.SyncEntityType(context.Background(), "org", "Person")
	require.NoError(t, err)

	calls := f.client.Calls("list")
	require.Len(t, calls, 2)
	assert.Equal(t, "25", calls[1].Params["offset"])
	assert.Equal(t, "primary_campus", calls[0].Params["include"])
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 35, res.Entities)
	assert.Equal(t, 35, res.Changed)
	assert.Len(t, f.store.Entities("people"), 35)
	for _, l := range f.store.Links() {
		assert.False(t, l.Syncing, "link %s left syncing", l.ExternalID)
	}
}

func TestSyncEntityType_SecondRunSkipsUnchanged(t *testing.T) {
	f := newFixture(t)
	f.client.SeedList("/people", people(3))
	ctx := context.Background()

	_, err := f.syncer.SyncEntityType(ctx, "org", "Person")
	require.NoError(t, err)
	res, err := f.syncer.SyncEntityType(ctx, "org", "Person")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Entities)
	assert.Zero(t, res.Changed)
}

func TestSyncEntityType_BadEntityIsolated(t *testing.T) {
	f := newFixture(t)
	data := people(3)
	data[1].Attributes["first_name"] = "boom"
	data = append(data, domain.ExternalEntity{Type: "Mystery", ID: "99"})
	f.client.SeedList("/people", data)

	res, err := f.syncer.SyncEntityType(context.Background(), "org", "Person")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Entities)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 2, res.Changed)
	assert.Len(t, f.store.Entities("people"), 2)
}

func TestSyncEntityType_FetchFailure(t *testing.T) {
	f := newFixture(t)
	f.client.Fail("list", "/people", apperrors.ErrFetch("list", 502, errors.New("bad gateway")))

	_, err := f.syncer.SyncEntityType(context.Background(), "org", "Person")
	assert.True(t, apperrors.IsRetryable(err))
}

func TestSyncEntityType_SkipSyncType(t *testing.T) {
	f := newFixture(t)
	res, err := f.syncer.SyncEntityType(context.Background(), "org", "Campus")
	require.NoError(t, err)
	assert.Zero(t, res)
	assert.Empty(t, f.client.Calls(""))
	assert.Equal(t, []string{"Person"}, f.syncer.Types())

	_, err = f.syncer.SyncEntityType(context.Background(), "org", "Nope")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEntityTypeUnknown))
}

func TestSyncEntityID_FallsBackToPayload(t *testing.T) {
	f := newFixture(t)
	fallback := &domain.Document{Data: domain.ExternalEntity{
		Type: "Person", ID: "42", Attributes: map[string]any{"first_name": "A"},
	}}

	res, err := f.syncer.SyncEntityID(context.Background(), "org", "Person", "42", fallback)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changed)
	require.Len(t, f.client.Calls("get"), 1)
	assert.Equal(t, "/people/42", f.client.Calls("get")[0].Path)

	rows := f.store.Entities("people")
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0].Attributes["first_name"])
	assert.Contains(t, rows[0].ID, "person_")
}

func TestSyncEntityID_FetchFailureWithoutFallback(t *testing.T) {
	f := newFixture(t)
	_, err := f.syncer.SyncEntityID(context.Background(), "org", "Person", "42", nil)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeFetch))
	assert.Empty(t, f.store.Entities("people"))
}

func TestProcessBatch_EdgesAndPlaceholders(t *testing.T) {
	f := newFixture(t)
	person := domain.ExternalEntity{
		Type: "Person", ID: "1", Attributes: map[string]any{"first_name": "Ada"},
		Relationships: map[string]domain.RelationshipRef{
			"primary_campus": {Data: domain.RelationshipData{One: &domain.ResourceIdentifier{Type: "Campus", ID: "c9"}}},
		},
	}

	res, err := f.syncer.ProcessBatch(context.Background(), "org", []domain.ExternalEntity{person})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Edges)

	edges := f.store.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, "campus", edges[0].SourceEntityTypeTag)
	assert.Equal(t, "campus_primary_campus_person", edges[0].RelationshipType)

	campus, ok, err := f.links.Resolve(context.Background(), "org", "c9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, campus.UpdatedAt, "placeholder link")

	// Syncing the campus later keeps the placeholder's entity id.
	_, err = f.syncer.ProcessBatch(context.Background(), "org", []domain.ExternalEntity{
		{Type: "Campus", ID: "c9", Attributes: map[string]any{"name": "Main"}},
	})
	require.NoError(t, err)
	row, ok := f.store.Entity("campuses", campus.EntityID)
	require.True(t, ok)
	assert.Equal(t, "Main", row.Attributes["name"])
}

type failingStore struct {
	*memory.Store
}

func (failingStore) UpsertEntities(context.Context, *transform.TypeDefinition, []domain.CanonicalEntity) error {
	return apperrors.ErrStore("upsert_entities", errors.New("deadlock detected"))
}

func TestProcessBatch_StoreFailureRewindsLinks(t *testing.T) {
	f := newFixture(t)
	f.syncer.store = failingStore{f.store}

	_, err := f.syncer.ProcessBatch(context.Background(), "org", people(2))
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))

	for _, l := range f.store.Links() {
		assert.Nil(t, l.UpdatedAt)
		assert.False(t, l.Syncing)
	}

	// With the store back, the rewound links are processed again.
	f.syncer.store = f.store
	res, err := f.syncer.ProcessBatch(context.Background(), "org", people(2))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Changed)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.syncer.ProcessBatch(ctx, "org", people(1))
	require.NoError(t, err)

	require.NoError(t, f.syncer.Remove(ctx, "org", "Person", "1"))
	assert.Empty(t, f.store.Entities("people"))
	assert.Empty(t, f.store.Links())

	require.NoError(t, f.syncer.Remove(ctx, "org", "Person", "unknown"))
}

func TestSyncAll(t *testing.T) {
	f := newFixture(t)
	f.client.SeedList("/people", people(3))

	res, err := f.syncer.SyncAll(context.Background(), "org")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Entities)
	assert.Equal(t, 1, res.Pages)
}
