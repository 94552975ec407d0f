package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flockbridge.io/flockbridge/internal/domain"
	"flockbridge.io/flockbridge/internal/transform"
)

func def() *transform.TypeDefinition {
	return transform.Define(transform.Spec[map[string]any]{
		Name: "Person", Tag: "person", Table: "people", Columns: []string{"first_name"},
		Transform: func(a map[string]any) (map[string]any, error) { return a, nil },
	})
}

func TestUpsertLinks_Gate(t *testing.T) {
	s := New("pco")
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	up := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	cands := []domain.LinkCandidate{{ExternalID: "1", EntityType: "Person", Tag: "person", UpdatedAt: &up}}
	first, err := s.UpsertLinks(ctx, "org", "pco", t0, cands)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, first[0].ChangedAt(t0))
	assert.True(t, first[0].Syncing)

	require.NoError(t, s.MarkSynced(ctx, "org", "pco", []string{"1"}))
	second, err := s.UpsertLinks(ctx, "org", "pco", t1, cands)
	require.NoError(t, err)
	assert.False(t, second[0].ChangedAt(t1))
	assert.False(t, second[0].Syncing)
	assert.Equal(t, first[0].EntityID, second[0].EntityID)
}

func TestInsertPlaceholders_KeepsExisting(t *testing.T) {
	s := New("pco")
	ctx := context.Background()
	up := time.Now()
	_, err := s.UpsertLinks(ctx, "org", "pco", time.Now(), []domain.LinkCandidate{{ExternalID: "1", Tag: "person", UpdatedAt: &up}})
	require.NoError(t, err)

	require.NoError(t, s.InsertPlaceholders(ctx, "org", "pco", []domain.LinkCandidate{
		{ExternalID: "1", Tag: "person"}, {ExternalID: "2", Tag: "campus", EntityType: "Campus"},
	}))
	links := s.Links()
	require.Len(t, links, 2)
	assert.NotNil(t, links[0].UpdatedAt)
	assert.Nil(t, links[1].UpdatedAt)
	assert.Nil(t, links[1].LastProcessedAt)
	assert.Contains(t, links[1].EntityID, "campus_")
}

func TestRewindStuck(t *testing.T) {
	s := New("pco")
	ctx := context.Background()
	up := time.Now()
	_, err := s.UpsertLinks(ctx, "org", "pco", time.Now(), []domain.LinkCandidate{
		{ExternalID: "1", Tag: "person", UpdatedAt: &up},
		{ExternalID: "2", Tag: "person", UpdatedAt: &up},
	})
	require.NoError(t, err)
	require.NoError(t, s.MarkSynced(ctx, "org", "pco", []string{"1"}))

	n, err := s.RewindStuck(ctx, "org", "pco")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	links := s.Links()
	assert.NotNil(t, links[0].UpdatedAt)
	assert.Nil(t, links[1].UpdatedAt)
	assert.False(t, links[1].Syncing)
}

func TestUpsertEntities_CustomFieldsBySource(t *testing.T) {
	pco, other := New("pco"), New("other")
	ctx := context.Background()

	row := domain.CanonicalEntity{
		ID: "person_1", OrgID: "org",
		CustomFields: []domain.CustomField{{Name: "a", Value: 1, Source: "pco"}},
		Attributes:   map[string]any{"first_name": "Ada", "unknown": true},
	}
	require.NoError(t, pco.UpsertEntities(ctx, def(), []domain.CanonicalEntity{row}))

	// Share one map set so both adapters write the same rows.
	other.entities = pco.entities
	foreign := row
	foreign.CustomFields = []domain.CustomField{{Name: "b", Value: 2, Source: "other"}}
	require.NoError(t, other.UpsertEntities(ctx, def(), []domain.CanonicalEntity{foreign}))

	row.CustomFields = []domain.CustomField{{Name: "c", Value: 3, Source: "pco"}}
	require.NoError(t, pco.UpsertEntities(ctx, def(), []domain.CanonicalEntity{row}))

	got, ok := pco.Entity("people", "person_1")
	require.True(t, ok)
	assert.Equal(t, "person", got.Tag)
	assert.Equal(t, map[string]any{"first_name": "Ada"}, got.Attributes)
	assert.Equal(t, []domain.CustomField{
		{Name: "b", Value: 2, Source: "other"},
		{Name: "c", Value: 3, Source: "pco"},
	}, got.CustomFields)
}

func TestUpsertEntities_IgnoresIncomingForeignFields(t *testing.T) {
	s := New("pco")
	ctx := context.Background()
	row := domain.CanonicalEntity{
		ID: "person_1", OrgID: "org",
		CustomFields: []domain.CustomField{
			{Name: "a", Value: 1, Source: "pco"},
			{Name: "x", Value: 9, Source: "other"},
		},
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, s.UpsertEntities(ctx, def(), []domain.CanonicalEntity{row}))
	}

	got, ok := s.Entity("people", "person_1")
	require.True(t, ok)
	assert.Equal(t, []domain.CustomField{{Name: "a", Value: 1, Source: "pco"}}, got.CustomFields)
}

func TestUpsertEdges_RegistryGrowsAndDeleteCascades(t *testing.T) {
	s := New("pco")
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	e := domain.Edge{
		OrgID: "org", SourceEntityID: "campus_1", TargetEntityID: "person_1",
		SourceEntityTypeTag: "campus", TargetEntityTypeTag: "person",
		RelationshipType: "campus_has_person", CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.UpsertEdges(ctx, []domain.Edge{e}))

	later := e
	later.CreatedAt, later.UpdatedAt = t0.Add(time.Hour), t0.Add(time.Hour)
	household := e
	household.TargetEntityID, household.TargetEntityTypeTag, household.RelationshipType = "household_1", "household", "campus_has_household"
	require.NoError(t, s.UpsertEdges(ctx, []domain.Edge{later, household}))

	edges := s.Edges()
	require.Len(t, edges, 2)
	assert.Equal(t, t0, edges[1].CreatedAt)
	assert.Equal(t, t0.Add(time.Hour), edges[1].UpdatedAt)

	rels, err := s.ListRelationships(ctx, "org")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, []string{"household", "person"}, rels[0].TargetEntityTypes)

	require.NoError(t, s.DeleteEntity(ctx, def(), "org", "person_1"))
	touching, err := s.ListEdges(ctx, "org", "person_1")
	require.NoError(t, err)
	assert.Empty(t, touching)
	assert.Len(t, s.Edges(), 1)
}

func TestWebhookSecrets(t *testing.T) {
	s := New("pco")
	subs := transform.Define(transform.Spec[map[string]any]{
		Name: "WebhookSubscription", Tag: "webhook_subscription", Table: "webhook_subscriptions",
		Columns:   []string{"authenticity_secret"},
		Transform: func(a map[string]any) (map[string]any, error) { return a, nil },
	})
	gone := time.Now()
	require.NoError(t, s.UpsertEntities(context.Background(), subs, []domain.CanonicalEntity{
		{ID: "webhook_subscription_1", OrgID: "org", Attributes: map[string]any{"authenticity_secret": "s1"}},
		{ID: "webhook_subscription_2", OrgID: "org", Attributes: map[string]any{"authenticity_secret": "s1"}},
		{ID: "webhook_subscription_3", OrgID: "org", Attributes: map[string]any{"authenticity_secret": "s2"}, DeletedAt: &gone},
		{ID: "webhook_subscription_4", OrgID: "org2", Attributes: map[string]any{}},
	}))

	got, err := s.WebhookSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"org": {"s1"}}, got)
}
