package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flockbridge.io/flockbridge/internal/domain"
	"flockbridge.io/flockbridge/internal/repository/memory"
)

func at(s string) *time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return &t
}

func newTestRegistry(clock *time.Time) (*Registry, *memory.Store) {
	store := memory.New("pco")
	r := NewRegistry(store, "pco")
	r.now = func() time.Time { return *clock }
	return r, store
}

func TestUpsertLinks_ReturnsOnlyChanged(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r, _ := newTestRegistry(&clock)
	ctx := context.Background()

	cands := []domain.LinkCandidate{
		{ExternalID: "1", EntityType: "Person", Tag: "person", UpdatedAt: at("2026-02-01T00:00:00Z")},
		{ExternalID: "2", EntityType: "Person", Tag: "person", UpdatedAt: at("2026-02-02T00:00:00Z")},
	}
	changed, err := r.UpsertLinks(ctx, "org", cands)
	require.NoError(t, err)
	assert.Len(t, changed, 2)

	clock = clock.Add(time.Minute)
	cands[1].UpdatedAt = at("2026-02-03T00:00:00Z")
	changed, err = r.UpsertLinks(ctx, "org", cands)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "2", changed[0].ExternalID)

	clock = clock.Add(time.Minute)
	changed, err = r.UpsertLinks(ctx, "org", cands)
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestUpsertLinks_DuplicateCandidatesLastWins(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r, store := newTestRegistry(&clock)

	changed, err := r.UpsertLinks(context.Background(), "org", []domain.LinkCandidate{
		{ExternalID: "1", EntityType: "Person", Tag: "person", UpdatedAt: at("2026-01-01T00:00:00Z")},
		{ExternalID: "1", EntityType: "Person", Tag: "person", UpdatedAt: at("2026-01-05T00:00:00Z")},
	})
	require.NoError(t, err)
	require.Len(t, changed, 1)

	links := store.Links()
	require.Len(t, links, 1)
	assert.True(t, links[0].UpdatedAt.Equal(*at("2026-01-05T00:00:00Z")))
}

func TestUpsertLinks_NilUpdatedAtAlwaysChanged(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r, _ := newTestRegistry(&clock)
	cands := []domain.LinkCandidate{{ExternalID: "1", EntityType: "Campus", Tag: "campus"}}

	for i := 0; i < 3; i++ {
		clock = clock.Add(time.Second)
		changed, err := r.UpsertLinks(context.Background(), "org", cands)
		require.NoError(t, err)
		assert.Len(t, changed, 1, "round %d", i)
	}
	assert.Nil(t, cands[0].UpdatedAt, "caller's candidates are not mutated")
}

func TestRewind_ReopensGate(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r, _ := newTestRegistry(&clock)
	ctx := context.Background()
	cands := []domain.LinkCandidate{{ExternalID: "1", EntityType: "Person", Tag: "person", UpdatedAt: at("2026-02-01T00:00:00Z")}}

	_, err := r.UpsertLinks(ctx, "org", cands)
	require.NoError(t, err)
	require.NoError(t, r.Rewind(ctx, "org", []string{"1", "1"}))

	clock = clock.Add(time.Minute)
	changed, err := r.UpsertLinks(ctx, "org", cands)
	require.NoError(t, err)
	assert.Len(t, changed, 1)
}

func TestEnsureLinks_AndResolve(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r, _ := newTestRegistry(&clock)
	ctx := context.Background()

	got, err := r.EnsureLinks(ctx, "org", []domain.LinkCandidate{
		{ExternalID: "9", EntityType: "Household", Tag: "household"},
	})
	require.NoError(t, err)
	require.Contains(t, got, "9")

	again, err := r.EnsureLinks(ctx, "org", []domain.LinkCandidate{
		{ExternalID: "9", EntityType: "Household", Tag: "household"},
	})
	require.NoError(t, err)
	assert.Equal(t, got["9"].EntityID, again["9"].EntityID)

	l, ok, err := r.Resolve(ctx, "org", "9")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, got["9"].EntityID, l.EntityID)

	_, ok, err = r.Resolve(ctx, "other-org", "9")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.DeleteLink(ctx, "org", "9"))
	_, ok, err = r.Resolve(ctx, "org", "9")
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingStore struct {
	Store
}

func (failingStore) UpsertLinks(context.Context, string, string, time.Time, []domain.LinkCandidate) ([]domain.ExternalLink, error) {
	return nil, errors.New("boom")
}

func TestUpsertLinks_StoreError(t *testing.T) {
	r := NewRegistry(failingStore{}, "pco")
	_, err := r.UpsertLinks(context.Background(), "org", []domain.LinkCandidate{{ExternalID: "1"}})
	assert.Error(t, err)

	changed, err := r.UpsertLinks(context.Background(), "org", nil)
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestUpsertLinks_BackToBackSkipsUnchanged(t *testing.T) {
	r := NewRegistry(memory.New("pco"), "pco")
	ctx := context.Background()
	cands := []domain.LinkCandidate{
		{ExternalID: "1", EntityType: "Person", Tag: "person", UpdatedAt: at("2026-01-01T00:00:00Z")},
	}

	changed, err := r.UpsertLinks(ctx, "org", cands)
	require.NoError(t, err)
	require.Len(t, changed, 1)

	for i := 0; i < 50; i++ {
		changed, err = r.UpsertLinks(ctx, "org", cands)
		require.NoError(t, err)
		assert.Empty(t, changed)
	}
}

func TestUpsertLinks_FrozenClockStillDetectsChanges(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r, _ := newTestRegistry(&clock)
	ctx := context.Background()

	for _, ts := range []string{"2026-02-01T00:00:00Z", "2026-02-02T00:00:00Z", "2026-02-03T00:00:00Z"} {
		changed, err := r.UpsertLinks(ctx, "org", []domain.LinkCandidate{
			{ExternalID: "1", EntityType: "Person", Tag: "person", UpdatedAt: at(ts)},
		})
		require.NoError(t, err)
		require.Len(t, changed, 1, ts)
		assert.True(t, changed[0].LastProcessedAt.After(clock) || changed[0].LastProcessedAt.Equal(clock))
	}
}

func TestStamp_StrictlyIncreasing(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r, _ := newTestRegistry(&clock)

	a := r.stamp()
	b := r.stamp()
	assert.Equal(t, clock, a)
	assert.Equal(t, time.Microsecond, b.Sub(a))

	clock = clock.Add(time.Minute)
	assert.Equal(t, clock, r.stamp())
}
