package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flockbridge.io/flockbridge/internal/adapter/pco"
	"flockbridge.io/flockbridge/internal/domain"
	"flockbridge.io/flockbridge/internal/identity"
	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
	"flockbridge.io/flockbridge/internal/pkg/logger"
	"flockbridge.io/flockbridge/internal/pkg/worker"
	"flockbridge.io/flockbridge/internal/provider"
	"flockbridge.io/flockbridge/internal/repository/memory"
	"flockbridge.io/flockbridge/internal/syncer"
)

func init() {
	_ = logger.Init("error", "json")
}

const (
	subsPath = "/webhooks/v2/webhook_subscriptions"
	base     = "https://sync.example.org/"
	created  = "people.v2.events.person.created"
)

func newSyncer(t *testing.T, client provider.Client, store *memory.Store) *syncer.Syncer {
	t.Helper()
	pool, err := worker.NewPool("test", 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Release(0) })
	a := pco.MustNew()
	return syncer.New(client, a.Types, identity.NewRegistry(store, pco.Name), store, pool)
}

func sub(id, name, url string, active bool) domain.ExternalEntity {
	return domain.ExternalEntity{Type: ResourceType, ID: id, Attributes: map[string]any{
		"name": name, "url": url, "active": active,
	}}
}

func TestCallbackURL(t *testing.T) {
	assert.Equal(t, "https://sync.example.org/webhooks/pco", CallbackURL(base))
	assert.Equal(t, "http://h/webhooks/pco", CallbackURL("http://h"))
}

func TestReconcile_CreatesMissing(t *testing.T) {
	client := provider.NewMockClient()
	store := memory.New(pco.Name)
	r := NewReconciler(client, newSyncer(t, client, store), subsPath, base, []string{created})

	rep, err := r.Reconcile(context.Background(), "org")
	require.NoError(t, err)
	assert.Equal(t, []string{created}, rep.Created)

	creates := client.Calls("create")
	require.Len(t, creates, 1)
	assert.Empty(t, client.Calls("update"))
	assert.Equal(t, subsPath, creates[0].Path)
	assert.Equal(t, CallbackURL(base), creates[0].Resource.Attributes["url"])
	assert.Equal(t, true, creates[0].Resource.Attributes["active"])

	rows := store.Entities("webhook_subscriptions")
	require.Len(t, rows, 1)
	assert.Equal(t, created, rows[0].Attributes["name"])
}

func TestReconcile_SecondRunMakesNoChanges(t *testing.T) {
	client := provider.NewMockClient()
	var mu sync.Mutex
	var listed []domain.ExternalEntity
	client.OnCreate = func(path string, res provider.Resource) (*domain.Document, error) {
		mu.Lock()
		defer mu.Unlock()
		e := domain.ExternalEntity{Type: res.Type, ID: fmt.Sprint(len(listed) + 1), Attributes: res.Attributes}
		listed = append(listed, e)
		client.SeedList(path, append([]domain.ExternalEntity(nil), listed...))
		return &domain.Document{Data: e}, nil
	}
	names := pco.MustNew().WebhookNames()
	r := NewReconciler(client, nil, subsPath, base, names)
	ctx := context.Background()

	rep, err := r.Reconcile(ctx, "org")
	require.NoError(t, err)
	assert.Len(t, rep.Created, len(names))

	client.Reset()
	rep, err = r.Reconcile(ctx, "org")
	require.NoError(t, err)
	assert.False(t, rep.Changed())
	assert.Len(t, rep.Unchanged, len(names))
	assert.Empty(t, client.Calls("create"))
	assert.Empty(t, client.Calls("update"))
}

func TestReconcile_Transitions(t *testing.T) {
	client := provider.NewMockClient()
	url := CallbackURL(base)
	var existing []domain.ExternalEntity
	for i := 0; i < 150; i++ {
		existing = append(existing, sub(fmt.Sprint(1000+i), created, "https://elsewhere/webhooks", true))
	}
	existing = append(existing,
		sub("a", "people.v2.events.person.updated", url, true),
		sub("b", "people.v2.events.person.destroyed", url, false),
	)
	client.SeedList(subsPath, existing)

	names := []string{"people.v2.events.person.updated", "people.v2.events.person.destroyed", created}
	r := NewReconciler(client, nil, subsPath, base, names)

	st, err := r.Statuses(context.Background(), "org")
	require.NoError(t, err)
	assert.Equal(t, map[string]Status{
		"people.v2.events.person.updated":   StatusActive,
		"people.v2.events.person.destroyed": StatusInactive,
		created:                             StatusUnset,
	}, st)
	assert.Len(t, client.Calls("list"), 2)

	client.Reset()
	rep, err := r.Reconcile(context.Background(), "org")
	require.NoError(t, err)
	assert.Equal(t, []string{"people.v2.events.person.destroyed"}, rep.Activated)
	assert.Equal(t, []string{created}, rep.Created)
	assert.Equal(t, []string{"people.v2.events.person.updated"}, rep.Unchanged)

	updates := client.Calls("update")
	require.Len(t, updates, 1)
	assert.Equal(t, subsPath+"/b", updates[0].Path)
	assert.Equal(t, true, updates[0].Resource.Attributes["active"])
}

func TestReconcile_ListFailure(t *testing.T) {
	client := provider.NewMockClient()
	client.Fail("list", subsPath, apperrors.ErrFetch("list", 502, errors.New("bad gateway")))
	r := NewReconciler(client, nil, subsPath, base, []string{created})

	_, err := r.Reconcile(context.Background(), "org")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeSubscription))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Empty(t, client.Calls("create"))
}
