package repo_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/repo"
)

func newOrder(types ...model.ResourceType) *model.UnionGraphOrder {
	return &model.UnionGraphOrder{
		ID:            uuid.NewString(),
		ResourceTypes: types,
		Format:        "JSON_LD",
		Style:         "PRETTY",
		ExpandURIs:    true,
	}
}

func TestUnionGraphs_CreateAndGet(t *testing.T) {
	db, ctx := setupDB(t), context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := repo.NewUnionGraphs(db, repo.WithNow(func() time.Time { return now }))

	yes := true
	order := newOrder(model.ResourceTypeService, model.ResourceTypeDataset)
	order.WebhookURL = "https://example.org/hook"
	order.UpdateTTLHours = 24
	order.ResourceFilters = &model.ResourceFilters{Dataset: &model.DatasetFilters{IsOpenData: &yes}}
	order.Name = "open data"
	require.NoError(t, r.Create(ctx, order))

	got, err := r.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPending, got.Status)
	require.Equal(t, []model.ResourceType{model.ResourceTypeDataset, model.ResourceTypeService}, got.ResourceTypes)
	require.Equal(t, "https://example.org/hook", got.WebhookURL)
	require.Equal(t, 24, got.UpdateTTLHours)
	require.True(t, *got.ResourceFilters.Dataset.IsOpenData)
	require.Nil(t, got.ResourceFilters.Dataset.IsRelatedToTransportportal)
	require.Equal(t, "open data", got.Name)
	require.Equal(t, now, got.CreatedAt)
	require.True(t, got.ProcessedAt.IsZero())
	require.Nil(t, got.GraphData)

	_, err = r.Get(ctx, uuid.NewString())
	require.ErrorIs(t, err, repo.ErrNotFound)

	t.Run("by configuration", func(t *testing.T) {
		found, err := r.GetByConfiguration(ctx, model.OrderConfiguration{
			ResourceTypes:   []model.ResourceType{model.ResourceTypeService, model.ResourceTypeDataset},
			UpdateTTLHours:  24,
			WebhookURL:      "https://example.org/hook",
			ResourceFilters: &model.ResourceFilters{Dataset: &model.DatasetFilters{IsOpenData: &yes}},
			Format:          "JSON_LD",
			Style:           "PRETTY",
			ExpandURIs:      true,
		})
		require.NoError(t, err)
		require.Equal(t, order.ID, found.ID)

		_, err = r.GetByConfiguration(ctx, model.OrderConfiguration{
			ResourceTypes:  []model.ResourceType{model.ResourceTypeService, model.ResourceTypeDataset},
			UpdateTTLHours: 24,
			WebhookURL:     "https://example.org/hook",
			Format:         "JSON_LD",
			Style:          "PRETTY",
			ExpandURIs:     true,
		})
		require.ErrorIs(t, err, repo.ErrNotFound)
	})

	t.Run("all types are stored as null", func(t *testing.T) {
		all := newOrder()
		require.NoError(t, r.Create(ctx, all))

		found, err := r.GetByConfiguration(ctx, model.OrderConfiguration{Format: "JSON_LD", Style: "PRETTY", ExpandURIs: true})
		require.NoError(t, err)
		require.Equal(t, all.ID, found.ID)
		require.Empty(t, found.ResourceTypes)
		require.Len(t, found.EffectiveResourceTypes(), len(model.ResourceTypes))
	})
}

func TestUnionGraphs_ConfigurationPrefersCompleted(t *testing.T) {
	db, ctx := setupDB(t), context.Background()
	r := repo.NewUnionGraphs(db)

	failed := newOrder(model.ResourceTypeEvent)
	require.NoError(t, r.Create(ctx, failed))
	require.NoError(t, r.MarkFailed(ctx, failed.ID, "boom"))

	completed := newOrder(model.ResourceTypeEvent)
	require.NoError(t, r.Create(ctx, completed))
	require.NoError(t, r.MarkCompleted(ctx, completed.ID, []byte(`{}`)))

	pending := newOrder(model.ResourceTypeEvent)
	require.NoError(t, r.Create(ctx, pending))

	found, err := r.GetByConfiguration(ctx, model.OrderConfiguration{
		ResourceTypes: []model.ResourceType{model.ResourceTypeEvent},
		Format:        "JSON_LD",
		Style:         "PRETTY",
		ExpandURIs:    true,
	})
	require.NoError(t, err)
	require.Equal(t, completed.ID, found.ID)

	counts, err := r.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, map[model.OrderStatus]int64{
		model.OrderStatusPending:    1,
		model.OrderStatusProcessing: 0,
		model.OrderStatusCompleted:  1,
		model.OrderStatusFailed:     1,
	}, counts)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for _, o := range list {
		require.Nil(t, o.GraphData)
	}
}

func TestUnionGraphs_Claim(t *testing.T) {
	db, ctx := setupDB(t), context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	r := repo.NewUnionGraphs(db, repo.WithNow(func() time.Time { return now }))

	order := newOrder(model.ResourceTypeConcept)
	require.NoError(t, r.Create(ctx, order))

	pending, err := r.FindPendingForProcessing(ctx, 2, time.Hour)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	t.Run("only one concurrent claim wins", func(t *testing.T) {
		var (
			wg   sync.WaitGroup
			wins atomic.Int64
		)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := r.Claim(ctx, order.ID, uuid.NewString(), time.Hour)
				require.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, wins.Load())

		got, err := r.Get(ctx, order.ID)
		require.NoError(t, err)
		require.Equal(t, model.OrderStatusProcessing, got.Status)
		require.NotEmpty(t, got.LockedBy)
		require.Equal(t, now, got.LockedAt)
		require.Equal(t, now, got.ProcessingStartedAt)
	})

	t.Run("processing orders are not pending", func(t *testing.T) {
		pending, err := r.FindPendingForProcessing(ctx, 2, time.Hour)
		require.NoError(t, err)
		require.Empty(t, pending)
	})

	t.Run("stale lock can be reclaimed", func(t *testing.T) {
		later := repo.NewUnionGraphs(db, repo.WithNow(func() time.Time { return now.Add(2 * time.Hour) }))

		stale, err := later.FindStaleLocks(ctx, time.Hour)
		require.NoError(t, err)
		require.Len(t, stale, 1)

		ok, err := later.Claim(ctx, order.ID, "other-instance", time.Hour)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("completed", func(t *testing.T) {
		require.NoError(t, r.MarkCompleted(ctx, order.ID, []byte(`{"@id":"x"}`)))

		got, err := r.Get(ctx, order.ID)
		require.NoError(t, err)
		require.Equal(t, model.OrderStatusCompleted, got.Status)
		require.JSONEq(t, `{"@id":"x"}`, string(got.GraphData))
		require.Empty(t, got.LockedBy)
		require.Equal(t, now, got.ProcessedAt)

		ok, err := r.Claim(ctx, order.ID, "instance", time.Hour)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestUnionGraphs_StaleLockRecovery(t *testing.T) {
	db, ctx := setupDB(t), context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	r := repo.NewUnionGraphs(db, repo.WithNow(func() time.Time { return now }))

	order := newOrder(model.ResourceTypeEvent)
	require.NoError(t, r.Create(ctx, order))
	ok, err := r.Claim(ctx, order.ID, "crashed-instance", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("fresh lock is kept", func(t *testing.T) {
		released, err := r.ReleaseStaleLock(ctx, order.ID, time.Hour)
		require.NoError(t, err)
		require.False(t, released)
	})

	t.Run("stale lock is released", func(t *testing.T) {
		later := repo.NewUnionGraphs(db, repo.WithNow(func() time.Time { return now.Add(61 * time.Minute) }))

		released, err := later.ReleaseStaleLock(ctx, order.ID, time.Hour)
		require.NoError(t, err)
		require.True(t, released)

		got, err := later.Get(ctx, order.ID)
		require.NoError(t, err)
		require.Equal(t, model.OrderStatusPending, got.Status)
		require.Empty(t, got.LockedBy)
		require.True(t, got.LockedAt.IsZero())
	})
}

func TestUnionGraphs_TTL(t *testing.T) {
	db, ctx := setupDB(t), context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	r := repo.NewUnionGraphs(db, repo.WithNow(func() time.Time { return now }))

	withTTL := newOrder(model.ResourceTypeDataset)
	withTTL.UpdateTTLHours = 4
	require.NoError(t, r.Create(ctx, withTTL))
	require.NoError(t, r.MarkCompleted(ctx, withTTL.ID, []byte(`{}`)))

	withoutTTL := newOrder(model.ResourceTypeConcept)
	require.NoError(t, r.Create(ctx, withoutTTL))
	require.NoError(t, r.MarkCompleted(ctx, withoutTTL.ID, []byte(`{}`)))

	expired, err := r.FindExpired(ctx)
	require.NoError(t, err)
	require.Empty(t, expired)

	later := repo.NewUnionGraphs(db, repo.WithNow(func() time.Time { return now.Add(4 * time.Hour) }))
	expired, err = later.FindExpired(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, withTTL.ID, expired[0].ID)

	ok, err := later.ResetToPending(ctx, withTTL.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := later.Get(ctx, withTTL.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPending, got.Status)

	ok, err = later.ResetToPending(ctx, uuid.NewString())
	require.NoError(t, err)
	require.False(t, ok)

	deleted, err := later.Delete(ctx, withTTL.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = later.Delete(ctx, withTTL.ID)
	require.NoError(t, err)
	require.False(t, deleted)
}
