package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/repo"
	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/sqlmw"
)

func TestResources_TimestampGating(t *testing.T) {
	db, ctx := setupDB(t), context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := repo.NewResources(db, repo.WithNow(func() time.Time { return now }))

	applied, err := r.UpsertJSONLD(ctx, "id-1", model.ResourceTypeDataset, []byte(`{"@id":"https://example.org/1","v":1}`), 100)
	require.NoError(t, err)
	require.True(t, applied)

	t.Run("lower timestamp is dropped", func(t *testing.T) {
		applied, err := r.UpsertJSONLD(ctx, "id-1", model.ResourceTypeDataset, []byte(`{"v":0}`), 99)
		require.NoError(t, err)
		require.False(t, applied)

		res, err := r.Get(ctx, "id-1", model.ResourceTypeDataset)
		require.NoError(t, err)
		require.JSONEq(t, `{"@id":"https://example.org/1","v":1}`, string(res.JSONLD))
		require.EqualValues(t, 100, res.Timestamp)
	})

	t.Run("equal timestamp is applied", func(t *testing.T) {
		applied, err := r.UpsertJSONLD(ctx, "id-1", model.ResourceTypeDataset, []byte(`{"v":2}`), 100)
		require.NoError(t, err)
		require.True(t, applied)

		res, err := r.Get(ctx, "id-1", model.ResourceTypeDataset)
		require.NoError(t, err)
		require.JSONEq(t, `{"v":2}`, string(res.JSONLD))
	})

	t.Run("higher timestamp is applied", func(t *testing.T) {
		applied, err := r.UpsertJSONLD(ctx, "id-1", model.ResourceTypeDataset, []byte(`{"v":3}`), 101)
		require.NoError(t, err)
		require.True(t, applied)

		res, err := r.Get(ctx, "id-1", model.ResourceTypeDataset)
		require.NoError(t, err)
		require.JSONEq(t, `{"v":3}`, string(res.JSONLD))
		require.EqualValues(t, 101, res.Timestamp)
	})

	t.Run("should update", func(t *testing.T) {
		ok, err := r.ShouldUpdate(ctx, "id-1", 100)
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = r.ShouldUpdate(ctx, "id-1", 101)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = r.ShouldUpdate(ctx, "unknown", 1)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("type mismatch is not found", func(t *testing.T) {
		_, err := r.Get(ctx, "id-1", model.ResourceTypeConcept)
		require.ErrorIs(t, err, repo.ErrNotFound)
	})
}

func TestResources_SoftDelete(t *testing.T) {
	db, ctx := setupDB(t), context.Background()
	r := repo.NewResources(db)

	_, err := r.UpsertJSONLD(ctx, "c-1", model.ResourceTypeConcept, []byte(`{"@id":"https://example.org/c1"}`), 10)
	require.NoError(t, err)

	t.Run("stale delete is dropped", func(t *testing.T) {
		applied, err := r.MarkDeleted(ctx, "c-1", model.ResourceTypeConcept, 9)
		require.NoError(t, err)
		require.False(t, applied)
	})

	t.Run("delete", func(t *testing.T) {
		applied, err := r.MarkDeleted(ctx, "c-1", model.ResourceTypeConcept, 11)
		require.NoError(t, err)
		require.True(t, applied)

		res, err := r.Get(ctx, "c-1", model.ResourceTypeConcept)
		require.NoError(t, err)
		require.True(t, res.Deleted)

		count, err := r.Count(ctx, repo.PageQuery{ResourceType: model.ResourceTypeConcept})
		require.NoError(t, err)
		require.Zero(t, count)

		count, err = r.Count(ctx, repo.PageQuery{ResourceType: model.ResourceTypeConcept, IncludeDeleted: true})
		require.NoError(t, err)
		require.EqualValues(t, 1, count)
	})

	t.Run("re-harvest clears deleted", func(t *testing.T) {
		applied, err := r.UpsertJSONLD(ctx, "c-1", model.ResourceTypeConcept, []byte(`{"@id":"https://example.org/c1"}`), 12)
		require.NoError(t, err)
		require.True(t, applied)

		res, err := r.Get(ctx, "c-1", model.ResourceTypeConcept)
		require.NoError(t, err)
		require.False(t, res.Deleted)
	})

	t.Run("tombstone for unknown resource", func(t *testing.T) {
		applied, err := r.MarkDeleted(ctx, "c-2", model.ResourceTypeConcept, 5)
		require.NoError(t, err)
		require.True(t, applied)

		res, err := r.Get(ctx, "c-2", model.ResourceTypeConcept)
		require.NoError(t, err)
		require.True(t, res.Deleted)
		require.Nil(t, res.JSONLD)
	})
}

func TestResources_Lookups(t *testing.T) {
	db, ctx := setupDB(t), context.Background()
	r := repo.NewResources(db)

	_, err := r.UpsertJSON(ctx, "ds-1", model.ResourceTypeDataset, []byte(`{"uri":"https://example.org/ds1","isOpenData":true}`), "https://example.org/ds1", 1)
	require.NoError(t, err)
	_, err = r.UpsertJSON(ctx, "ds-2", model.ResourceTypeDataset, []byte(`{"uri":"https://example.org/ds2","isOpenData":false,"isRelatedToTransportportal":true}`), "https://example.org/ds2", 1)
	require.NoError(t, err)
	_, err = r.UpsertJSON(ctx, "ds-3", model.ResourceTypeDataset, []byte(`{"uri":"https://example.org/ds3"}`), "", 1)
	require.NoError(t, err)
	_, err = r.UpsertJSON(ctx, "dsv-1", model.ResourceTypeDataService, []byte(`{"uri":"https://example.org/api"}`), "https://example.org/api", 1)
	require.NoError(t, err)

	t.Run("by uri", func(t *testing.T) {
		res, err := r.GetByURI(ctx, "https://example.org/ds1", model.ResourceTypeDataset)
		require.NoError(t, err)
		require.Equal(t, "ds-1", res.ID)

		_, err = r.GetByURI(ctx, "https://example.org/ds1", model.ResourceTypeConcept)
		require.ErrorIs(t, err, repo.ErrNotFound)
	})

	t.Run("entity by uri falls back to the document uri", func(t *testing.T) {
		res, err := r.GetEntityByURI(ctx, "https://example.org/api")
		require.NoError(t, err)
		require.Equal(t, model.ResourceTypeDataService, res.ResourceType)

		res, err = r.GetEntityByURI(ctx, "https://example.org/ds3")
		require.NoError(t, err)
		require.Equal(t, "ds-3", res.ID)
	})

	t.Run("find by uris", func(t *testing.T) {
		res, err := r.FindByURIs(ctx, []string{"https://example.org/api", "https://example.org/missing"}, model.ResourceTypeDataService)
		require.NoError(t, err)
		require.Len(t, res, 1)

		res, err = r.FindByURIs(ctx, nil, model.ResourceTypeDataService)
		require.NoError(t, err)
		require.Empty(t, res)
	})

	t.Run("dataset filters", func(t *testing.T) {
		yes, no := true, false

		count, err := r.Count(ctx, repo.PageQuery{
			ResourceType:   model.ResourceTypeDataset,
			DatasetFilters: &model.DatasetFilters{IsOpenData: &yes},
		})
		require.NoError(t, err)
		require.EqualValues(t, 1, count)

		count, err = r.Count(ctx, repo.PageQuery{
			ResourceType:   model.ResourceTypeDataset,
			DatasetFilters: &model.DatasetFilters{IsOpenData: &no},
		})
		require.NoError(t, err)
		require.EqualValues(t, 2, count)

		page, err := r.Page(ctx, repo.PageQuery{
			ResourceType:   model.ResourceTypeDataset,
			DatasetFilters: &model.DatasetFilters{IsOpenData: &no, IsRelatedToTransportportal: &yes},
		}, 0, 10)
		require.NoError(t, err)
		require.Len(t, page, 1)
		require.Equal(t, "ds-2", page[0].ID)
	})

	t.Run("paging in id order", func(t *testing.T) {
		q := repo.PageQuery{ResourceType: model.ResourceTypeDataset}

		first, err := r.Page(ctx, q, 0, 2)
		require.NoError(t, err)
		require.Equal(t, []string{"ds-1", "ds-2"}, []string{first[0].ID, first[1].ID})

		second, err := r.Page(ctx, q, 2, 2)
		require.NoError(t, err)
		require.Len(t, second, 1)
		require.Equal(t, "ds-3", second[0].ID)
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, r.Ping(ctx))
	})
}

func TestResources_DBErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := repo.NewResources(sqlmw.New(db))
	ctx := context.Background()
	boom := errors.New("connection refused")

	mock.ExpectExec("INSERT INTO resources").WillReturnError(boom)
	_, err = r.UpsertJSONLD(ctx, "id", model.ResourceTypeEvent, []byte(`{}`), 1)
	require.ErrorIs(t, err, boom)

	mock.ExpectExec("INSERT INTO resources").WillReturnError(boom)
	_, err = r.MarkDeleted(ctx, "id", model.ResourceTypeEvent, 1)
	require.ErrorIs(t, err, boom)

	mock.ExpectQuery("SELECT").WillReturnError(boom)
	_, err = r.Count(ctx, repo.PageQuery{ResourceType: model.ResourceTypeEvent})
	require.ErrorIs(t, err, boom)

	require.NoError(t, mock.ExpectationsWereMet())
}
