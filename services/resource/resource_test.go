package resource_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/repo"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/resource"
)

type mockStore struct {
	resources map[string]*model.Resource
	err       error
}

func (m *mockStore) Get(_ context.Context, id string, resourceType model.ResourceType) (*model.Resource, error) {
	if m.err != nil {
		return nil, m.err
	}
	res, ok := m.resources[id]
	if !ok || res.ResourceType != resourceType {
		return nil, repo.ErrNotFound
	}
	return res, nil
}

func (m *mockStore) GetByURI(_ context.Context, uri string, resourceType model.ResourceType) (*model.Resource, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, res := range m.resources {
		if res.URI == uri && res.ResourceType == resourceType {
			return res, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *mockStore) GetEntityByURI(ctx context.Context, uri string) (*model.Resource, error) {
	for _, t := range model.ResourceTypes {
		if res, err := m.GetByURI(ctx, uri, t); err == nil {
			return res, nil
		}
	}
	return nil, repo.ErrNotFound
}

func TestService(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{resources: map[string]*model.Resource{
		"live": {
			ID:           "live",
			ResourceType: model.ResourceTypeConcept,
			URI:          "https://example.org/live",
			JSON:         []byte(`{"uri":"https://example.org/live"}`),
			JSONLD:       []byte(`{"@id":"https://example.org/live"}`),
		},
		"gone": {
			ID:           "gone",
			ResourceType: model.ResourceTypeConcept,
			URI:          "https://example.org/gone",
			JSON:         []byte(`{"uri":"https://example.org/gone"}`),
			Deleted:      true,
		},
		"tombstone": {
			ID:           "tombstone",
			ResourceType: model.ResourceTypeConcept,
			Deleted:      true,
		},
	}}
	s := resource.New(store, logger.NOP)

	doc, err := s.GetJSON(ctx, "live", model.ResourceTypeConcept)
	require.NoError(t, err)
	require.JSONEq(t, `{"uri":"https://example.org/live"}`, string(doc))

	doc, err = s.GetJSONLDByURI(ctx, "https://example.org/live", model.ResourceTypeConcept)
	require.NoError(t, err)
	require.JSONEq(t, `{"@id":"https://example.org/live"}`, string(doc))

	doc, err = s.GetJSON(ctx, "live", model.ResourceTypeDataset)
	require.NoError(t, err)
	require.Nil(t, doc)

	doc, err = s.GetJSONByURI(ctx, "https://example.org/gone", model.ResourceTypeConcept)
	require.NoError(t, err)
	require.JSONEq(t, `{"uri":"https://example.org/gone"}`, string(doc))

	entity, err := s.GetEntityByURI(ctx, "https://example.org/gone")
	require.NoError(t, err)
	require.True(t, entity.Deleted)

	doc, err = s.GetJSONLD(ctx, "tombstone", model.ResourceTypeConcept)
	require.NoError(t, err)
	require.Empty(t, doc)

	entity, err = s.GetEntityByURI(ctx, "https://example.org/live")
	require.NoError(t, err)
	require.Equal(t, model.ResourceTypeConcept, entity.ResourceType)

	entity, err = s.GetEntityByURI(ctx, "https://example.org/missing")
	require.NoError(t, err)
	require.Nil(t, entity)

	store.err = errors.New("db down")
	_, err = s.GetJSON(ctx, "live", model.ResourceTypeConcept)
	require.ErrorIs(t, err, store.err)
}
