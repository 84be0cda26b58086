// Package resource exposes read access to stored resources. Missing resources are
// reported as nil without an error. Deleted resources stay readable with their
// Deleted flag set.
package resource

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/repo"
)

type store interface {
	Get(ctx context.Context, id string, resourceType model.ResourceType) (*model.Resource, error)
	GetByURI(ctx context.Context, uri string, resourceType model.ResourceType) (*model.Resource, error)
	GetEntityByURI(ctx context.Context, uri string) (*model.Resource, error)
}

type Service struct {
	store store
	log   logger.Logger
}

func New(store store, log logger.Logger) *Service {
	return &Service{
		store: store,
		log:   log.Child("resource"),
	}
}

func (s *Service) GetJSON(ctx context.Context, id string, resourceType model.ResourceType) (json.RawMessage, error) {
	res, err := s.found(s.store.Get(ctx, id, resourceType))
	if err != nil || res == nil {
		return nil, err
	}
	return res.JSON, nil
}

func (s *Service) GetJSONByURI(ctx context.Context, uri string, resourceType model.ResourceType) (json.RawMessage, error) {
	res, err := s.found(s.store.GetByURI(ctx, uri, resourceType))
	if err != nil || res == nil {
		return nil, err
	}
	return res.JSON, nil
}

func (s *Service) GetJSONLD(ctx context.Context, id string, resourceType model.ResourceType) (json.RawMessage, error) {
	res, err := s.found(s.store.Get(ctx, id, resourceType))
	if err != nil || res == nil {
		return nil, err
	}
	return res.JSONLD, nil
}

func (s *Service) GetJSONLDByURI(ctx context.Context, uri string, resourceType model.ResourceType) (json.RawMessage, error) {
	res, err := s.found(s.store.GetByURI(ctx, uri, resourceType))
	if err != nil || res == nil {
		return nil, err
	}
	return res.JSONLD, nil
}

// GetEntityByURI returns the resource of any type published under uri.
func (s *Service) GetEntityByURI(ctx context.Context, uri string) (*model.Resource, error) {
	return s.found(s.store.GetEntityByURI(ctx, uri))
}

func (s *Service) found(res *model.Resource, err error) (*model.Resource, error) {
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if res.Deleted {
		s.log.Debugn("Serving deleted resource",
			logger.NewStringField("resourceId", res.ID),
			logger.NewStringField("resourceType", res.ResourceType.String()),
		)
	}
	return res, nil
}
