package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/inkroom/inkroom-api/internal/models"
	appErrors "github.com/inkroom/inkroom-api/pkg/errors"
)

type projectStore interface {
	ListByOwner(ctx context.Context, ownerID string) ([]models.Project, error)
	FindBySlug(ctx context.Context, ownerID, slug string) (*models.Project, error)
	Create(ctx context.Context, project *models.Project) error
	Update(ctx context.Context, project *models.Project) error
	SoftDelete(ctx context.Context, ownerID, slug string) error
	Restore(ctx context.Context, ownerID, slug string) error
	ListBooks(ctx context.Context, ownerID, projectSlug string) ([]models.Book, error)
}

// ProjectService handles owner-scoped project access behind the auth gate.
type ProjectService struct {
	projects  projectStore
	validator *validator.Validate
	logger    *zap.Logger
}

func NewProjectService(projects projectStore, validate *validator.Validate, logger *zap.Logger) *ProjectService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ProjectService{projects: projects, validator: validate, logger: logger}
}

func (s *ProjectService) List(ctx context.Context, ownerID string) ([]models.Project, error) {
	projects, err := s.projects.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list projects")
	}
	return projects, nil
}

func (s *ProjectService) Get(ctx context.Context, ownerID, slug string) (*models.Project, error) {
	project, err := s.projects.FindBySlug(ctx, ownerID, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch project")
	}
	return project, nil
}

func (s *ProjectService) Create(ctx context.Context, ownerID string, req models.CreateProjectRequest) (*models.Project, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid project payload")
	}
	project := &models.Project{
		OwnerID:     ownerID,
		Slug:        req.Slug,
		Title:       req.Title,
		Description: req.Description,
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create project")
	}
	return project, nil
}

func (s *ProjectService) Update(ctx context.Context, ownerID, slug string, req models.UpdateProjectRequest) (*models.Project, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid project payload")
	}
	project, err := s.Get(ctx, ownerID, slug)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		project.Title = *req.Title
	}
	if req.Description != nil {
		project.Description = req.Description
	}
	project.UpdatedAt = time.Now().UTC()
	if err := s.projects.Update(ctx, project); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update project")
	}
	return project, nil
}

func (s *ProjectService) Delete(ctx context.Context, ownerID, slug string) error {
	if err := s.projects.SoftDelete(ctx, ownerID, slug); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete project")
	}
	return nil
}

func (s *ProjectService) Restore(ctx context.Context, ownerID, slug string) error {
	if err := s.projects.Restore(ctx, ownerID, slug); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restore project")
	}
	return nil
}

func (s *ProjectService) ListBooks(ctx context.Context, ownerID, projectSlug string) ([]models.Book, error) {
	if _, err := s.Get(ctx, ownerID, projectSlug); err != nil {
		return nil, err
	}
	books, err := s.projects.ListBooks(ctx, ownerID, projectSlug)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list books")
	}
	return books, nil
}
