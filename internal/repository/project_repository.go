package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/inkroom/inkroom-api/internal/models"
)

const projectColumns = `id, owner_id, slug, title, description, deleted_at, created_at, updated_at`

// ProjectRepository provides ownership-scoped access to the content
// hierarchy. Every query carries the owner id; a row belonging to another
// user is indistinguishable from a missing one.
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository creates a new instance of ProjectRepository.
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// ListByOwner returns the non-deleted projects of a user.
func (r *ProjectRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE owner_id = $1 AND deleted_at IS NULL ORDER BY updated_at DESC`
	var projects []models.Project
	if err := r.db.SelectContext(ctx, &projects, query, ownerID); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// FindBySlug returns a non-deleted project by owner and slug.
func (r *ProjectRepository) FindBySlug(ctx context.Context, ownerID, slug string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE owner_id = $1 AND slug = $2 AND deleted_at IS NULL LIMIT 1`
	var project models.Project
	if err := r.db.GetContext(ctx, &project, query, ownerID, slug); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find project by slug: %w", err)
	}
	return &project, nil
}

// Create inserts a new project owned by the given user.
func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now
	const query = `INSERT INTO projects (id, owner_id, slug, title, description, created_at, updated_at)
		VALUES (:id, :owner_id, :slug, :title, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, project); err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// Update writes the mutable fields of a project.
func (r *ProjectRepository) Update(ctx context.Context, project *models.Project) error {
	project.UpdatedAt = time.Now().UTC()
	const query = `UPDATE projects SET title = :title, description = :description, updated_at = :updated_at
		WHERE id = :id AND owner_id = :owner_id AND deleted_at IS NULL`
	if _, err := r.db.NamedExecContext(ctx, query, project); err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

// SoftDelete marks a project deleted without removing the row.
func (r *ProjectRepository) SoftDelete(ctx context.Context, ownerID, slug string) error {
	const query = `UPDATE projects SET deleted_at = $3, updated_at = $3 WHERE owner_id = $1 AND slug = $2 AND deleted_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, ownerID, slug, time.Now().UTC()); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// Restore clears the soft-delete marker on a project.
func (r *ProjectRepository) Restore(ctx context.Context, ownerID, slug string) error {
	const query = `UPDATE projects SET deleted_at = NULL, updated_at = $3 WHERE owner_id = $1 AND slug = $2 AND deleted_at IS NOT NULL`
	if _, err := r.db.ExecContext(ctx, query, ownerID, slug, time.Now().UTC()); err != nil {
		return fmt.Errorf("restore project: %w", err)
	}
	return nil
}

// ListBooks returns the non-deleted books of a project the owner can see.
func (r *ProjectRepository) ListBooks(ctx context.Context, ownerID, projectSlug string) ([]models.Book, error) {
	const query = `SELECT b.id, b.project_id, b.slug, b.title, b.position, b.deleted_at, b.created_at, b.updated_at
		FROM books b
		JOIN projects p ON p.id = b.project_id
		WHERE p.owner_id = $1 AND p.slug = $2 AND p.deleted_at IS NULL AND b.deleted_at IS NULL
		ORDER BY b.position ASC`
	var books []models.Book
	if err := r.db.SelectContext(ctx, &books, query, ownerID, projectSlug); err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}
