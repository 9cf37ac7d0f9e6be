package models

import "time"

// Project is the root of the content hierarchy. Access is always scoped to
// the owning user; the auth layer is what makes that scoping trustworthy.
type Project struct {
	ID          string     `db:"id" json:"id"`
	OwnerID     string     `db:"owner_id" json:"owner_id"`
	Slug        string     `db:"slug" json:"slug"`
	Title       string     `db:"title" json:"title"`
	Description *string    `db:"description" json:"description,omitempty"`
	DeletedAt   *time.Time `db:"deleted_at" json:"-"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Book is a volume inside a project.
type Book struct {
	ID        string     `db:"id" json:"id"`
	ProjectID string     `db:"project_id" json:"project_id"`
	Slug      string     `db:"slug" json:"slug"`
	Title     string     `db:"title" json:"title"`
	Position  int        `db:"position" json:"position"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// CreateProjectRequest creates a project for the authenticated user.
type CreateProjectRequest struct {
	Slug        string  `json:"slug" validate:"required,max=120"`
	Title       string  `json:"title" validate:"required,max=255"`
	Description *string `json:"description" validate:"omitempty,max=20000"`
}

// UpdateProjectRequest mutates a project's editable fields.
type UpdateProjectRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=255"`
	Description *string `json:"description" validate:"omitempty,max=20000"`
}
