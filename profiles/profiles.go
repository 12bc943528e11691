// Package profiles defines saved projects: a credential, a repository and a
// mode, owned by a user. At most one project per user is active.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no project matches the id for the user.
	ErrNotFound = errors.New("project not found")

	// ErrDuplicateName is returned when the user already has a project with
	// the same name.
	ErrDuplicateName = errors.New("project with this name already exists")

	// ErrInvalid is returned by Validate.
	ErrInvalid = errors.New("invalid project")
)

// Project is a saved repository profile.
type Project struct {
	ID     string
	UserID string
	Name   string

	Token         string
	Owner         string
	Repo          string
	EnterpriseURL string

	RequiresVPN bool
	// DemoMode selects the synthetic backend; credentials are then optional.
	DemoMode bool
	IsActive bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the fields a store needs before writing p.
func (p *Project) Validate() error {
	switch {
	case p.UserID == "":
		return fmt.Errorf("%w: missing user", ErrInvalid)
	case p.Name == "":
		return fmt.Errorf("%w: missing name", ErrInvalid)
	case p.DemoMode:
		return nil
	case p.Token == "":
		return fmt.Errorf("%w: missing token", ErrInvalid)
	case p.Owner == "" || p.Repo == "":
		return fmt.Errorf("%w: missing repository", ErrInvalid)
	}
	return nil
}

// Store persists projects. Every lookup is scoped to the owning user.
type Store interface {
	// Create assigns p an ID and timestamps and saves it. When setActive is
	// true every other project of the user is deactivated.
	Create(ctx context.Context, p *Project, setActive bool) error
	Get(ctx context.Context, userID, id string) (*Project, error)
	// List returns the user's projects, newest first.
	List(ctx context.Context, userID string) ([]*Project, error)
	Update(ctx context.Context, p *Project) error
	Delete(ctx context.Context, userID, id string) error
	SetActive(ctx context.Context, userID, id string) error
	// Active returns ErrNotFound when the user has no active project.
	Active(ctx context.Context, userID string) (*Project, error)
}
