package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dgduncan/go-gh-cache/credentials"
	"github.com/dgduncan/go-gh-cache/profiles"
)

// timeLayout has a fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const projectColumns = `id, user_id, name, token, owner, repo, enterprise_url,
	requires_vpn, demo_mode, is_active, created_at, updated_at`

// sealed holds the at-rest form of a project's credential columns.
type sealed struct {
	token, owner, repo, enterpriseURL string
}

func (s *Store) seal(p *profiles.Project) (sealed, error) {
	var out sealed
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&out.token, p.Token},
		{&out.owner, p.Owner},
		{&out.repo, p.Repo},
		{&out.enterpriseURL, p.EnterpriseURL},
	} {
		v, err := s.sealer.Seal(f.src, p.UserID)
		if err != nil {
			return sealed{}, err
		}
		*f.dst = v
	}
	return out, nil
}

// Create inserts a new project.
func (s *Store) Create(ctx context.Context, p *profiles.Project, setActive bool) error {
	if err := p.Validate(); err != nil {
		return err
	}

	p.ID = uuid.Must(uuid.NewV7()).String()
	p.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	p.UpdatedAt = p.CreatedAt
	p.IsActive = setActive

	enc, err := s.seal(p)
	if err != nil {
		return err
	}

	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if setActive {
		if _, err := tx.ExecContext(ctx, `UPDATE projects SET is_active=0 WHERE user_id=?`, p.UserID); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, enc.token, enc.owner, enc.repo, enc.enterpriseURL,
		p.RequiresVPN, p.DemoMode, p.IsActive,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return duplicateErr(err)
	}
	return tx.Commit()
}

// Get retrieves a project of userID by ID.
func (s *Store) Get(ctx context.Context, userID, id string) (*profiles.Project, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id=? AND user_id=?`, id, userID)
	return s.open(ctx, row)
}

// List returns all projects of userID, newest first.
func (s *Store) List(ctx context.Context, userID string) ([]*profiles.Project, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raw []*profiles.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		raw = append(raw, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, p := range raw {
		if err := s.decrypt(ctx, p); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// Update saves the mutable fields of p. The active flag is changed only
// through SetActive.
func (s *Store) Update(ctx context.Context, p *profiles.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}

	enc, err := s.seal(p)
	if err != nil {
		return err
	}
	p.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)

	result, err := s.write.ExecContext(ctx,
		`UPDATE projects SET name=?, token=?, owner=?, repo=?, enterprise_url=?,
		 requires_vpn=?, demo_mode=?, updated_at=?
		 WHERE id=? AND user_id=?`,
		p.Name, enc.token, enc.owner, enc.repo, enc.enterpriseURL,
		p.RequiresVPN, p.DemoMode, formatTime(p.UpdatedAt),
		p.ID, p.UserID,
	)
	if err != nil {
		return duplicateErr(err)
	}
	return checkRowsAffected(result)
}

// Delete removes a project.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM projects WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

// SetActive makes id the only active project of userID.
func (s *Store) SetActive(ctx context.Context, userID, id string) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE projects SET is_active=0 WHERE user_id=?`, userID); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx,
		`UPDATE projects SET is_active=1, updated_at=? WHERE id=? AND user_id=?`,
		formatTime(s.now().UTC()), id, userID)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(result); err != nil {
		return err
	}
	return tx.Commit()
}

// Active returns the active project of userID.
func (s *Store) Active(ctx context.Context, userID string) (*profiles.Project, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id=? AND is_active=1 LIMIT 1`, userID)
	return s.open(ctx, row)
}

func (s *Store) open(ctx context.Context, row *sql.Row) (*profiles.Project, error) {
	p, err := scanProject(row)
	if err != nil {
		return nil, err
	}
	if err := s.decrypt(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// decrypt opens the credential fields of p in place. Rows written before
// sealing was introduced hold plaintext; they are sealed and rewritten.
func (s *Store) decrypt(ctx context.Context, p *profiles.Project) error {
	legacy := false
	for _, f := range []*string{&p.Token, &p.Owner, &p.Repo, &p.EnterpriseURL} {
		if *f != "" && !credentials.IsSealed(*f) {
			legacy = true
			continue
		}
		v, err := s.sealer.Open(*f, p.UserID)
		if err != nil {
			return fmt.Errorf("project %s: %w", p.ID, err)
		}
		*f = v
	}

	if legacy {
		if err := s.reseal(ctx, p); err != nil {
			s.logger.WarnContext(ctx, "error sealing legacy project credentials", "project", p.ID, "error", err)
		} else {
			s.logger.InfoContext(ctx, "sealed legacy project credentials", "project", p.ID)
		}
	}
	return nil
}

func (s *Store) reseal(ctx context.Context, p *profiles.Project) error {
	enc, err := s.seal(p)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`UPDATE projects SET token=?, owner=?, repo=?, enterprise_url=? WHERE id=?`,
		enc.token, enc.owner, enc.repo, enc.enterpriseURL, p.ID)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(s scanner) (*profiles.Project, error) {
	var p profiles.Project
	var createdAt, updatedAt string

	err := s.Scan(&p.ID, &p.UserID, &p.Name, &p.Token, &p.Owner, &p.Repo, &p.EnterpriseURL,
		&p.RequiresVPN, &p.DemoMode, &p.IsActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, profiles.ErrNotFound
		}
		return nil, err
	}

	if p.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func checkRowsAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return profiles.ErrNotFound
	}
	return nil
}

// duplicateErr translates a unique constraint violation to
// profiles.ErrDuplicateName.
func duplicateErr(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return profiles.ErrDuplicateName
	}
	return err
}
