package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/feed-archiver/internal/archive"
)

// FindCreatorByName looks a creator up by name, ignoring case.
func (q *Queries) FindCreatorByName(ctx context.Context, name string) (archive.Creator, error) {
	var c archive.Creator
	err := q.q.QueryRowContext(ctx,
		`SELECT id, name, description FROM creators WHERE name = ? COLLATE NOCASE`,
		strings.TrimSpace(name)).Scan(&c.ID, &c.Name, &c.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return archive.Creator{}, fmt.Errorf("creator %q: %w", name, archive.ErrNotFound)
	}
	if err != nil {
		return archive.Creator{}, fmt.Errorf("find creator %q: %w", name, err)
	}
	return c, nil
}

// InsertCreator creates a creator and returns it with its assigned id.
func (q *Queries) InsertCreator(ctx context.Context, name, description string) (archive.Creator, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return archive.Creator{}, fmt.Errorf("insert creator: name is required")
	}
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO creators (name, description) VALUES (?, ?)`, name, description)
	if err != nil {
		return archive.Creator{}, fmt.Errorf("insert creator %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return archive.Creator{}, fmt.Errorf("insert creator %q: last id: %w", name, err)
	}
	return archive.Creator{ID: id, Name: name, Description: description}, nil
}

// GetCreator loads a creator together with its accounts.
func (q *Queries) GetCreator(ctx context.Context, id int64) (archive.Creator, error) {
	var c archive.Creator
	err := q.q.QueryRowContext(ctx,
		`SELECT id, name, description FROM creators WHERE id = ?`, id).Scan(&c.ID, &c.Name, &c.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return archive.Creator{}, fmt.Errorf("creator %d: %w", id, archive.ErrNotFound)
	}
	if err != nil {
		return archive.Creator{}, fmt.Errorf("get creator %d: %w", id, err)
	}
	accounts, err := q.AccountsForCreator(ctx, id)
	if err != nil {
		return archive.Creator{}, err
	}
	c.Accounts = accounts
	return c, nil
}

// ListCreators returns creators whose name contains term (all when empty).
func (q *Queries) ListCreators(ctx context.Context, term string) ([]archive.Creator, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(term)) + "%"
	rows, err := q.q.QueryContext(ctx, `SELECT id, name, description FROM creators
		WHERE name LIKE ? ESCAPE '\' ORDER BY name COLLATE NOCASE`, pattern)
	if err != nil {
		return nil, fmt.Errorf("list creators: %w", err)
	}
	defer rows.Close()
	var out []archive.Creator
	for rows.Next() {
		var c archive.Creator
		if err := rows.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, fmt.Errorf("scan creator: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate creators: %w", err)
	}
	return out, nil
}

// SetCreatorDescription replaces a creator's free-text description.
func (q *Queries) SetCreatorDescription(ctx context.Context, id int64, description string) error {
	res, err := q.q.ExecContext(ctx, `UPDATE creators SET description = ? WHERE id = ?`, description, id)
	return requireOneRow(res, err, fmt.Sprintf("describe creator %d", id))
}
