package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/JakeFAU/feed-archiver/internal/archive"
)

const mediaColumns = `id, post_id, media_type, original_url, local_path, caption, media_index,
	perceptual_hash, data_hash, duplicate_of, width, height, filesize, content_rating, safety_rating, rating_independent`

func scanMedia(row rowScanner) (archive.Media, error) {
	var (
		m         archive.Media
		caption   sql.NullString
		phash     sql.NullString
		duplicate sql.NullInt64
		width     sql.NullInt64
		height    sql.NullInt64
		size      sql.NullInt64
		own       int
	)
	if err := row.Scan(&m.ID, &m.PostID, &m.Type, &m.OriginalURL, &m.LocalPath, &caption, &m.Index,
		&phash, &m.DataHash, &duplicate, &width, &height, &size,
		&m.Rating.Content, &m.Rating.Safety, &own); err != nil {
		return archive.Media{}, err
	}
	m.Caption = caption.String
	m.PerceptualHash = phash.String
	if duplicate.Valid {
		id := duplicate.Int64
		m.DuplicateOf = &id
	}
	m.Width = int(width.Int64)
	m.Height = int(height.Int64)
	m.FileSize = size.Int64
	m.OwnRating = own != 0
	return m, nil
}

// InsertMedia writes one media row and returns its id. When another row
// already holds identical bytes the new row is linked to it through duplicate_of.
func (q *Queries) InsertMedia(ctx context.Context, m archive.Media) (int64, error) {
	rating := m.Rating
	if rating == (archive.Rating{}) {
		rating = archive.WaitingRating
	}
	if m.DuplicateOf == nil && m.DataHash != "" {
		var original int64
		err := q.q.QueryRowContext(ctx,
			`SELECT id FROM media WHERE data_hash = ? ORDER BY id LIMIT 1`, m.DataHash).Scan(&original)
		switch {
		case err == nil:
			m.DuplicateOf = &original
		case !errors.Is(err, sql.ErrNoRows):
			return 0, fmt.Errorf("lookup duplicate media: %w", err)
		}
	}
	var duplicate sql.NullInt64
	if m.DuplicateOf != nil {
		duplicate = sql.NullInt64{Int64: *m.DuplicateOf, Valid: true}
	}
	res, err := q.q.ExecContext(ctx, `INSERT INTO media (post_id, media_type, original_url, local_path,
		caption, media_index, perceptual_hash, data_hash, duplicate_of, width, height, filesize,
		content_rating, safety_rating)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.PostID, m.Type, m.OriginalURL, m.LocalPath, nullString(m.Caption), m.Index,
		nullString(m.PerceptualHash), m.DataHash, duplicate, nullInt(int64(m.Width)), nullInt(int64(m.Height)),
		nullInt(m.FileSize), rating.Content, rating.Safety)
	if err != nil {
		return 0, fmt.Errorf("insert media %s#%d: %w", m.PostID, m.Index, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert media %s#%d: last id: %w", m.PostID, m.Index, err)
	}
	return id, nil
}

// GetMedia loads a media row by id.
func (q *Queries) GetMedia(ctx context.Context, id int64) (archive.Media, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = ?`, id)
	m, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return archive.Media{}, fmt.Errorf("media %d: %w", id, archive.ErrNotFound)
	}
	if err != nil {
		return archive.Media{}, fmt.Errorf("get media %d: %w", id, err)
	}
	return m, nil
}

// MediaForPost lists a post's media ordered by position.
func (q *Queries) MediaForPost(ctx context.Context, postID string) ([]archive.Media, error) {
	return q.queryMedia(ctx, `SELECT `+mediaColumns+` FROM media WHERE post_id = ? ORDER BY media_index`, postID)
}

// ListMedia pages through all media rows by ascending id, starting after afterID.
func (q *Queries) ListMedia(ctx context.Context, afterID int64, limit int) ([]archive.Media, error) {
	if limit <= 0 {
		limit = 500
	}
	return q.queryMedia(ctx, `SELECT `+mediaColumns+` FROM media WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
}

func (q *Queries) queryMedia(ctx context.Context, query string, args ...any) ([]archive.Media, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query media: %w", err)
	}
	defer rows.Close()
	var out []archive.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media: %w", err)
	}
	return out, nil
}

// SetMediaLocation stores a media row's rating pair and on-disk path.
func (q *Queries) SetMediaLocation(ctx context.Context, id int64, rating archive.Rating, path string) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE media SET content_rating = ?, safety_rating = ?, local_path = ? WHERE id = ?`,
		rating.Content, rating.Safety, path, id)
	return requireOneRow(res, err, fmt.Sprintf("relocate media %d", id))
}

// MarkMediaRated flags a media row as carrying its own rating, so later post
// ratings no longer cascade to it.
func (q *Queries) MarkMediaRated(ctx context.Context, id int64) error {
	res, err := q.q.ExecContext(ctx, `UPDATE media SET rating_independent = 1 WHERE id = ?`, id)
	return requireOneRow(res, err, fmt.Sprintf("mark media %d", id))
}

// SetMediaCaption replaces a media row's caption; an empty caption clears it.
func (q *Queries) SetMediaCaption(ctx context.Context, id int64, caption string) error {
	res, err := q.q.ExecContext(ctx, `UPDATE media SET caption = ? WHERE id = ?`, nullString(caption), id)
	return requireOneRow(res, err, fmt.Sprintf("caption media %d", id))
}
