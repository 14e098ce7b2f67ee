package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/feed-archiver/internal/archive"
)

// Sort orders for post listings.
const (
	SortNewest = "newest"
	SortOldest = "oldest"
)

// PostQuery filters and pages a post listing. Empty filter slices match every value.
type PostQuery struct {
	AccountID      string
	ContentRatings []string
	SafetyRatings  []string
	Sort           string
	Limit          int
	Offset         int
}

// PostPage is one page of a listing plus the total number of matches.
type PostPage struct {
	Posts []archive.Post `json:"posts"`
	Total int            `json:"total"`
}

const postColumns = `post_id, account_id, text, post_date, archive_date, content_rating, safety_rating`

func scanPost(row rowScanner) (archive.Post, error) {
	var (
		p        archive.Post
		posted   int64
		archived int64
	)
	if err := row.Scan(&p.ID, &p.AccountID, &p.Text, &posted, &archived,
		&p.Rating.Content, &p.Rating.Safety); err != nil {
		return archive.Post{}, err
	}
	p.PostedAt = fromMillis(posted)
	p.ArchivedAt = fromMillis(archived)
	return p, nil
}

// InsertPost inserts a post with the sentinel rating unless it was already
// archived. It reports whether a new row was written.
func (q *Queries) InsertPost(ctx context.Context, p archive.Post) (bool, error) {
	rating := p.Rating
	if rating == (archive.Rating{}) {
		rating = archive.WaitingRating
	}
	res, err := q.q.ExecContext(ctx, `INSERT OR IGNORE INTO posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AccountID, p.Text, toMillis(p.PostedAt), toMillis(p.ArchivedAt), rating.Content, rating.Safety)
	if err != nil {
		return false, fmt.Errorf("insert post %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert post %s: rows affected: %w", p.ID, err)
	}
	return n > 0, nil
}

// PostExists reports whether a post id has been archived.
func (q *Queries) PostExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := q.q.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE post_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check post %s: %w", id, err)
	}
	return true, nil
}

// GetPost loads a post and its media ordered by position.
func (q *Queries) GetPost(ctx context.Context, id string) (archive.Post, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE post_id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return archive.Post{}, fmt.Errorf("post %s: %w", id, archive.ErrNotFound)
	}
	if err != nil {
		return archive.Post{}, fmt.Errorf("get post %s: %w", id, err)
	}
	media, err := q.MediaForPost(ctx, id)
	if err != nil {
		return archive.Post{}, err
	}
	p.Media = media
	return p, nil
}

// SetPostRating stores a post's rating pair.
func (q *Queries) SetPostRating(ctx context.Context, id string, rating archive.Rating) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE posts SET content_rating = ?, safety_rating = ? WHERE post_id = ?`,
		rating.Content, rating.Safety, id)
	return requireOneRow(res, err, "rate post "+id)
}

// ListPosts returns one page of posts, each with its media.
func (q *Queries) ListPosts(ctx context.Context, query PostQuery) (PostPage, error) {
	where, args := postFilter(query)

	var total int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`+where, args...).Scan(&total); err != nil {
		return PostPage{}, fmt.Errorf("count posts: %w", err)
	}

	order := " ORDER BY post_date DESC, post_id DESC"
	if query.Sort == SortOldest {
		order = " ORDER BY post_date ASC, post_id ASC"
	}
	limit := query.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	pageArgs := append(append([]any(nil), args...), limit, offset)
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts`+where+order+` LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return PostPage{}, fmt.Errorf("list posts: %w", err)
	}
	var posts []archive.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			_ = rows.Close()
			return PostPage{}, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return PostPage{}, fmt.Errorf("iterate posts: %w", err)
	}
	_ = rows.Close()

	for i := range posts {
		media, err := q.MediaForPost(ctx, posts[i].ID)
		if err != nil {
			return PostPage{}, err
		}
		posts[i].Media = media
	}
	return PostPage{Posts: posts, Total: total}, nil
}

func postFilter(query PostQuery) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if query.AccountID != "" {
		clauses = append(clauses, "account_id = ?")
		args = append(args, query.AccountID)
	}
	if len(query.ContentRatings) > 0 {
		clauses = append(clauses, "content_rating IN ("+placeholders(len(query.ContentRatings))+")")
		for _, r := range query.ContentRatings {
			args = append(args, r)
		}
	}
	if len(query.SafetyRatings) > 0 {
		clauses = append(clauses, "safety_rating IN ("+placeholders(len(query.SafetyRatings))+")")
		for _, r := range query.SafetyRatings {
			args = append(args, r)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
