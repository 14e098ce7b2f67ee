package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/feed-archiver/internal/archive"
	"github.com/JakeFAU/feed-archiver/internal/relocate"
	"github.com/JakeFAU/feed-archiver/internal/store"
)

const (
	defaultPostLimit   = 50
	maxPostLimit       = 200
	defaultSearchLimit = 25
	maxSearchLimit     = 100
)

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"content_ratings": s.deps.Vocabulary.Content,
		"safety_ratings":  s.deps.Vocabulary.Safety,
	})
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.deps.Archive.ListAccounts(r.Context())
	if err != nil {
		s.respondError(w, "accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": nonNil(accounts)})
}

// searchAccounts handles GET /api/accounts/search?q=&limit=.
func (s *Server) searchAccounts(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, _, err := parseLimitOffset(r, defaultSearchLimit, maxSearchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	accounts, err := s.deps.Archive.SearchAccounts(r.Context(), term, limit)
	if err != nil {
		s.respondError(w, "accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": nonNil(accounts)})
}

// getAccount accepts a remote id or an @handle.
func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.lookupAccount(r.Context(), chi.URLParam(r, "account_id"))
	if err != nil {
		s.respondError(w, "account", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account})
}

func (s *Server) listAccountPosts(w http.ResponseWriter, r *http.Request) {
	account, err := s.lookupAccount(r.Context(), chi.URLParam(r, "account_id"))
	if err != nil {
		s.respondError(w, "account", err)
		return
	}
	query, err := s.parsePostQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	query.AccountID = account.ID
	s.writePosts(w, r, query)
}

func (s *Server) lookupAccount(ctx context.Context, raw string) (archive.Account, error) {
	if strings.HasPrefix(raw, "@") {
		return s.deps.Archive.GetAccountByHandle(ctx, raw)
	}
	return s.deps.Archive.GetAccount(ctx, raw)
}

func (s *Server) listCreators(w http.ResponseWriter, r *http.Request) {
	creators, err := s.deps.Archive.ListCreators(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.respondError(w, "creators", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"creators": nonNil(creators)})
}

func (s *Server) getCreator(w http.ResponseWriter, r *http.Request) {
	id, err := parseInt64Param(r, "creator_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	creator, err := s.deps.Archive.GetCreator(r.Context(), id)
	if err != nil {
		s.respondError(w, "creator", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"creator": creator})
}

// listPosts handles GET /api/posts?limit=&offset=&c=&s=&sort=. Repeated c and
// s parameters filter on content and safety ratings; Waiting selects unrated posts.
func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	query, err := s.parsePostQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writePosts(w, r, query)
}

func (s *Server) writePosts(w http.ResponseWriter, r *http.Request, query store.PostQuery) {
	page, err := s.deps.Archive.ListPosts(r.Context(), query)
	if err != nil {
		s.respondError(w, "posts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"posts":  nonNil(page.Posts),
		"total":  page.Total,
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.deps.Archive.GetPost(r.Context(), chi.URLParam(r, "post_id"))
	if err != nil {
		s.respondError(w, "post", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": post})
}

func (s *Server) getMedia(w http.ResponseWriter, r *http.Request) {
	id, err := parseInt64Param(r, "media_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	media, err := s.deps.Archive.GetMedia(r.Context(), id)
	if err != nil {
		s.respondError(w, "media", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"media": media})
}

type rateRequest struct {
	ID      flexibleID `json:"id"`
	Content *string    `json:"content"`
	Safety  *string    `json:"safety"`
}

// ratePost handles POST /api/rate/post. The request is validated right away
// and applied once the target has been quiet for the debounce period.
func (s *Server) ratePost(w http.ResponseWriter, r *http.Request) {
	var body rateRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if _, err := s.deps.Archive.GetPost(r.Context(), string(body.ID)); err != nil {
		s.respondError(w, "post", err)
		return
	}
	s.submitRating(w, relocate.Request{
		Kind:    relocate.TargetPost,
		PostID:  string(body.ID),
		Content: body.Content,
		Safety:  body.Safety,
	})
}

// rateMedia handles POST /api/rate/media for a single file.
func (s *Server) rateMedia(w http.ResponseWriter, r *http.Request) {
	var body rateRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := strconv.ParseInt(string(body.ID), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	if _, err := s.deps.Archive.GetMedia(r.Context(), id); err != nil {
		s.respondError(w, "media", err)
		return
	}
	s.submitRating(w, relocate.Request{
		Kind:    relocate.TargetMedia,
		MediaID: id,
		Content: body.Content,
		Safety:  body.Safety,
	})
}

func (s *Server) submitRating(w http.ResponseWriter, req relocate.Request) {
	if req.Content == nil && req.Safety == nil {
		writeError(w, http.StatusBadRequest, "content or safety is required")
		return
	}
	if err := s.deps.Ratings.Submit(req); err != nil {
		s.respondError(w, "rating", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "target": req.Key()})
}

type captionRequest struct {
	Caption string `json:"caption"`
}

func (s *Server) setCaption(w http.ResponseWriter, r *http.Request) {
	id, err := parseInt64Param(r, "media_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body captionRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caption := strings.TrimSpace(body.Caption)
	err = s.deps.Writer.Do(r.Context(), "caption media", func(ctx context.Context, tx *sql.Tx) error {
		return store.New(tx).SetMediaCaption(ctx, id, caption)
	})
	if err != nil {
		s.respondError(w, "media", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"media_id": id, "caption": caption})
}

func (s *Server) parsePostQuery(r *http.Request) (store.PostQuery, error) {
	limit, offset, err := parseLimitOffset(r, defaultPostLimit, maxPostLimit)
	if err != nil {
		return store.PostQuery{}, err
	}
	q := r.URL.Query()
	query := store.PostQuery{Limit: limit, Offset: offset, Sort: store.SortNewest}
	switch sort := strings.ToLower(strings.TrimSpace(q.Get("sort"))); sort {
	case "", store.SortNewest:
	case store.SortOldest:
		query.Sort = store.SortOldest
	default:
		return store.PostQuery{}, fmt.Errorf("sort must be %q or %q", store.SortNewest, store.SortOldest)
	}
	if query.ContentRatings, err = s.ratingFilter(archive.AxisContent, q["c"]); err != nil {
		return store.PostQuery{}, err
	}
	if query.SafetyRatings, err = s.ratingFilter(archive.AxisSafety, q["s"]); err != nil {
		return store.PostQuery{}, err
	}
	return query, nil
}

func (s *Server) ratingFilter(axis archive.Axis, raw []string) ([]string, error) {
	var out []string
	for _, value := range raw {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if strings.EqualFold(value, archive.Waiting) {
			out = append(out, archive.Waiting)
			continue
		}
		canonical, ok := s.deps.Vocabulary.Canonical(axis, value)
		if !ok {
			return nil, fmt.Errorf("unknown %s rating %q", strings.ToLower(string(axis)), value)
		}
		out = append(out, canonical)
	}
	return out, nil
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int, error) {
	limit := defaultLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(v, maxLimit)
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
		offset = v
	}
	return limit, offset, nil
}

func parseInt64Param(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return v, nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON")
	}
	return nil
}

// flexibleID accepts an id sent either as a JSON string or a JSON number.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*f = flexibleID(strings.TrimSpace(str))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*f = flexibleID(num.String())
	return nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
