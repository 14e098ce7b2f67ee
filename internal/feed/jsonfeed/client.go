// Package jsonfeed implements archive.FeedSource against a JSON timeline
// service exposing
//
//	GET {base}/accounts/{id}/media?cursor={cursor}  -> {"items": [...], "next_cursor": "..."}
//	GET {base}/items/{id}                           -> {...item...}
//
// Authentication and the upstream network's wire format live behind that service.
package jsonfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/feed-archiver/internal/archive"
)

// Client fetches timeline pages and single items.
type Client struct {
	base    *url.URL
	fetcher archive.Fetcher
}

// New builds a client for baseURL using fetcher for transport.
func New(baseURL string, fetcher archive.Fetcher) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("jsonfeed: fetcher is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse feed base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("feed base url must be http(s), got %q", baseURL)
	}
	return &Client{base: u, fetcher: fetcher}, nil
}

// FetchPage returns one page of the account's media timeline, newest first.
func (c *Client) FetchPage(ctx context.Context, accountID, cursor string) (archive.Page, error) {
	u := c.endpoint("accounts", accountID, "media")
	if cursor != "" {
		q := u.Query()
		q.Set("cursor", cursor)
		u.RawQuery = q.Encode()
	}
	var page archive.Page
	if err := c.get(ctx, u, &page); err != nil {
		return archive.Page{}, fmt.Errorf("fetch timeline of %s: %w", accountID, err)
	}
	for i := range page.Items {
		if page.Items[i].AccountID == "" {
			page.Items[i].AccountID = accountID
		}
	}
	return page, nil
}

// FetchItem returns a single item by id.
func (c *Client) FetchItem(ctx context.Context, itemID string) (archive.FeedItem, error) {
	var item archive.FeedItem
	if err := c.get(ctx, c.endpoint("items", itemID), &item); err != nil {
		return archive.FeedItem{}, fmt.Errorf("fetch item %s: %w", itemID, err)
	}
	if item.ID == "" {
		return archive.FeedItem{}, fmt.Errorf("fetch item %s: %w", itemID, archive.ErrNotFound)
	}
	return item, nil
}

func (c *Client) endpoint(parts ...string) *url.URL {
	u := *c.base
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	u.Path = u.Path + "/" + strings.Join(escaped, "/")
	u.RawPath = ""
	return &u
}

func (c *Client) get(ctx context.Context, u *url.URL, out any) error {
	body, err := c.fetcher.Fetch(ctx, u.String())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", u.Path, err)
	}
	return nil
}
