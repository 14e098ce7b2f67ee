package jsonfeed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/feed-archiver/internal/archive"
)

func TestFetchPageThreadsCursor(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{responses: map[string]string{
		"http://feed.local/api/accounts/42/media":           `{"items":[{"id":"103","text":"hi","media":[{"kind":"photo","url":"https://img/a.jpg"}]}],"next_cursor":"c1"}`,
		"http://feed.local/api/accounts/42/media?cursor=c1": `{"items":[]}`,
	}}
	c, err := New("http://feed.local/api/", f)
	require.NoError(t, err)

	page, err := c.FetchPage(context.Background(), "42", "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "42", page.Items[0].AccountID, "account id is filled in from the request")
	assert.Equal(t, archive.KindPhoto, page.Items[0].Media[0].Kind)
	assert.Equal(t, "c1", page.NextCursor)

	page, err = c.FetchPage(context.Background(), "42", page.NextCursor)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.NextCursor)
}

func TestFetchItem(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{responses: map[string]string{
		"http://feed.local/items/7": `{"id":"7","account_id":"42","handle":"alice"}`,
		"http://feed.local/items/8": `{}`,
		"http://feed.local/items/9": `not json`,
	}}
	c, err := New("http://feed.local", f)
	require.NoError(t, err)

	item, err := c.FetchItem(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "alice", item.Handle)

	_, err = c.FetchItem(context.Background(), "8")
	require.ErrorIs(t, err, archive.ErrNotFound)

	_, err = c.FetchItem(context.Background(), "9")
	require.Error(t, err)

	_, err = c.FetchItem(context.Background(), "10")
	require.ErrorIs(t, err, errUnknownURL)
}

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New("http://feed.local", nil)
	require.Error(t, err)
	_, err = New("ftp://feed.local", &fakeFetcher{})
	require.Error(t, err)
}

var errUnknownURL = errors.New("unknown url")

type fakeFetcher struct {
	responses map[string]string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	body, ok := f.responses[url]
	if !ok {
		return nil, errUnknownURL
	}
	return []byte(body), nil
}
