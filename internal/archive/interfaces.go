package archive

import (
	"context"
	"image"
	"time"
)

// MediaKind classifies a media descriptor returned by a feed source.
type MediaKind string

// Known media kinds.
const (
	KindPhoto       MediaKind = "photo"
	KindVideo       MediaKind = "video"
	KindAnimatedGIF MediaKind = "animated_gif"
)

// Variant is one encoding of a video-like media item.
type Variant struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Bitrate     int    `json:"bitrate"`
}

// MediaDescriptor describes one attachment of a feed item as reported upstream.
type MediaDescriptor struct {
	Kind     MediaKind `json:"kind"`
	URL      string    `json:"url"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Variants []Variant `json:"variants,omitempty"`
}

// FeedItem is one entry of an account's media timeline.
type FeedItem struct {
	ID        string            `json:"id"`
	AccountID string            `json:"account_id"`
	Handle    string            `json:"handle"`
	Text      string            `json:"text"`
	CreatedAt time.Time         `json:"created_at"`
	Media     []MediaDescriptor `json:"media"`
}

// Page is one response of a timeline request. An empty NextCursor means the
// source cannot be asked for anything older.
type Page struct {
	Items      []FeedItem `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// FeedSource exposes an account's media timeline, newest first.
type FeedSource interface {
	FetchPage(ctx context.Context, accountID, cursor string) (Page, error)
	FetchItem(ctx context.Context, itemID string) (FeedItem, error)
}

// Fetcher downloads the raw bytes behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ContentHasher digests raw bytes.
type ContentHasher interface {
	Hash(data []byte) (string, error)
}

// PerceptualHasher fingerprints a decoded image.
type PerceptualHasher interface {
	Hash(img image.Image) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates identifiers for cycles and requests.
type IDGenerator interface {
	NewID() (string, error)
}
