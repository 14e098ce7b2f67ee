package archive

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested account, post or media row does not exist.
var ErrNotFound = errors.New("not found")

// AccountStatus is the lifecycle state of a tracked account.
type AccountStatus string

// Supported account lifecycle states.
const (
	StatusActive    AccountStatus = "Active"
	StatusDeleted   AccountStatus = "Deleted"
	StatusSuspended AccountStatus = "Suspended"
)

// Valid reports whether s is a known lifecycle state.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusDeleted, StatusSuspended:
		return true
	default:
		return false
	}
}

// Creator groups one or more remote accounts under a single identity.
type Creator struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Accounts    []Account `json:"accounts,omitempty"`
}

// Account is a remote feed tracked by the archiver.
type Account struct {
	ID              string        `json:"id"`
	CreatorID       int64         `json:"creator_id"`
	Handle          string        `json:"handle"`
	DisplayName     string        `json:"display_name"`
	Status          AccountStatus `json:"status"`
	Protected       bool          `json:"protected"`
	DownloadEnabled bool          `json:"download_enabled"`
	// LastScrapedID is the resume watermark; empty until the first crawl.
	LastScrapedID string `json:"last_scraped_id,omitempty"`
	// NotifyThreadID references the external notification thread for the account.
	NotifyThreadID string `json:"notify_thread_id,omitempty"`
	SafetyRating   string `json:"safety_rating,omitempty"`
}

// Eligible reports whether the account should be crawled by the periodic scheduler.
func (a Account) Eligible() bool {
	return a.Status == StatusActive && a.DownloadEnabled && !a.Protected
}

// Post is one archived feed entry.
type Post struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Text       string    `json:"text"`
	PostedAt   time.Time `json:"posted_at"`
	ArchivedAt time.Time `json:"archived_at"`
	Rating     Rating    `json:"rating"`
	Media      []Media   `json:"media,omitempty"`
}

// Media is one file attached to a post.
type Media struct {
	ID          int64  `json:"id"`
	PostID      string `json:"post_id"`
	Type        string `json:"type"`
	OriginalURL string `json:"original_url"`
	LocalPath   string `json:"local_path"`
	Caption     string `json:"caption,omitempty"`
	Index       int    `json:"index"`
	// PerceptualHash is empty for content that could not be decoded as an image.
	PerceptualHash string `json:"perceptual_hash,omitempty"`
	DataHash       string `json:"data_hash"`
	DuplicateOf    *int64 `json:"duplicate_of,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	FileSize       int64  `json:"file_size"`
	Rating         Rating `json:"rating"`
	// OwnRating is set once the media was rated on its own; post ratings skip it from then on.
	OwnRating bool `json:"own_rating"`
}
