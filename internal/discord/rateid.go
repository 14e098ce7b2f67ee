package discord

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/feed-archiver/internal/archive"
	"github.com/JakeFAU/feed-archiver/internal/relocate"
)

const ratePrefix = "rate"

// errNotRateButton marks components that belong to someone else.
var errNotRateButton = errors.New("not a rating button")

// RateButton is the decoded custom id of a rating button.
type RateButton struct {
	Axis   archive.Axis
	Value  string
	PostID string
}

// RateButtonID renders the custom id rate:{Axis}:{value}:{postID}.
func RateButtonID(axis archive.Axis, value, postID string) string {
	return strings.Join([]string{ratePrefix, string(axis), value, postID}, ":")
}

// ParseRateButtonID decodes a custom id produced by RateButtonID.
func ParseRateButtonID(id string) (RateButton, error) {
	parts := strings.Split(id, ":")
	if len(parts) != 4 || parts[0] != ratePrefix {
		return RateButton{}, errNotRateButton
	}
	axis, err := archive.ParseAxis(parts[1])
	if err != nil {
		return RateButton{}, fmt.Errorf("button %q: %w", id, err)
	}
	if parts[2] == "" || parts[3] == "" {
		return RateButton{}, fmt.Errorf("button %q: empty value or post id", id)
	}
	return RateButton{Axis: axis, Value: parts[2], PostID: parts[3]}, nil
}

// Request turns the click into a rating request for the post.
func (b RateButton) Request() relocate.Request {
	value := b.Value
	req := relocate.Request{Kind: relocate.TargetPost, PostID: b.PostID}
	if b.Axis == archive.AxisContent {
		req.Content = &value
	} else {
		req.Safety = &value
	}
	return req
}
