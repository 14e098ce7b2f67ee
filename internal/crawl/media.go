package crawl

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/feed-archiver/internal/archive"
)

// ExtUnknown marks media whose type is decided by sniffing the downloaded bytes.
const ExtUnknown = "unknown"

const contentTypeMP4 = "video/mp4"

// Target is where and how one media descriptor is downloaded.
type Target struct {
	Kind archive.MediaKind
	URL  string
	Ext  string
}

// ClassifyMedia derives the download URL and file extension for a descriptor.
// Photos are requested at original size; video-like kinds use the
// highest-bitrate variant.
func ClassifyMedia(d archive.MediaDescriptor) Target {
	switch d.Kind {
	case archive.KindPhoto:
		base, ext, ok := splitExt(d.URL)
		if !ok {
			return Target{Kind: d.Kind, URL: d.URL, Ext: ExtUnknown}
		}
		return Target{Kind: d.Kind, URL: base + "?format=" + ext + "&name=orig", Ext: ext}
	case archive.KindVideo, archive.KindAnimatedGIF:
		v, ok := SelectVariant(d.Variants)
		if !ok {
			return Target{Kind: d.Kind, URL: d.URL, Ext: ExtUnknown}
		}
		ext := ExtUnknown
		if strings.EqualFold(v.ContentType, contentTypeMP4) {
			ext = "mp4"
		}
		return Target{Kind: d.Kind, URL: v.URL, Ext: ext}
	default:
		return Target{Kind: d.Kind, URL: d.URL, Ext: ExtUnknown}
	}
}

// SelectVariant picks the variant with the highest bitrate. On a tie a
// directly playable mp4 beats a streaming manifest.
func SelectVariant(variants []archive.Variant) (archive.Variant, bool) {
	var (
		best  archive.Variant
		found bool
	)
	for _, v := range variants {
		if v.URL == "" {
			continue
		}
		switch {
		case !found:
		case v.Bitrate > best.Bitrate:
		case v.Bitrate == best.Bitrate && isMP4(v) && !isMP4(best):
		default:
			continue
		}
		best, found = v, true
	}
	return best, found
}

func isMP4(v archive.Variant) bool {
	return strings.EqualFold(v.ContentType, contentTypeMP4)
}

// splitExt splits "https://host/media/abc.jpg" into its base and extension.
func splitExt(raw string) (string, string, bool) {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	dot := strings.LastIndex(raw, ".")
	slash := strings.LastIndex(raw, "/")
	if dot <= slash || dot == len(raw)-1 {
		return "", "", false
	}
	return raw[:dot], strings.ToLower(raw[dot+1:]), true
}

var trailingShortLink = regexp.MustCompile(`\s*https?://t\.co/\w+$`)

// CleanText drops the trailing shortened link the feed appends to media posts.
func CleanText(text string) string {
	return trailingShortLink.ReplaceAllString(text, "")
}
