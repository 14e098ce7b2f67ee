package crawl

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoding for perceptual hashes
	_ "image/jpeg" // register JPEG decoding for perceptual hashes
	_ "image/png"  // register PNG decoding for perceptual hashes

	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"  // register BMP decoding for perceptual hashes
	_ "golang.org/x/image/webp" // register WebP decoding for perceptual hashes
)

// sniffExt names the file type of data, or returns "" when it is not recognized.
func sniffExt(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.Extension
}

// decodeImage returns the decoded image when data is an image format the
// process can decode. ok is false for anything else, including video.
func decodeImage(data []byte) (image.Image, bool, error) {
	if !filetype.IsImage(data) {
		return nil, false, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("decode image: %w", err)
	}
	return img, true, nil
}
