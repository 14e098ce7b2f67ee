// Package phash fingerprints decoded images with a DCT perceptual hash so that
// re-encoded copies of the same picture land near each other.
package phash

import (
	"errors"
	"fmt"
	"image"

	"github.com/corona10/goimagehash"
)

// Hasher implements archive.PerceptualHasher.
type Hasher struct{}

// New returns a perceptual hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the 64-bit perceptual hash of img in goimagehash's "p:<hex>" form.
func (h *Hasher) Hash(img image.Image) (string, error) {
	if img == nil {
		return "", errors.New("perceptual hash: nil image")
	}
	sum, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", fmt.Errorf("perceptual hash: %w", err)
	}
	return sum.ToString(), nil
}

// Distance returns the Hamming distance between two hashes produced by Hash.
func Distance(a, b string) (int, error) {
	ha, err := goimagehash.ImageHashFromString(a)
	if err != nil {
		return 0, fmt.Errorf("parse hash %q: %w", a, err)
	}
	hb, err := goimagehash.ImageHashFromString(b)
	if err != nil {
		return 0, fmt.Errorf("parse hash %q: %w", b, err)
	}
	d, err := ha.Distance(hb)
	if err != nil {
		return 0, fmt.Errorf("hash distance: %w", err)
	}
	return d, nil
}
