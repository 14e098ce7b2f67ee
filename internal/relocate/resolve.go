package relocate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Outcome records where a file was found while relocating it.
type Outcome int

// Possible outcomes of Resolve.
const (
	// Moved means the file was at its recorded path and now sits at the destination.
	Moved Outcome = iota + 1
	// AlreadyAtDestination means an earlier, interrupted run already moved it.
	AlreadyAtDestination
	// Missing means the file exists at neither path.
	Missing
	// Failed means the file was found but could not be moved.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Moved:
		return "moved"
	case AlreadyAtDestination:
		return "already_at_destination"
	case Missing:
		return "missing"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Mover relocates a single file.
type Mover interface {
	Move(src, dst string) error
}

// Resolve reconciles one file with its destination:
//
//	recorded exists             -> move it, Moved
//	only destination exists     -> AlreadyAtDestination
//	neither exists              -> Missing
//
// It touches nothing but the filesystem, so re-running it after a partial
// failure converges on the same state.
func Resolve(recorded, destination string, mover Mover) (Outcome, error) {
	recordedExists, err := exists(recorded)
	if err != nil {
		return Failed, err
	}
	if recordedExists {
		if filepath.Clean(recorded) == filepath.Clean(destination) {
			return AlreadyAtDestination, nil
		}
		if err := mover.Move(recorded, destination); err != nil {
			return Failed, fmt.Errorf("move %s: %w", recorded, err)
		}
		return Moved, nil
	}
	destExists, err := exists(destination)
	if err != nil {
		return Failed, err
	}
	if destExists {
		return AlreadyAtDestination, nil
	}
	return Missing, nil
}

func exists(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return !info.IsDir(), nil
}
